package solclash

import (
	"context"
	"sort"
	"time"
)

// Badge names attached to leaderboard entries.
const (
	BadgeTopGainer  = "top_gainer"
	BadgeMostActive = "most_active"
)

// Entry is one ranked participant. Field names are the on-disk contract
// consumed by the front end; amounts are SOL-denominated.
type Entry struct {
	Username  string   `json:"username"`
	Wallet    string   `json:"wallet"`
	SOL       float64  `json:"sol"`
	Tokens    float64  `json:"tokens"`
	Total     float64  `json:"total"`
	ChangePct float64  `json:"change_pct"`
	Badges    []string `json:"badges,omitempty"`
}

// WinnerPot is the prize wallet's balance shown alongside the ranking.
type WinnerPot struct {
	Wallet   string  `json:"wallet"`
	Balance  float64 `json:"balance"`
	USDValue float64 `json:"usd_value,omitempty"`
}

// Document is the persisted leaderboard, sorted descending by the active
// ranking key: total while the contest runs, native balance once it ended.
type Document struct {
	Updated          time.Time `json:"updated"`
	Data             []Entry   `json:"data"`
	WinnerPot        WinnerPot `json:"winner_pot"`
	ChallengeEnded   bool      `json:"challenge_ended"`
	ChallengeEndDate string    `json:"challenge_end_date"`
}

// rankingKey is the value entries are ordered by under the given contest state.
func (e Entry) rankingKey(ended bool) float64 {
	if ended {
		return e.SOL
	}
	return e.Total
}

// Aggregator runs one full aggregation cycle over all tracked wallets.
type Aggregator struct {
	upstream upstream
	engine   *ValuationEngine
	cfg      Config
	logger   Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration)
}

func NewAggregator(cfg Config, up upstream, logger Logger) *Aggregator {
	return &Aggregator{
		upstream: up,
		engine:   NewValuationEngine(up, cfg.InterCallDelay, logger),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Run produces a fresh document. prior is the last persisted document, used
// for the frozen token values after the contest end boundary; it may be nil.
//
// Per-wallet failures degrade to zero values and never fail the cycle; only
// unreadable wallet or starting-balance files do.
func (a *Aggregator) Run(ctx context.Context, prior *Document) (*Document, error) {
	ended, endDate := a.contestState()

	wallets, err := LoadWallets(a.cfg.WalletsFile, a.logger)
	if err != nil {
		return nil, err
	}
	starts, err := LoadStartBalances(a.cfg.StartBalancesFile)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(wallets))
	pricedMints := make([]int, 0, len(wallets))
	for i, wallet := range wallets {
		start, ok := starts[wallet.Wallet]
		if !ok {
			a.logf("no start balance recorded wallet=%s, skipping", wallet.Wallet)
			continue
		}

		if i > 0 {
			a.sleep(ctx, a.cfg.InterCallDelay)
		}

		valuation := a.engine.Valuate(ctx, wallet.Wallet, ended, prior)
		total := valuation.SOL + valuation.TokenValue

		changePct := 0.0
		if start > 0 {
			changePct = (total - start) / start * 100
		}

		entries = append(entries, Entry{
			Username:  wallet.Username,
			Wallet:    wallet.Wallet,
			SOL:       round4(valuation.SOL),
			Tokens:    round4(valuation.TokenValue),
			Total:     round4(total),
			ChangePct: round2(changePct),
		})
		pricedMints = append(pricedMints, valuation.PricedMints)
	}

	sortEntries(entries, pricedMints, ended)
	applyBadges(entries, pricedMints, ended)

	doc := &Document{
		Updated:        a.now().UTC(),
		Data:           entries,
		ChallengeEnded: ended,
	}
	if !endDate.IsZero() {
		doc.ChallengeEndDate = endDate.Format(time.RFC3339)
	}

	if a.cfg.WinnerPotWallet != "" {
		doc.WinnerPot = a.winnerPot(ctx)
	}

	return doc, nil
}

// contestState resolves the contest clock. A missing or unparsable end date
// is a configuration error: logged at error severity, contest treated as
// still running so valuations keep updating.
func (a *Aggregator) contestState() (bool, time.Time) {
	endDate, err := a.cfg.ChallengeEnd()
	if err != nil {
		a.logf("ERROR: %v, treating contest as active", err)
		return false, time.Time{}
	}
	return !a.now().UTC().Before(endDate), endDate
}

func (a *Aggregator) winnerPot(ctx context.Context) WinnerPot {
	pot := WinnerPot{
		Wallet:  a.cfg.WinnerPotWallet,
		Balance: round4(a.upstream.NativeBalance(ctx, a.cfg.WinnerPotWallet)),
	}
	if solUSD := a.upstream.SOLPriceUSD(ctx); solUSD > 0 {
		pot.USDValue = round2(pot.Balance * solUSD)
	}
	return pot
}

// sortEntries orders entries descending by the active ranking key. The sort
// is stable so ties keep config order; pricedMints moves with its entry.
func sortEntries(entries []Entry, pricedMints []int, ended bool) {
	type ranked struct {
		entry Entry
		mints int
	}
	combined := make([]ranked, len(entries))
	for i := range entries {
		combined[i] = ranked{entry: entries[i], mints: pricedMints[i]}
	}
	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].entry.rankingKey(ended) > combined[j].entry.rankingKey(ended)
	})
	for i := range combined {
		entries[i] = combined[i].entry
		pricedMints[i] = combined[i].mints
	}
}

// applyBadges decorates entries: top_gainer for the best positive change,
// most_active for the most distinct priced mints (pre-end only, since token
// data is frozen afterwards). Ties go to the higher-ranked entry.
func applyBadges(entries []Entry, pricedMints []int, ended bool) {
	gainer := -1
	bestChange := 0.0
	for i, entry := range entries {
		if entry.ChangePct > bestChange {
			bestChange = entry.ChangePct
			gainer = i
		}
	}
	if gainer >= 0 {
		entries[gainer].Badges = append(entries[gainer].Badges, BadgeTopGainer)
	}

	if ended {
		return
	}
	active := -1
	bestMints := 0
	for i, mints := range pricedMints {
		if mints > bestMints {
			bestMints = mints
			active = i
		}
	}
	if active >= 0 {
		entries[active].Badges = append(entries[active].Badges, BadgeMostActive)
	}
}

func (a *Aggregator) logf(format string, args ...any) {
	if a.logger == nil {
		return
	}
	a.logger.Printf(format, args...)
}
