package solclash

import (
	"context"
	"math"
	"time"
)

// upstream is the slice of Gateway the valuation pipeline consumes.
type upstream interface {
	NativeBalance(ctx context.Context, address string) float64
	TokenHoldings(ctx context.Context, address string) []TokenHolding
	TokenPriceUSD(ctx context.Context, mint string) float64
	SOLPriceUSD(ctx context.Context) float64
}

// Valuation is the computed worth of one wallet for one cycle.
type Valuation struct {
	// SOL is the live native balance, always freshly fetched.
	SOL float64
	// TokenValue is the SOL-denominated value of all priced token holdings,
	// or the carried-forward value once the contest has ended.
	TokenValue float64
	// PricedMints counts distinct mints that resolved to a positive price
	// this cycle. Zero after contest end.
	PricedMints int
}

// ValuationEngine values a single wallet: native balance plus token holdings
// converted to SOL through USD prices. After the contest end boundary the
// token value is frozen to the prior document's figure.
type ValuationEngine struct {
	upstream       upstream
	logger         Logger
	interCallDelay time.Duration
	sleep          func(context.Context, time.Duration)
}

func NewValuationEngine(up upstream, interCallDelay time.Duration, logger Logger) *ValuationEngine {
	return &ValuationEngine{
		upstream:       up,
		logger:         logger,
		interCallDelay: interCallDelay,
		sleep:          sleepCtx,
	}
}

// Valuate computes the wallet's valuation. It never returns an error: every
// upstream failure has already been degraded to a zero value by the gateway.
func (e *ValuationEngine) Valuate(ctx context.Context, wallet string, ended bool, prior *Document) Valuation {
	log := WalletLogger(e.logger, wallet)

	sol := e.upstream.NativeBalance(ctx, wallet)
	log.Printf("sol balance %.9f", sol)

	if ended {
		frozen := priorTokenValue(prior, wallet)
		log.Printf("contest ended, frozen token value %.4f", frozen)
		return Valuation{SOL: sol, TokenValue: frozen}
	}

	holdings := e.upstream.TokenHoldings(ctx, wallet)
	if len(holdings) == 0 {
		return Valuation{SOL: sol}
	}
	log.Printf("holdings mints=%d", len(holdings))

	solUSD := e.upstream.SOLPriceUSD(ctx)

	var tokenValue float64
	var priced int
	for i, holding := range holdings {
		if i > 0 {
			e.sleep(ctx, e.interCallDelay)
		}
		tokenUSD := e.upstream.TokenPriceUSD(ctx, holding.Mint)
		if tokenUSD <= 0 || solUSD <= 0 {
			log.Printf("skipping mint=%s tokenUsd=%f solUsd=%f", holding.Mint, tokenUSD, solUSD)
			continue
		}
		value := holding.Amount * (tokenUSD / solUSD)
		tokenValue += value
		priced++
		log.Printf("mint=%s amount=%f valueSol=%f", holding.Mint, holding.Amount, value)
	}

	return Valuation{SOL: sol, TokenValue: tokenValue, PricedMints: priced}
}

// priorTokenValue looks up the wallet's persisted token value. Missing
// document or entry means 0.
func priorTokenValue(prior *Document, wallet string) float64 {
	if prior == nil {
		return 0
	}
	for _, entry := range prior.Data {
		if entry.Wallet == wallet {
			return entry.Tokens
		}
	}
	return 0
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
