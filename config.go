package solclash

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mr-tron/base58"
)

// Config holds all runtime configuration, loaded once at startup and passed
// into component constructors. Components never read the environment
// themselves.
type Config struct {
	ListenAddr string `env:"SOLCLASH_LISTEN_ADDR" envDefault:":8080"`

	RPCEndpoint  string `env:"SOLCLASH_RPC_ENDPOINT" envDefault:"https://api.mainnet-beta.solana.com"`
	HeliusAPIKey string `env:"SOLCLASH_HELIUS_API_KEY"`

	// UpdateToken is the shared secret for the manual-refresh endpoint.
	UpdateToken string `env:"SOLCLASH_UPDATE_TOKEN"`

	WinnerPotWallet  string `env:"SOLCLASH_WINNER_POT_WALLET"`
	ChallengeEndDate string `env:"SOLCLASH_CHALLENGE_END_DATE"`

	CacheTimeout  time.Duration `env:"SOLCLASH_CACHE_TIMEOUT" envDefault:"30s"`
	TokenPriceTTL time.Duration `env:"SOLCLASH_TOKEN_PRICE_TTL" envDefault:"120s"`
	SOLPriceTTL   time.Duration `env:"SOLCLASH_SOL_PRICE_TTL" envDefault:"60s"`

	WalletsFile       string `env:"SOLCLASH_WALLETS_FILE" envDefault:"config/wallets.json"`
	StartBalancesFile string `env:"SOLCLASH_START_BALANCES_FILE" envDefault:"data/start_sol_balances.json"`
	DataFile          string `env:"SOLCLASH_DATA_FILE" envDefault:"data/leaderboard.json"`
	LockFile          string `env:"SOLCLASH_LOCK_FILE" envDefault:"data/update.lock"`

	HTTPTimeout    time.Duration `env:"SOLCLASH_HTTP_TIMEOUT" envDefault:"12s"`
	InterCallDelay time.Duration `env:"SOLCLASH_INTER_CALL_DELAY" envDefault:"200ms"`
	FallbackDelay  time.Duration `env:"SOLCLASH_FALLBACK_DELAY" envDefault:"1s"`

	PriceCacheMaxEntries int `env:"SOLCLASH_PRICE_CACHE_MAX_ENTRIES" envDefault:"512"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// challengeEndFormats lists the accepted end-date layouts. RFC3339 is
// canonical; the space-separated form matches hand-edited config values.
var challengeEndFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ChallengeEnd parses the configured contest end date as UTC. A zero time
// with an error means the value is missing or unparsable; callers fall back
// to treating the contest as still running.
func (c Config) ChallengeEnd() (time.Time, error) {
	raw := strings.TrimSpace(c.ChallengeEndDate)
	if raw == "" {
		return time.Time{}, fmt.Errorf("challenge end date not configured")
	}
	for _, layout := range challengeEndFormats {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable challenge end date %q", raw)
}

// WalletEntry is one tracked contest participant.
type WalletEntry struct {
	Username string `json:"username"`
	Wallet   string `json:"wallet"`
}

// LoadWallets reads the tracked wallet list. Entries with an invalid
// base58 address are skipped with a warning rather than failing the cycle;
// duplicate addresses keep the first occurrence. A missing username falls
// back to the address prefix.
func LoadWallets(path string, logger Logger) ([]WalletEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallets file: %w", err)
	}

	var raw []WalletEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode wallets file: %w", err)
	}

	wallets := make([]WalletEntry, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, entry := range raw {
		entry.Wallet = strings.TrimSpace(entry.Wallet)
		if !validWalletAddress(entry.Wallet) {
			if logger != nil {
				logger.Printf("skipping invalid wallet address %q", entry.Wallet)
			}
			continue
		}
		if _, ok := seen[entry.Wallet]; ok {
			if logger != nil {
				logger.Printf("skipping duplicate wallet address %s", entry.Wallet)
			}
			continue
		}
		seen[entry.Wallet] = struct{}{}
		if entry.Username == "" {
			entry.Username = entry.Wallet[:6]
		}
		wallets = append(wallets, entry)
	}
	return wallets, nil
}

// validWalletAddress checks that the address decodes as base58 to a 32-byte
// public key.
func validWalletAddress(address string) bool {
	if address == "" {
		return false
	}
	decoded, err := base58.Decode(address)
	if err != nil {
		return false
	}
	return len(decoded) == 32
}

// LoadStartBalances reads the wallet -> starting SOL balance snapshot
// captured at contest start. The mapping is read-only to the pipeline.
func LoadStartBalances(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read start balances file: %w", err)
	}

	balances := make(map[string]float64)
	if err := json.Unmarshal(data, &balances); err != nil {
		return nil, fmt.Errorf("decode start balances file: %w", err)
	}
	return balances, nil
}
