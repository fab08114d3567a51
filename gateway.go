package solclash

import (
	"context"
	"time"
)

// tokenBalanceSource is implemented by the fallback token-balance aggregator.
type tokenBalanceSource interface {
	TokenBalances(ctx context.Context, wallet string) ([]TokenHolding, error)
}

// tokenPriceSource resolves USD spot prices per mint.
type tokenPriceSource interface {
	TokenPriceUSD(ctx context.Context, mint string) (float64, error)
}

// solPriceSource resolves the native coin's USD price.
type solPriceSource interface {
	SOLPriceUSD(ctx context.Context) (float64, error)
}

// Gateway fronts all upstream services with the pipeline's failure semantics:
// per-wallet and per-token failures degrade to zero values and never abort a
// cycle. Prices flow through the quote caches.
type Gateway struct {
	solana      SolanaClient
	fallback    tokenBalanceSource
	tokenPrices tokenPriceSource
	solPrices   solPriceSource

	tokenQuotes *quoteCache
	solQuotes   *quoteCache

	fallbackDelay time.Duration
	logger        Logger
	sleep         func(context.Context, time.Duration)
}

// NewGateway wires the upstream clients from configuration. All clients share
// one limiter registry so per-host rate caps hold across sources.
func NewGateway(cfg Config, logger Logger) *Gateway {
	registry := newLimiterRegistry()

	solana := &RPCSolanaClient{
		Endpoint:   cfg.RPCEndpoint,
		HTTPClient: newUpstreamHTTPClient(cfg.RPCEndpoint, registry, cfg.HTTPTimeout, externalResponseCounts),
		Logger:     logger,
	}

	var fallback tokenBalanceSource
	if cfg.HeliusAPIKey != "" {
		fallback = &HeliusClient{
			APIKey:     cfg.HeliusAPIKey,
			HTTPClient: newUpstreamHTTPClient("https://api.helius.xyz", registry, cfg.HTTPTimeout, externalResponseCounts),
			Logger:     logger,
		}
	}

	dex := &DexScreenerClient{
		HTTPClient: newUpstreamHTTPClient("https://api.dexscreener.com", registry, cfg.HTTPTimeout, externalResponseCounts),
		Logger:     logger,
	}
	jup := &JupiterClient{
		HTTPClient: newUpstreamHTTPClient("https://price.jup.ag", registry, cfg.HTTPTimeout, externalResponseCounts),
		Logger:     logger,
	}

	return &Gateway{
		solana:        solana,
		fallback:      fallback,
		tokenPrices:   dex,
		solPrices:     jup,
		tokenQuotes:   newQuoteCache(cfg.TokenPriceTTL, cfg.PriceCacheMaxEntries, logger),
		solQuotes:     newQuoteCache(cfg.SOLPriceTTL, 1, logger),
		fallbackDelay: cfg.FallbackDelay,
		logger:        logger,
		sleep:         sleepCtx,
	}
}

// NativeBalance fetches the wallet's SOL balance. Any failure degrades to 0;
// callers treat 0 as "unknown", not verified empty.
func (g *Gateway) NativeBalance(ctx context.Context, address string) float64 {
	lamports, err := g.solana.GetBalance(ctx, address)
	if err != nil {
		g.logf("native balance fetch failed wallet=%s error=%v", address, err)
		return 0
	}
	return lamportsToSOL(lamports)
}

// TokenHoldings enumerates the wallet's token positions. The chain RPC is the
// primary source; an error or empty result falls through to the aggregator
// after a short delay. Both sources failing yields an empty set, never an
// error.
func (g *Gateway) TokenHoldings(ctx context.Context, address string) []TokenHolding {
	holdings, err := g.solana.GetTokenAccountsByOwner(ctx, address)
	if err != nil {
		g.logf("token holdings rpc failed wallet=%s error=%v", address, err)
	}
	if len(holdings) > 0 {
		return holdings
	}

	if g.fallback == nil {
		return nil
	}

	g.logf("token holdings falling back to aggregator wallet=%s", address)
	g.sleep(ctx, g.fallbackDelay)

	holdings, err = g.fallback.TokenBalances(ctx, address)
	if err != nil {
		g.logf("token holdings fallback failed wallet=%s error=%v", address, err)
		return nil
	}
	return holdings
}

// TokenPriceUSD resolves a mint's USD spot price through the quote cache.
func (g *Gateway) TokenPriceUSD(ctx context.Context, mint string) float64 {
	return g.tokenQuotes.Price(ctx, mint, func(ctx context.Context) (float64, error) {
		return g.tokenPrices.TokenPriceUSD(ctx, mint)
	})
}

// SOLPriceUSD resolves the native coin's USD price: primary feed first, then
// the token market-data source queried for the wrapped-SOL mint.
func (g *Gateway) SOLPriceUSD(ctx context.Context) float64 {
	return g.solQuotes.Price(ctx, solPriceKey, func(ctx context.Context) (float64, error) {
		price, err := g.solPrices.SOLPriceUSD(ctx)
		if err == nil && price > 0 {
			return price, nil
		}
		if err != nil {
			g.logf("sol price primary failed error=%v", err)
		}
		g.sleep(ctx, g.fallbackDelay)
		return g.tokenPrices.TokenPriceUSD(ctx, wrappedSOLMint)
	})
}

func (g *Gateway) logf(format string, args ...any) {
	if g.logger == nil {
		return
	}
	g.logger.Printf(format, args...)
}

// sleepCtx pauses for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
