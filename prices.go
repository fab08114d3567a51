package solclash

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	dexScreenerTokensTemplate = "https://api.dexscreener.com/latest/dex/tokens/%s"
	jupiterPriceTemplate      = "https://price.jup.ag/v4/price?ids=%s&vsToken=USDC"
)

// DexScreenerClient resolves token spot prices from the highest-liquidity
// trading pair reported by DexScreener.
type DexScreenerClient struct {
	HTTPClient *http.Client
	Logger     Logger
}

func (c *DexScreenerClient) logger() Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return discardLogger{}
}

// TokenPriceUSD returns the USD spot price for the mint, or 0 when no pair
// reports a positive price. Pairs are ranked by USD liquidity; if the mint is
// the pair's quote asset, the reciprocal of the pair price is used.
func (c *DexScreenerClient) TokenPriceUSD(ctx context.Context, mint string) (float64, error) {
	endpoint := fmt.Sprintf(dexScreenerTokensTemplate, url.PathEscape(mint))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build dexscreener request: %w", err)
	}

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("dexscreener request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return 0, fmt.Errorf("dexscreener status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read dexscreener response: %w", err)
	}

	var payload dexScreenerPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("decode dexscreener response: %w", err)
	}

	if len(payload.Pairs) == 0 {
		c.logger().Printf("dexscreener no pairs mint=%s", mint)
		return 0, nil
	}

	pairs := make([]dexScreenerPair, len(payload.Pairs))
	copy(pairs, payload.Pairs)
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Liquidity.USD > pairs[j].Liquidity.USD
	})

	for _, pair := range pairs {
		price := pair.priceUSD()
		if price <= 0 {
			continue
		}
		switch mint {
		case pair.BaseToken.Address:
			return price, nil
		case pair.QuoteToken.Address:
			return 1 / price, nil
		}
	}

	c.logger().Printf("dexscreener no priced pair mint=%s pairs=%d", mint, len(pairs))
	return 0, nil
}

type dexScreenerPayload struct {
	Pairs []dexScreenerPair `json:"pairs"`
}

type dexScreenerPair struct {
	BaseToken  dexScreenerToken     `json:"baseToken"`
	QuoteToken dexScreenerToken     `json:"quoteToken"`
	PriceUSD   string               `json:"priceUsd"`
	Liquidity  dexScreenerLiquidity `json:"liquidity"`
}

type dexScreenerToken struct {
	Address string `json:"address"`
}

type dexScreenerLiquidity struct {
	USD float64 `json:"usd"`
}

// priceUSD parses the string-typed priceUsd field, defaulting to 0.
func (p dexScreenerPair) priceUSD() float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(p.PriceUSD), 64)
	if err != nil {
		return 0
	}
	return value
}

// JupiterClient fetches the SOL/USD price from the Jupiter price feed, the
// primary source for the native coin.
type JupiterClient struct {
	HTTPClient *http.Client
	Logger     Logger
}

func (c *JupiterClient) logger() Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return discardLogger{}
}

// SOLPriceUSD returns the wrapped-SOL price in USDC. A missing or
// non-positive price is an error so callers can try the fallback source.
func (c *JupiterClient) SOLPriceUSD(ctx context.Context) (float64, error) {
	endpoint := fmt.Sprintf(jupiterPriceTemplate, wrappedSOLMint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build jupiter request: %w", err)
	}

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("jupiter request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return 0, fmt.Errorf("jupiter status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload jupiterPricePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode jupiter response: %w", err)
	}

	entry, ok := payload.Data[wrappedSOLMint]
	if !ok || entry.Price <= 0 {
		return 0, fmt.Errorf("jupiter response missing positive SOL price")
	}

	c.logger().Printf("jupiter sol price usd=%.4f", entry.Price)
	return entry.Price, nil
}

type jupiterPricePayload struct {
	Data map[string]jupiterPriceEntry `json:"data"`
}

type jupiterPriceEntry struct {
	Price float64 `json:"price"`
}
