package solclash

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
)

const heliusBalancesTemplate = "https://api.helius.xyz/v0/addresses/%s/balances?api-key=%s"

// HeliusClient queries the Helius balances aggregator. It serves as the
// secondary token-balance source when the chain RPC yields nothing.
type HeliusClient struct {
	APIKey     string
	HTTPClient *http.Client
	Logger     Logger
}

func (c *HeliusClient) logger() Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return discardLogger{}
}

// TokenBalances fetches the wallet's token holdings, aggregated by mint.
// Raw integer amounts are scaled by each token's decimals.
func (c *HeliusClient) TokenBalances(ctx context.Context, wallet string) ([]TokenHolding, error) {
	if c == nil || strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("helius api key not configured")
	}

	endpoint := fmt.Sprintf(heliusBalancesTemplate, url.PathEscape(wallet), url.QueryEscape(c.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build helius request: %w", err)
	}

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("helius request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("helius status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read helius response: %w", err)
	}

	var payload heliusBalancesPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode helius response: %w", err)
	}

	c.logger().Printf("helius balances wallet=%s tokens=%d", wallet, len(payload.Tokens))

	amounts := make(map[string]float64)
	order := make([]string, 0, len(payload.Tokens))
	for _, token := range payload.Tokens {
		if token.Mint == "" {
			continue
		}
		amount := float64(token.Amount) / math.Pow10(token.Decimals)
		if amount <= 0 {
			continue
		}
		if _, ok := amounts[token.Mint]; !ok {
			order = append(order, token.Mint)
		}
		amounts[token.Mint] += amount
	}

	holdings := make([]TokenHolding, 0, len(order))
	for _, mint := range order {
		holdings = append(holdings, TokenHolding{Mint: mint, Amount: amounts[mint]})
	}
	return holdings, nil
}

type heliusBalancesPayload struct {
	Tokens []heliusToken `json:"tokens"`
	// NativeBalance is reported by the API but unused; the chain RPC is
	// authoritative for SOL balances.
	NativeBalance int64 `json:"nativeBalance"`
}

type heliusToken struct {
	Mint     string `json:"mint"`
	Amount   int64  `json:"amount"`
	Decimals int    `json:"decimals"`
}
