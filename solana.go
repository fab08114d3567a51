package solclash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	defaultHTTPTimeout = 12 * time.Second
	lamportsPerSOL     = 1_000_000_000

	// splTokenProgramID identifies the SPL Token program that owns fungible
	// token accounts.
	splTokenProgramID = "TokenkegQfeZyiNwAJbNbGKPfvXJ4bKbPDPqbL6tLZvg"

	// wrappedSOLMint is the mint of wrapped SOL, used when pricing the
	// native coin through token market data.
	wrappedSOLMint = "So11111111111111111111111111111111111111112"
)

var rpcRequestCounter uint64

func newRPCRequestID() string {
	counter := atomic.AddUint64(&rpcRequestCounter, 1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), counter)
}

// SolanaClient defines the chain RPC operations the valuation pipeline needs.
type SolanaClient interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
	GetTokenAccountsByOwner(ctx context.Context, owner string) ([]TokenHolding, error)
}

// TokenHolding is one fungible token position, aggregated across the token
// accounts holding the same mint.
type TokenHolding struct {
	Mint   string
	Amount float64
}

// RPCSolanaClient calls a Solana JSON-RPC endpoint.
type RPCSolanaClient struct {
	Endpoint   string
	HTTPClient *http.Client
	Logger     Logger
}

func (c *RPCSolanaClient) logger() Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return discardLogger{}
}

func (c *RPCSolanaClient) endpoint() string {
	if c.Endpoint == "" {
		panic("RPCSolanaClient endpoint not configured")
	}
	return c.Endpoint
}

func (c *RPCSolanaClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	c.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	return c.HTTPClient
}

// GetBalance retrieves the lamport balance for the provided wallet.
func (c *RPCSolanaClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	payload := rpcRequest{
		JSONRPC: "2.0",
		ID:      newRPCRequestID(),
		Method:  "getBalance",
		Params: []any{
			address,
			map[string]string{"commitment": "confirmed"},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	resp, err := c.doRPCRequest(ctx, buf.Bytes())
	if err != nil {
		return 0, fmt.Errorf("rpc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return 0, fmt.Errorf("rpc status %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcGetBalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return 0, fmt.Errorf("rpc error (%d): %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if rpcResp.Result == nil {
		return 0, fmt.Errorf("rpc response missing result")
	}

	return rpcResp.Result.Value, nil
}

// GetTokenAccountsByOwner enumerates SPL token accounts held by the owner and
// aggregates balances by mint. Holdings with a non-positive amount are dropped.
func (c *RPCSolanaClient) GetTokenAccountsByOwner(ctx context.Context, owner string) ([]TokenHolding, error) {
	payload := rpcRequest{
		JSONRPC: "2.0",
		ID:      newRPCRequestID(),
		Method:  "getTokenAccountsByOwner",
		Params: []any{
			owner,
			map[string]string{"programId": splTokenProgramID},
			map[string]string{"encoding": "jsonParsed", "commitment": "confirmed"},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("encode token accounts request: %w", err)
	}

	resp, err := c.doRPCRequest(ctx, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("rpc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("rpc status %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcTokenAccountsResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode token accounts response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error (%d): %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.Result == nil {
		return nil, fmt.Errorf("token accounts response missing result")
	}

	c.logger().Printf("getTokenAccountsByOwner owner=%s accounts=%d", owner, len(rpcResp.Result.Value))

	amounts := make(map[string]float64)
	order := make([]string, 0, len(rpcResp.Result.Value))
	for _, account := range rpcResp.Result.Value {
		parsed := account.Account.Data.Parsed
		if parsed == nil {
			continue
		}
		mint := parsed.Info.Mint
		if mint == "" {
			continue
		}
		amount := parsed.Info.TokenAmount.amount()
		if amount <= 0 {
			continue
		}
		if _, ok := amounts[mint]; !ok {
			order = append(order, mint)
		}
		amounts[mint] += amount
	}

	holdings := make([]TokenHolding, 0, len(order))
	for _, mint := range order {
		holdings = append(holdings, TokenHolding{Mint: mint, Amount: amounts[mint]})
	}
	return holdings, nil
}

// doRPCRequest posts the payload, retrying after the advertised delay when the
// endpoint answers 429 with a Retry-After header.
func (c *RPCSolanaClient) doRPCRequest(ctx context.Context, payload []byte) (*http.Response, error) {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient().Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			c.logger().Printf("429 response headers: %v", resp.Header)
			if delay, ok := retryAfterDelay(resp.Header.Get("Retry-After")); ok {
				resp.Body.Close()
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				case <-timer.C:
					continue
				}
			}
		}

		return resp, nil
	}
}

func retryAfterDelay(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second)), true
	}

	if when, err := http.ParseTime(value); err == nil {
		delay := max(time.Until(when), 0)
		return delay, true
	}

	return 0, false
}

func lamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / lamportsPerSOL
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcGetBalanceResponse struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      string            `json:"id"`
	Result  *rpcBalanceResult `json:"result"`
	Error   *rpcError         `json:"error"`
}

type rpcBalanceResult struct {
	Context rpcContext `json:"context"`
	Value   uint64     `json:"value"`
}

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

type rpcTokenAccountsResponse struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      string                 `json:"id"`
	Result  *rpcTokenAccountsValue `json:"result"`
	Error   *rpcError              `json:"error"`
}

type rpcTokenAccountsValue struct {
	Value []rpcTokenAccount `json:"value"`
}

type rpcTokenAccount struct {
	Pubkey  string              `json:"pubkey"`
	Account rpcTokenAccountInfo `json:"account"`
}

type rpcTokenAccountInfo struct {
	Data rpcTokenAccountData `json:"data"`
}

type rpcTokenAccountData struct {
	Parsed *rpcTokenAccountParsed `json:"parsed"`
}

type rpcTokenAccountParsed struct {
	Info rpcTokenInfo `json:"info"`
}

type rpcTokenInfo struct {
	Mint        string         `json:"mint"`
	TokenAmount rpcTokenAmount `json:"tokenAmount"`
}

type rpcTokenAmount struct {
	UIAmount *float64 `json:"uiAmount"`
	Amount   string   `json:"amount"`
	Decimals int      `json:"decimals"`
}

// amount returns the human-denominated balance, falling back to the raw
// amount scaled by decimals when uiAmount is null.
func (a rpcTokenAmount) amount() float64 {
	if a.UIAmount != nil {
		return *a.UIAmount
	}
	if a.Amount == "" {
		return 0
	}
	raw, err := strconv.ParseFloat(a.Amount, 64)
	if err != nil {
		return 0
	}
	return raw / math.Pow10(a.Decimals)
}
