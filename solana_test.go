package solclash

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestRPCSolanaClientGetBalance(t *testing.T) {
	t.Parallel()

	var capturedRequest rpcRequest

	client := &RPCSolanaClient{
		Endpoint: "http://solana.test",
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
				if req.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", req.Method)
				}

				defer req.Body.Close()
				var body rpcRequest
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode request: %v", err)
				}
				capturedRequest = body

				resp := rpcGetBalanceResponse{
					JSONRPC: "2.0",
					ID:      "1",
					Result: &rpcBalanceResult{
						Context: rpcContext{Slot: 123},
						Value:   789000000,
					},
				}

				var buf bytes.Buffer
				if err := json.NewEncoder(&buf).Encode(resp); err != nil {
					t.Fatalf("failed to encode response: %v", err)
				}

				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(bytes.NewReader(buf.Bytes())),
					Header:     make(http.Header),
				}, nil
			}),
		},
	}

	got, err := client.GetBalance(context.Background(), "4Nd1mYFHGQMiZ1ZkZZgwyUrKvYzUKGwEuUXXSb9Qe7CG")
	if err != nil {
		t.Fatalf("GetBalance returned error: %v", err)
	}

	if capturedRequest.Method != "getBalance" {
		t.Fatalf("unexpected rpc method %q", capturedRequest.Method)
	}

	if len(capturedRequest.Params) == 0 || capturedRequest.Params[0] != "4Nd1mYFHGQMiZ1ZkZZgwyUrKvYzUKGwEuUXXSb9Qe7CG" {
		t.Fatalf("unexpected params: %#v", capturedRequest.Params)
	}

	if got != 789000000 {
		t.Fatalf("unexpected balance: got %d want %d", got, 789000000)
	}
}

func TestRPCSolanaClientGetBalanceReturnsRPCError(t *testing.T) {
	t.Parallel()

	client := &RPCSolanaClient{
		Endpoint: "http://solana.test",
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(_ *http.Request) (*http.Response, error) {
				resp := rpcGetBalanceResponse{
					JSONRPC: "2.0",
					ID:      "1",
					Error: &rpcError{
						Code:    -32602,
						Message: "invalid address",
					},
				}
				var buf bytes.Buffer
				if err := json.NewEncoder(&buf).Encode(resp); err != nil {
					t.Fatalf("failed to encode response: %v", err)
				}
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(bytes.NewReader(buf.Bytes())),
					Header:     make(http.Header),
				}, nil
			}),
		},
	}

	_, err := client.GetBalance(context.Background(), "bad")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "invalid address") {
		t.Fatalf("error missing rpc message: %v", err)
	}
}

func TestRPCSolanaClientGetTokenAccountsByOwnerAggregatesByMint(t *testing.T) {
	t.Parallel()

	client := &RPCSolanaClient{
		Endpoint: "http://solana.test",
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
				defer req.Body.Close()
				var payload rpcRequest
				if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
					t.Fatalf("failed to decode payload: %v", err)
				}
				if payload.Method != "getTokenAccountsByOwner" {
					t.Fatalf("unexpected method %s", payload.Method)
				}

				resp := `{
					"jsonrpc":"2.0",
					"id":"1",
					"result":{
						"value":[
							{
								"pubkey":"Acct1",
								"account":{"data":{"parsed":{"info":{
									"mint":"MintA",
									"tokenAmount":{"uiAmount":100.5,"amount":"100500000","decimals":6}
								}}}}
							},
							{
								"pubkey":"Acct2",
								"account":{"data":{"parsed":{"info":{
									"mint":"MintB",
									"tokenAmount":{"uiAmount":null,"amount":"2500000000","decimals":9}
								}}}}
							},
							{
								"pubkey":"Acct3",
								"account":{"data":{"parsed":{"info":{
									"mint":"MintA",
									"tokenAmount":{"uiAmount":9.5,"amount":"9500000","decimals":6}
								}}}}
							},
							{
								"pubkey":"Acct4",
								"account":{"data":{"parsed":{"info":{
									"mint":"MintEmpty",
									"tokenAmount":{"uiAmount":0,"amount":"0","decimals":6}
								}}}}
							}
						]
					}
				}`

				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(strings.NewReader(resp)),
					Header:     make(http.Header),
				}, nil
			}),
		},
	}

	holdings, err := client.GetTokenAccountsByOwner(context.Background(), "Owner111")
	if err != nil {
		t.Fatalf("GetTokenAccountsByOwner returned error: %v", err)
	}

	if len(holdings) != 2 {
		t.Fatalf("expected 2 holdings, got %d: %#v", len(holdings), holdings)
	}
	if holdings[0].Mint != "MintA" || math.Abs(holdings[0].Amount-110.0) > 1e-9 {
		t.Fatalf("MintA not aggregated across accounts: %#v", holdings[0])
	}
	if holdings[1].Mint != "MintB" || math.Abs(holdings[1].Amount-2.5) > 1e-9 {
		t.Fatalf("MintB raw amount not scaled by decimals: %#v", holdings[1])
	}
}

func TestRPCSolanaClientRetriesAfter429(t *testing.T) {
	var calls int

	client := &RPCSolanaClient{
		Endpoint: "http://solana.test",
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
				calls++
				if calls == 1 {
					resp := &http.Response{
						StatusCode: http.StatusTooManyRequests,
						Body:       io.NopCloser(strings.NewReader("limit")),
						Header:     make(http.Header),
					}
					resp.Header.Set("Retry-After", "0.01")
					return resp, nil
				}

				resp := rpcGetBalanceResponse{
					JSONRPC: "2.0",
					ID:      "1",
					Result: &rpcBalanceResult{
						Context: rpcContext{Slot: 999},
						Value:   42,
					},
				}
				var buf bytes.Buffer
				if err := json.NewEncoder(&buf).Encode(resp); err != nil {
					t.Fatalf("failed to encode response: %v", err)
				}
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(bytes.NewReader(buf.Bytes())),
					Header:     make(http.Header),
				}, nil
			}),
		},
	}

	start := time.Now()
	balance, err := client.GetBalance(context.Background(), "addr")
	if err != nil {
		t.Fatalf("GetBalance returned error: %v", err)
	}

	if balance != 42 {
		t.Fatalf("unexpected balance %d", balance)
	}

	elapsed := time.Since(start)
	if elapsed < 10*time.Millisecond {
		t.Fatalf("expected retry delay, elapsed %v", elapsed)
	}

	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRPCSolanaClientDoesNotRetryWithoutRetryAfter(t *testing.T) {
	var calls int

	client := &RPCSolanaClient{
		Endpoint: "http://solana.test",
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
				calls++
				return &http.Response{
					StatusCode: http.StatusTooManyRequests,
					Body:       io.NopCloser(strings.NewReader("limit")),
					Header:     make(http.Header),
				}, nil
			}),
		},
	}

	_, err := client.GetBalance(context.Background(), "addr")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if calls != 1 {
		t.Fatalf("expected single request, got %d", calls)
	}
}

func TestRetryAfterDelay(t *testing.T) {
	t.Parallel()

	if _, ok := retryAfterDelay(""); ok {
		t.Fatal("empty header should not yield a delay")
	}
	if d, ok := retryAfterDelay("2"); !ok || d != 2*time.Second {
		t.Fatalf("unexpected delay for seconds value: %v %v", d, ok)
	}
	if d, ok := retryAfterDelay("0.5"); !ok || d != 500*time.Millisecond {
		t.Fatalf("unexpected delay for fractional value: %v %v", d, ok)
	}
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if d, ok := retryAfterDelay(past); !ok || d != 0 {
		t.Fatalf("past HTTP date should clamp to zero, got %v %v", d, ok)
	}
}

func TestLamportsToSOL(t *testing.T) {
	t.Parallel()

	if got := lamportsToSOL(1_500_000_000); math.Abs(got-1.5) > 1e-12 {
		t.Fatalf("unexpected conversion: %f", got)
	}
	if got := lamportsToSOL(0); got != 0 {
		t.Fatalf("expected zero, got %f", got)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
