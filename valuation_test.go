package solclash

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream implements the upstream interface for pipeline tests.
type fakeUpstream struct {
	balances    map[string]float64
	holdings    map[string][]TokenHolding
	tokenPrices map[string]float64
	solPrice    float64

	tokenPriceCalls int
}

func (f *fakeUpstream) NativeBalance(_ context.Context, address string) float64 {
	return f.balances[address]
}

func (f *fakeUpstream) TokenHoldings(_ context.Context, address string) []TokenHolding {
	return f.holdings[address]
}

func (f *fakeUpstream) TokenPriceUSD(_ context.Context, mint string) float64 {
	f.tokenPriceCalls++
	return f.tokenPrices[mint]
}

func (f *fakeUpstream) SOLPriceUSD(context.Context) float64 {
	return f.solPrice
}

func TestValuationEngineValuesTokensInSOL(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{
		balances:    map[string]float64{"W1": 0.6},
		holdings:    map[string][]TokenHolding{"W1": {{Mint: "T1", Amount: 1000}}},
		tokenPrices: map[string]float64{"T1": 0.0001},
		solPrice:    20.0,
	}
	engine := NewValuationEngine(up, 0, NewDiscardLogger())

	v := engine.Valuate(context.Background(), "W1", false, nil)

	assert.InDelta(t, 0.6, v.SOL, 1e-12)
	// 1000 tokens * (0.0001 USD / 20 USD per SOL) = 0.005 SOL
	assert.InDelta(t, 0.005, v.TokenValue, 1e-12)
	assert.Equal(t, 1, v.PricedMints)
}

func TestValuationEngineSkipsUnpricedMints(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{
		balances: map[string]float64{"W1": 1.0},
		holdings: map[string][]TokenHolding{"W1": {
			{Mint: "Priced", Amount: 100},
			{Mint: "Unpriced", Amount: 9999},
		}},
		tokenPrices: map[string]float64{"Priced": 0.2},
		solPrice:    20.0,
	}
	engine := NewValuationEngine(up, 0, NewDiscardLogger())

	v := engine.Valuate(context.Background(), "W1", false, nil)

	assert.InDelta(t, 1.0, v.TokenValue, 1e-12)
	assert.Equal(t, 1, v.PricedMints)
}

func TestValuationEngineZeroSOLPriceDropsTokenValue(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{
		balances:    map[string]float64{"W1": 1.0},
		holdings:    map[string][]TokenHolding{"W1": {{Mint: "T1", Amount: 100}}},
		tokenPrices: map[string]float64{"T1": 0.5},
		solPrice:    0,
	}
	engine := NewValuationEngine(up, 0, NewDiscardLogger())

	v := engine.Valuate(context.Background(), "W1", false, nil)

	assert.Zero(t, v.TokenValue)
	assert.Zero(t, v.PricedMints)
}

func TestValuationEngineFreezesTokenValueAfterEnd(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{
		balances:    map[string]float64{"W1": 2.0},
		holdings:    map[string][]TokenHolding{"W1": {{Mint: "T1", Amount: 1000}}},
		tokenPrices: map[string]float64{"T1": 5.0},
		solPrice:    20.0,
	}
	engine := NewValuationEngine(up, 0, NewDiscardLogger())

	prior := &Document{
		Updated: time.Now(),
		Data: []Entry{
			{Wallet: "W1", Tokens: 0.1234},
		},
	}

	v := engine.Valuate(context.Background(), "W1", true, prior)

	require.InDelta(t, 2.0, v.SOL, 1e-12)
	assert.InDelta(t, 0.1234, v.TokenValue, 1e-12, "token value must carry forward, not reprice")
	assert.Zero(t, v.PricedMints)
	assert.Zero(t, up.tokenPriceCalls, "no price lookups after the end boundary")
}

func TestValuationEngineFrozenValueDefaultsToZero(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{balances: map[string]float64{"W1": 2.0}}
	engine := NewValuationEngine(up, 0, NewDiscardLogger())

	v := engine.Valuate(context.Background(), "W1", true, nil)
	assert.Zero(t, v.TokenValue)

	prior := &Document{Data: []Entry{{Wallet: "Other", Tokens: 9}}}
	v = engine.Valuate(context.Background(), "W1", true, prior)
	assert.Zero(t, v.TokenValue)
}

func TestRounding(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.1235, round4(0.123456), 1e-12)
	assert.InDelta(t, 0.1234, round4(0.123449), 1e-12)
	assert.InDelta(t, 21.0, round2(21.0001), 1e-12)
	assert.InDelta(t, -3.13, round2(-3.126), 1e-12)
}
