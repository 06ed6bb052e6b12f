package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderIntentValidate(t *testing.T) {
	ok := OrderIntent{Symbol: "BTC", USDMargin: 10, Leverage: 5, TakeProfitPct: 0.02, StopLossPct: 0.01}
	require.NoError(t, ok.Validate())

	cases := map[string]func(*OrderIntent){
		"blank symbol":   func(i *OrderIntent) { i.Symbol = "  " },
		"zero margin":    func(i *OrderIntent) { i.USDMargin = 0 },
		"zero leverage":  func(i *OrderIntent) { i.Leverage = 0 },
		"negative tp":    func(i *OrderIntent) { i.TakeProfitPct = -0.1 },
		"stop loss of 1": func(i *OrderIntent) { i.StopLossPct = 1 },
		"nan margin":     func(i *OrderIntent) { i.USDMargin = math.NaN() },
		"inf margin":     func(i *OrderIntent) { i.USDMargin = math.Inf(1) },
		"nan tp":         func(i *OrderIntent) { i.TakeProfitPct = math.NaN() },
		"inf tp":         func(i *OrderIntent) { i.TakeProfitPct = math.Inf(1) },
		"nan sl":         func(i *OrderIntent) { i.StopLossPct = math.NaN() },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := ok
			mutate(&in)
			assert.ErrorIs(t, in.Validate(), ErrInvalidIntent)
		})
	}
}

func TestOrderIntentNotionalAndSide(t *testing.T) {
	in := OrderIntent{USDMargin: 12.5, Leverage: 4}
	assert.Equal(t, 50.0, in.Notional())
	assert.Equal(t, "buy", in.Side())
	in.IsAsk = true
	assert.Equal(t, "sell", in.Side())
}

func TestMarginModeString(t *testing.T) {
	assert.Equal(t, "cross", MarginCross.String())
	assert.Equal(t, "isolated", MarginIsolated.String())
}

func TestLegResultOK(t *testing.T) {
	assert.False(t, LegResult{}.OK())
	assert.True(t, LegResult{Attempts: 1}.OK())
	assert.False(t, LegResult{Attempts: 1, Skipped: true}.OK())
	assert.False(t, LegResult{Attempts: 2, Err: errors.New("x"), Error: "x"}.OK())
}

func TestTradeResultRoundTripKeepsLegFailure(t *testing.T) {
	res := TradeResult{
		State:      StateDone,
		Entry:      LegResult{Leg: OrderKindMarket, Attempts: 1, TxHash: "0x1"},
		TakeProfit: LegResult{Leg: OrderKindTakeProfit, Attempts: 2, Err: errors.New("rejected"), Error: "rejected"},
		StopLoss:   LegResult{Leg: OrderKindStopLoss, Attempts: 1},
	}
	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var back TradeResult
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.Succeeded())
	assert.False(t, back.TakeProfit.OK())
	assert.False(t, back.BracketComplete())
	assert.True(t, back.StopLoss.OK())
}

func TestMarketMetadataValid(t *testing.T) {
	m := MarketMetadata{BaseScale: 1, PriceScale: 1, QuoteScale: 1, LotSize: 1}
	assert.True(t, m.Valid())
	m.LotSize = 0
	assert.False(t, m.Valid())
}
