package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

type failingTrades struct{ memTrades }

func (failingTrades) List(context.Context, domain.ListOpts) ([]domain.TradeResult, error) {
	return nil, errors.New("connection reset")
}

func riskIntent(symbol string, margin float64, lev int) domain.OrderIntent {
	return domain.OrderIntent{ID: "r-1", Symbol: symbol, USDMargin: margin, Leverage: lev}
}

func TestPreTradeCheckStaticLimits(t *testing.T) {
	rs := NewRiskService(nil, RiskConfig{
		MaxNotionalUSD: 1000,
		MaxLeverage:    10,
		AllowedSymbols: []string{"btc_usd", "ETH"},
	}, testLogger())

	tests := []struct {
		name    string
		intent  domain.OrderIntent
		wantErr bool
	}{
		{"within limits", riskIntent("BTC-USD", 100, 5), false},
		{"allow-list normalizes", riskIntent("eth", 10, 1), false},
		{"symbol not allowed", riskIntent("SOL", 10, 1), true},
		{"leverage over cap", riskIntent("ETH", 10, 11), true},
		{"notional over cap", riskIntent("ETH", 200, 6), true},
		{"notional at cap", riskIntent("ETH", 100, 10), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rs.PreTradeCheck(context.Background(), tt.intent)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrRiskLimit)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPreTradeCheckNoLimits(t *testing.T) {
	rs := NewRiskService(nil, RiskConfig{}, testLogger())
	assert.NoError(t, rs.PreTradeCheck(context.Background(), riskIntent("DOGE", 1e6, 100)))
}

func TestPreTradeCheckDailyNotional(t *testing.T) {
	store := &memTrades{saved: []domain.TradeResult{
		{ID: "a", State: domain.StateDone, Intent: riskIntent("BTC", 100, 3)},
		{ID: "b", State: domain.StateFailed, Intent: riskIntent("BTC", 1000, 10)},
	}}
	rs := NewRiskService(store, RiskConfig{MaxDailyNotionalUSD: 400}, testLogger())
	rs.now = func() time.Time { return time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC) }

	opened, err := rs.DailyNotional(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300.0, opened, "failed trades do not count")

	assert.NoError(t, rs.PreTradeCheck(context.Background(), riskIntent("BTC", 50, 2)))
	assert.ErrorIs(t, rs.PreTradeCheck(context.Background(), riskIntent("BTC", 50, 3)), domain.ErrRiskLimit)
}

func TestPreTradeCheckStoreError(t *testing.T) {
	rs := NewRiskService(&failingTrades{}, RiskConfig{MaxDailyNotionalUSD: 400}, testLogger())

	err := rs.PreTradeCheck(context.Background(), riskIntent("BTC", 1, 1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRiskLimit)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestExecuteRiskRejectionSubmitsNothing(t *testing.T) {
	f := defaultFixture(t)
	trades := &memTrades{}
	f.svc.WithReporter(NewReporter(testLogger()).WithStore(trades)).
		WithRisk(NewRiskService(nil, RiskConfig{MaxLeverage: 2}, testLogger()))

	res, err := f.svc.Execute(context.Background(), testIntent())
	assert.ErrorIs(t, err, domain.ErrRiskLimit)
	assert.Equal(t, domain.StateFailed, res.State)
	assert.Empty(t, f.venue.calls)
	assert.Empty(t, f.lev.calls)
	assert.Empty(t, trades.saved, "rejected intents are not reported")
}
