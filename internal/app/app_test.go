package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/config"
	"github.com/alanyoungcy/perpbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIntentFromConfig(t *testing.T) {
	tc := config.Defaults().Trade
	tc.Symbol = "ETH"
	tc.Side = "short"
	tc.MarginMode = true

	in, err := intentFromConfig(tc)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderIntent{
		Symbol:        "ETH",
		USDMargin:     100,
		Leverage:      5,
		IsAsk:         true,
		TakeProfitPct: 0.01,
		StopLossPct:   0.01,
		MarginMode:    domain.MarginIsolated,
	}, in)
}

func TestIntentFromConfigBadSide(t *testing.T) {
	tc := config.Defaults().Trade
	tc.Side = "up"

	_, err := intentFromConfig(tc)
	assert.ErrorIs(t, err, domain.ErrInvalidIntent)
}

func TestNewProvidersOrder(t *testing.T) {
	oc := config.Defaults().Oracle
	oc.Providers = []string{"OKX", "unknown", "coingecko"}

	providers := newProviders(oc)
	require.Len(t, providers, 2)
	assert.Equal(t, "okx", providers[0].Name())
	assert.Equal(t, "coingecko", providers[1].Name())
}

func TestWireWithoutBackends(t *testing.T) {
	cfg := config.Defaults()

	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.TradeStore)
	assert.Nil(t, deps.BlobWriter)
	assert.Empty(t, deps.Probes)
	assert.False(t, deps.Notifier.Enabled())
}

func TestWireNotifierSenders(t *testing.T) {
	cfg := config.Defaults()
	cfg.Notify.DiscordWebhookURL = "https://discord.example/webhook"

	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()
	assert.True(t, deps.Notifier.Enabled())
}

func TestMarketsMode(t *testing.T) {
	venue := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/orderBooks", r.URL.Path)
		_, _ = io.WriteString(w, `{"code":200,"order_books":[
			{"symbol":"BTC","market_id":1,"min_base_amount":"0.00020","min_quote_amount":"10.000000",
			 "supported_size_decimals":5,"supported_price_decimals":1,"supported_quote_decimals":6}]}`)
	}))
	defer venue.Close()

	cfg := config.Defaults()
	cfg.Mode = "markets"
	cfg.Venue.BaseURL = venue.URL

	var out bytes.Buffer
	a := New(&cfg, testLogger())
	a.out = &out
	defer a.Close()

	require.NoError(t, a.Run(context.Background()))

	var markets []domain.MarketMetadata
	require.NoError(t, json.Unmarshal(out.Bytes(), &markets))
	require.Len(t, markets, 1)
	assert.Equal(t, "BTC", markets[0].Symbol)
	assert.Equal(t, int64(1), markets[0].MarketIndex)
	assert.Equal(t, int64(100000), markets[0].BaseScale)
}

func TestTradeModeRejectsBadSide(t *testing.T) {
	cfg := config.Defaults()
	cfg.Trade.Side = "sideways"

	a := New(&cfg, testLogger())
	defer a.Close()
	err := a.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidIntent)
}

func TestRunUnsupportedMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "backtest"

	a := New(&cfg, testLogger())
	defer a.Close()
	assert.ErrorContains(t, a.Run(context.Background()), "unsupported mode")
}
