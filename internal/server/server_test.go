package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/server/handler"
)

type okExecutor struct{}

func (okExecutor) Execute(_ context.Context, intent domain.OrderIntent) (domain.TradeResult, error) {
	return domain.TradeResult{ID: "t1", Intent: intent, State: domain.StateDone}, nil
}

type okMarkets struct{}

func (okMarkets) Resolve(_ context.Context, symbol string) (domain.MarketMetadata, error) {
	return domain.MarketMetadata{Symbol: symbol, BaseScale: 1, PriceScale: 1, QuoteScale: 1, LotSize: 1}, nil
}

func (okMarkets) ResolveAll(context.Context) ([]domain.MarketMetadata, error) { return nil, nil }

type okPrices struct{}

func (okPrices) Price(context.Context, string) (float64, error) { return 42, nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(Config{APIKey: "secret", RateWindow: time.Minute}, Handlers{
		Health:  handler.NewHealthHandler(logger),
		Markets: handler.NewMarketHandler(okMarkets{}, okPrices{}, logger),
		Trades:  handler.NewTradeHandler(okExecutor{}, domain.OrderIntent{Symbol: "BTC", USDMargin: 10, Leverage: 2}, logger),
	}, nil, logger)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"health is public", http.MethodGet, "/api/health", "", http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", http.StatusOK},
		{"trade needs auth", http.MethodPost, "/api/trades", "", http.StatusUnauthorized},
		{"trade", http.MethodPost, "/api/trades", "secret", http.StatusCreated},
		{"market", http.MethodGet, "/api/markets/ETH", "secret", http.StatusOK},
		{"price", http.MethodGet, "/api/prices/ETH", "secret", http.StatusOK},
		{"trade list without store", http.MethodGet, "/api/trades", "secret", http.StatusNotImplemented},
		{"no audit route", http.MethodGet, "/api/audit", "secret", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/trades", "secret", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, srv.URL+tt.path, "", tt.key)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestTradeRouteBody(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/trades", `{"symbol":"ETH"}`, "secret")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"Symbol":"ETH"`)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
