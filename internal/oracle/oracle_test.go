package oracle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	name  string
	price float64
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Price(context.Context, string) (float64, error) {
	f.calls++
	return f.price, f.err
}

func TestBaseAsset(t *testing.T) {
	assert.Equal(t, "BTC", BaseAsset("btc_usd"))
	assert.Equal(t, "BTC", BaseAsset("BTC-USD"))
	assert.Equal(t, "ETH", BaseAsset(" eth "))
}

func TestWaterfallFirstPositiveWins(t *testing.T) {
	first := &fakeProvider{name: "a", err: errors.New("down")}
	second := &fakeProvider{name: "b", price: 0}
	third := &fakeProvider{name: "c", price: 101.5}
	fourth := &fakeProvider{name: "d", price: 99}

	w := NewWaterfall([]Provider{first, second, third, fourth}, time.Second, testLogger())
	price, err := w.Price(context.Background(), "SOL")
	require.NoError(t, err)

	assert.Equal(t, 101.5, price)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 1, third.calls)
	assert.Zero(t, fourth.calls)
}

func TestWaterfallAllFail(t *testing.T) {
	w := NewWaterfall([]Provider{
		&fakeProvider{name: "a", err: errors.New("down")},
		&fakeProvider{name: "b", price: -3},
	}, time.Second, testLogger())

	_, err := w.Price(context.Background(), "SOL")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func newVenueServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, h := range handlers {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWaterfallOverHTTPFallsThroughToOKX(t *testing.T) {
	srv := newVenueServer(t, map[string]http.HandlerFunc{
		"GET /simple/price": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		},
		"GET /api/v3/ticker/price": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			_, _ = io.WriteString(w, `{"symbol":"BTCUSDT","price":"0.00000000"}`)
		},
		"GET /api/v5/market/ticker": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "BTC-USDT", r.URL.Query().Get("instId"))
			_, _ = io.WriteString(w, `{"code":"0","msg":"","data":[{"instId":"BTC-USDT","last":"64000.5"}]}`)
		},
	})

	w := NewWaterfall([]Provider{
		NewCoinGecko(srv.URL, nil),
		NewBinance(srv.URL),
		NewOKX(srv.URL),
	}, time.Second, testLogger())

	price, err := w.Price(context.Background(), "BTC_USD")
	require.NoError(t, err)
	assert.Equal(t, 64000.5, price)
}

func TestCoinGeckoPrice(t *testing.T) {
	srv := newVenueServer(t, map[string]http.HandlerFunc{
		"GET /simple/price": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "ethereum", r.URL.Query().Get("ids"))
			assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
			assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
			_, _ = io.WriteString(w, `{"ethereum":{"usd":3021.17}}`)
		},
	})

	price, err := NewCoinGecko(srv.URL, nil).Price(context.Background(), "eth")
	require.NoError(t, err)
	assert.Equal(t, 3021.17, price)
}

func TestCoinGeckoOverrideAndUnknownAsset(t *testing.T) {
	var hits atomic.Int32
	srv := newVenueServer(t, map[string]http.HandlerFunc{
		"GET /simple/price": func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			_, _ = io.WriteString(w, `{"dogecoin":{"usd":0.12}}`)
		},
	})

	cg := NewCoinGecko(srv.URL, map[string]string{"doge": "dogecoin"})

	price, err := cg.Price(context.Background(), "DOGE")
	require.NoError(t, err)
	assert.Equal(t, 0.12, price)

	_, err = cg.Price(context.Background(), "PEPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int32(1), hits.Load())
}

func TestOKXEmptyData(t *testing.T) {
	srv := newVenueServer(t, map[string]http.HandlerFunc{
		"GET /api/v5/market/ticker": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"code":"51001","msg":"Instrument ID does not exist","data":[]}`)
		},
	})

	_, err := NewOKX(srv.URL).Price(context.Background(), "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWaterfallPerProviderTimeout(t *testing.T) {
	srv := newVenueServer(t, map[string]http.HandlerFunc{
		"GET /api/v3/ticker/price": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		},
		"GET /api/v5/market/ticker": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"code":"0","data":[{"last":"150.25"}]}`)
		},
	})

	w := NewWaterfall([]Provider{NewBinance(srv.URL), NewOKX(srv.URL)}, 50*time.Millisecond, testLogger())

	start := time.Now()
	price, err := w.Price(context.Background(), "SOL")
	require.NoError(t, err)
	assert.Equal(t, 150.25, price)
	assert.Less(t, time.Since(start), time.Second)
}

type memPriceCache struct {
	prices map[string]float64
	times  map[string]time.Time
}

func (c *memPriceCache) SetPrice(_ context.Context, asset string, price float64, ts time.Time) error {
	if c.prices == nil {
		c.prices = map[string]float64{}
		c.times = map[string]time.Time{}
	}
	c.prices[asset] = price
	c.times[asset] = ts
	return nil
}

func (c *memPriceCache) GetPrice(_ context.Context, asset string) (float64, time.Time, error) {
	p, ok := c.prices[asset]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, c.times[asset], nil
}

func TestWaterfallCacheWithinMaxAge(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	provider := &fakeProvider{name: "a", price: 42}
	cache := &memPriceCache{}
	w := NewWaterfall([]Provider{provider}, time.Second, testLogger()).WithCache(cache, 5*time.Second)
	w.now = func() time.Time { return now }

	price, err := w.Price(context.Background(), "BTC_USD")
	require.NoError(t, err)
	assert.Equal(t, 42.0, price)
	assert.Equal(t, 42.0, cache.prices["BTC"])

	provider.price = 43
	now = now.Add(4 * time.Second)
	price, err = w.Price(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 42.0, price)
	assert.Equal(t, 1, provider.calls)

	now = now.Add(2 * time.Second)
	price, err = w.Price(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 43.0, price)
	assert.Equal(t, 2, provider.calls)
}

func TestWaterfallCacheRecordOnly(t *testing.T) {
	provider := &fakeProvider{name: "a", price: 7}
	cache := &memPriceCache{}
	w := NewWaterfall([]Provider{provider}, time.Second, testLogger()).WithCache(cache, 0)

	for range 2 {
		_, err := w.Price(context.Background(), "SOL")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, provider.calls)
	assert.Equal(t, 7.0, cache.prices["SOL"])
}
