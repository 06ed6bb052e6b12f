package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/metrics"
)

// Waterfall asks each provider in order and returns the first strictly
// positive price. Provider errors are logged and swallowed; there is no
// retry within a provider.
type Waterfall struct {
	providers []Provider
	timeout   time.Duration
	cache     domain.PriceCache
	maxAge    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewWaterfall creates a Waterfall. timeout bounds each provider call.
func NewWaterfall(providers []Provider, timeout time.Duration, logger *slog.Logger) *Waterfall {
	return &Waterfall{
		providers: providers,
		timeout:   timeout,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "price_oracle")),
	}
}

// WithCache records every resolved price in cache. When maxAge is
// positive a cached price younger than maxAge is returned without asking
// any provider.
func (w *Waterfall) WithCache(cache domain.PriceCache, maxAge time.Duration) *Waterfall {
	w.cache = cache
	w.maxAge = maxAge
	return w
}

// Price resolves the USD price of symbol's base asset.
func (w *Waterfall) Price(ctx context.Context, symbol string) (float64, error) {
	asset := BaseAsset(symbol)
	if price, ok := w.cached(ctx, asset); ok {
		return price, nil
	}
	for _, p := range w.providers {
		price, err := w.try(ctx, p, asset)
		if err != nil {
			metrics.ProviderRequest(p.Name(), false)
			w.logger.DebugContext(ctx, "price provider failed",
				slog.String("provider", p.Name()),
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
			if ctx.Err() != nil {
				return 0, fmt.Errorf("oracle: %s: %w", asset, ctx.Err())
			}
			continue
		}
		metrics.ProviderRequest(p.Name(), true)
		w.logger.InfoContext(ctx, "reference price resolved",
			slog.String("provider", p.Name()),
			slog.String("asset", asset),
			slog.Float64("usd", price),
		)
		if w.cache != nil {
			if err := w.cache.SetPrice(ctx, asset, price, w.now()); err != nil {
				w.logger.WarnContext(ctx, "price cache write failed",
					slog.String("asset", asset),
					slog.String("error", err.Error()),
				)
			}
		}
		return price, nil
	}
	return 0, fmt.Errorf("oracle: %s: %w", asset, domain.ErrPriceUnavailable)
}

func (w *Waterfall) cached(ctx context.Context, asset string) (float64, bool) {
	if w.cache == nil || w.maxAge <= 0 {
		return 0, false
	}
	price, ts, err := w.cache.GetPrice(ctx, asset)
	if err != nil || price <= 0 || w.now().Sub(ts) > w.maxAge {
		return 0, false
	}
	w.logger.DebugContext(ctx, "reference price from cache",
		slog.String("asset", asset),
		slog.Float64("usd", price),
		slog.Time("ts", ts),
	)
	return price, true
}

func (w *Waterfall) try(ctx context.Context, p Provider, asset string) (float64, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	price, err := p.Price(ctx, asset)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidPrice, price)
	}
	return price, nil
}
