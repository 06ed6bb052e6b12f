// Package market resolves per-market quantization metadata from a venue's
// market listing.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Lister fetches the venue's market listing.
type Lister interface {
	ListMarkets(ctx context.Context) ([]Descriptor, error)
}

// Resolver turns a venue listing into MarketMetadata.
type Resolver struct {
	lister  Lister
	cache   domain.MetadataCache
	timeout time.Duration
	logger  *slog.Logger
}

// NewResolver creates a Resolver. A zero timeout leaves the listing call
// bounded only by the caller's context.
func NewResolver(lister Lister, timeout time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		lister:  lister,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "market_resolver")),
	}
}

// WithCache serves Resolve from cache when possible and stores fresh
// resolutions in it. Cache errors only cost a listing call.
func (r *Resolver) WithCache(cache domain.MetadataCache) *Resolver {
	r.cache = cache
	return r
}

// Resolve fetches the listing and resolves symbol.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (domain.MarketMetadata, error) {
	if r.cache != nil {
		meta, err := r.cache.Get(ctx, NormalizeSymbol(symbol))
		if err == nil && meta.Valid() {
			return meta, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			r.logger.WarnContext(ctx, "metadata cache read failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	descs, err := r.list(ctx)
	if err != nil {
		return domain.MarketMetadata{}, err
	}
	meta, err := ResolveFromSnapshot(descs, symbol)
	if err != nil {
		return domain.MarketMetadata{}, err
	}
	r.logger.InfoContext(ctx, "resolved market",
		slog.String("symbol", meta.Symbol),
		slog.Int64("market_index", meta.MarketIndex),
		slog.Int64("base_scale", meta.BaseScale),
		slog.Int64("price_scale", meta.PriceScale),
		slog.Int64("lot_size", meta.LotSize),
	)
	if r.cache != nil {
		if err := r.cache.Set(ctx, meta); err != nil {
			r.logger.WarnContext(ctx, "metadata cache write failed",
				slog.String("symbol", meta.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return meta, nil
}

// ResolveAll resolves every listed market, skipping entries that cannot be
// resolved.
func (r *Resolver) ResolveAll(ctx context.Context) ([]domain.MarketMetadata, error) {
	descs, err := r.list(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.MarketMetadata, 0, len(descs))
	for _, d := range descs {
		sym, ok := d.Symbol()
		if !ok {
			continue
		}
		meta, err := fromDescriptor(d, NormalizeSymbol(sym))
		if err != nil {
			r.logger.WarnContext(ctx, "skipping market",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

func (r *Resolver) list(ctx context.Context) ([]Descriptor, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	descs, err := r.lister.ListMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("market: list markets: %w", err)
	}
	return descs, nil
}

// ResolveFromSnapshot finds symbol in descs and builds its MarketMetadata.
// Symbols compare after NormalizeSymbol, so "BTC_USD" matches "btc-usd".
func ResolveFromSnapshot(descs []Descriptor, symbol string) (domain.MarketMetadata, error) {
	target := NormalizeSymbol(symbol)
	for _, d := range descs {
		sym, ok := d.Symbol()
		if !ok || NormalizeSymbol(sym) != target {
			continue
		}
		return fromDescriptor(d, target)
	}
	return domain.MarketMetadata{}, fmt.Errorf("market: %q: %w", target, domain.ErrMarketNotFound)
}

func fromDescriptor(d Descriptor, symbol string) (domain.MarketMetadata, error) {
	fail := func(format string, args ...any) (domain.MarketMetadata, error) {
		return domain.MarketMetadata{}, fmt.Errorf("market: %q: %w: %s", symbol, domain.ErrMetadataResolution, fmt.Sprintf(format, args...))
	}

	index, ok, err := d.Index()
	if err != nil {
		return fail("%v", err)
	}
	if !ok {
		return fail("index missing")
	}

	f := d.fields()
	baseScale, err := scaleFor(f, sizeDecimalsFields, baseScaleFields)
	if err != nil {
		return fail("base %v", err)
	}
	priceScale, err := scaleFor(f, priceDecimalsFields, priceScaleFields)
	if err != nil {
		return fail("price %v", err)
	}
	quoteScale, err := scaleFor(f, quoteDecimalsFields, quoteScaleFields)
	if err != nil {
		return fail("quote %v", err)
	}

	lot := int64(1)
	if v, ok := f.first(lotSizeFields); ok {
		n, err := toInt(v)
		if err != nil {
			return fail("lot size %v", err)
		}
		if n > 1 {
			lot = n
		}
	}

	minBase, err := optionalDecimal(f, minBaseFields)
	if err != nil {
		return fail("min base %v", err)
	}
	minQuote, err := optionalDecimal(f, minQuoteFields)
	if err != nil {
		return fail("min quote %v", err)
	}

	return domain.MarketMetadata{
		Symbol:         symbol,
		MarketIndex:    index,
		BaseScale:      baseScale,
		PriceScale:     priceScale,
		QuoteScale:     quoteScale,
		LotSize:        lot,
		MinBaseAmount:  minBase,
		MinQuoteAmount: minQuote,
	}, nil
}
