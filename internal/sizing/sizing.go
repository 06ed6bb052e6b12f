// Package sizing converts a USD notional into venue-quantized order amounts.
package sizing

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/shopspring/decimal"
)

// SlippageBuffer moves the worst acceptable price against the trader.
const SlippageBuffer = 0.005

// Input is everything the sizer needs for one order.
type Input struct {
	USDPrice      float64
	USDNotional   float64
	Meta          domain.MarketMetadata
	IsAsk         bool
	TakeProfitPct float64
	StopLossPct   float64
}

// Compute quantizes an order. It performs no I/O.
//
// The base amount honours the market's minimum base size, lot size and
// minimum quote notional. Take-profit and stop-loss triggers are framed for
// a long position; callers closing a short must account for that.
func Compute(in Input) (domain.ComputedOrder, error) {
	m := in.Meta
	if !m.Valid() {
		return domain.ComputedOrder{}, fmt.Errorf("sizing: %w: scales must be positive and lot size at least 1", domain.ErrMetadataResolution)
	}
	if !finite(in.USDPrice) {
		return domain.ComputedOrder{}, fmt.Errorf("sizing: %w: %v", domain.ErrInvalidPrice, in.USDPrice)
	}
	if !finite(in.USDNotional) || !finite(in.TakeProfitPct) || !finite(in.StopLossPct) {
		return domain.ComputedOrder{}, fmt.Errorf("sizing: %w: notional %v take profit %v stop loss %v",
			domain.ErrInvalidIntent, in.USDNotional, in.TakeProfitPct, in.StopLossPct)
	}

	baseScale := decimal.NewFromInt(m.BaseScale)
	priceScale := decimal.NewFromInt(m.PriceScale)
	quoteScale := decimal.NewFromInt(m.QuoteScale)

	entryDec := decimal.NewFromFloat(in.USDPrice).Mul(priceScale).Round(0)
	if !entryDec.IsPositive() {
		return domain.ComputedOrder{}, fmt.Errorf("sizing: %w: entry estimate %s from price %v", domain.ErrInvalidPrice, entryDec, in.USDPrice)
	}
	entry := entryDec.IntPart()

	minBaseInt := int64(1)
	if m.MinBaseAmount.Valid {
		minBaseInt = m.MinBaseAmount.Decimal.Mul(baseScale).Ceil().IntPart()
	}
	// The floor must sit on the lot grid or clamping to it leaves base off-grid.
	if m.LotSize > 1 {
		minBaseInt = roundUp(minBaseInt, m.LotSize)
	}
	var minQuoteInt int64
	if m.MinQuoteAmount.Valid {
		minQuoteInt = m.MinQuoteAmount.Decimal.Mul(quoteScale).Ceil().IntPart()
	}

	rawBase := decimal.NewFromFloat(in.USDNotional).
		Mul(baseScale).
		Mul(priceScale).
		Div(entryDec).
		Floor().
		IntPart()

	base := max(rawBase, minBaseInt)
	if m.LotSize > 1 {
		base = max(minBaseInt, (base/m.LotSize)*m.LotSize)
	}

	if minQuoteInt > 0 {
		actualQuote := decimal.NewFromInt(base).
			Mul(entryDec).
			Mul(quoteScale).
			Div(baseScale.Mul(priceScale)).
			Floor().
			IntPart()
		if actualQuote < minQuoteInt {
			needed := decimal.NewFromInt(minQuoteInt).
				Mul(baseScale).
				Mul(priceScale).
				Div(quoteScale.Mul(entryDec)).
				Ceil().
				IntPart()
			base = max(base, needed)
			if m.LotSize > 1 {
				base = roundUp(base, m.LotSize)
			}
		}
	}

	return domain.ComputedOrder{
		BaseAmount:           base,
		EntryPriceEstimate:   entry,
		WorstAcceptablePrice: WorstPrice(entry, in.IsAsk),
		TakeProfitTrigger:    scale(entry, 1+in.TakeProfitPct),
		StopLossTrigger:      scale(entry, 1-in.StopLossPct),
	}, nil
}

// WorstPrice applies the slippage buffer: above entry for buys, below for sells.
func WorstPrice(entry int64, isAsk bool) int64 {
	if isAsk {
		return scale(entry, 1-SlippageBuffer)
	}
	return scale(entry, 1+SlippageBuffer)
}

// QuoteNotional returns the human-unit USD value of base at price, both scaled.
func QuoteNotional(base, price int64, m domain.MarketMetadata) float64 {
	v := decimal.NewFromInt(base).
		Mul(decimal.NewFromInt(price)).
		Div(decimal.NewFromInt(m.BaseScale).Mul(decimal.NewFromInt(m.PriceScale)))
	return v.InexactFloat64()
}

func scale(v int64, factor float64) int64 {
	return decimal.NewFromInt(v).Mul(decimal.NewFromFloat(factor)).Round(0).IntPart()
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func roundUp(v, step int64) int64 {
	return ((v + step - 1) / step) * step
}
