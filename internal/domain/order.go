package domain

import (
	"fmt"
	"math"
	"strings"
)

// MarginMode selects how collateral backs a position.
type MarginMode int

const (
	MarginCross    MarginMode = 0
	MarginIsolated MarginMode = 1
)

func (m MarginMode) String() string {
	if m == MarginIsolated {
		return "isolated"
	}
	return "cross"
}

// OrderIntent is the caller's request to open one leveraged position.
type OrderIntent struct {
	ID            string
	Symbol        string
	USDMargin     float64
	Leverage      int
	IsAsk         bool // true opens a short
	TakeProfitPct float64
	StopLossPct   float64
	MarginMode    MarginMode
}

// Notional returns the USD value of the position (margin times leverage).
func (i OrderIntent) Notional() float64 {
	return i.USDMargin * float64(i.Leverage)
}

// Side returns "sell" for asks and "buy" otherwise.
func (i OrderIntent) Side() string {
	if i.IsAsk {
		return "sell"
	}
	return "buy"
}

// Validate checks the caller-supplied fields.
func (i OrderIntent) Validate() error {
	var errs []string
	if strings.TrimSpace(i.Symbol) == "" {
		errs = append(errs, "symbol is required")
	}
	if !finite(i.USDMargin) || !finite(i.TakeProfitPct) || !finite(i.StopLossPct) {
		errs = append(errs, "usd margin and percentages must be finite numbers")
	}
	if i.USDMargin <= 0 {
		errs = append(errs, "usd margin must be positive")
	}
	if i.Leverage < 1 {
		errs = append(errs, "leverage must be at least 1")
	}
	if i.TakeProfitPct < 0 || i.StopLossPct < 0 {
		errs = append(errs, "take profit and stop loss percentages must not be negative")
	}
	if i.StopLossPct >= 1 {
		errs = append(errs, "stop loss percentage must be below 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidIntent, strings.Join(errs, "; "))
	}
	return nil
}

// ComputedOrder is the quantized output of the order sizer. All prices are
// in price-scaled integer units.
type ComputedOrder struct {
	BaseAmount           int64
	EntryPriceEstimate   int64
	WorstAcceptablePrice int64
	TakeProfitTrigger    int64
	StopLossTrigger      int64
}

// OrderKind identifies which venue order path a request targets.
type OrderKind string

const (
	OrderKindMarket     OrderKind = "market"
	OrderKindTakeProfit OrderKind = "take_profit"
	OrderKindStopLoss   OrderKind = "stop_loss"
)

// OrderRequest carries everything a venue needs to place one order.
// ClientOrderIndex is filled in by the retrier on every attempt.
type OrderRequest struct {
	Kind             OrderKind
	MarketIndex      int64
	BaseAmount       int64
	Price            int64 // worst price for market orders, limit price for triggers
	TriggerPrice     int64
	IsAsk            bool
	ReduceOnly       bool
	ClientOrderIndex int64
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
