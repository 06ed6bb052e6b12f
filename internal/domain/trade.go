package domain

import "time"

// TradeState is a step of the trade state machine.
type TradeState string

const (
	StateResolvingMetadata    TradeState = "resolving_metadata"
	StatePricingReference     TradeState = "pricing_reference"
	StateSizing               TradeState = "sizing"
	StateConfiguringLeverage  TradeState = "configuring_leverage"
	StateSubmittingEntry      TradeState = "submitting_entry"
	StateSubmittingTakeProfit TradeState = "submitting_take_profit"
	StateSubmittingStopLoss   TradeState = "submitting_stop_loss"
	StateDone                 TradeState = "done"
	StateFailed               TradeState = "failed"
)

// LegResult is the outcome of one order leg (entry, take-profit or stop-loss).
type LegResult struct {
	Leg              OrderKind `json:"leg"`
	Attempts         int       `json:"attempts"`
	ClientOrderIndex int64     `json:"client_order_index,omitempty"`
	TxHash           string    `json:"tx_hash,omitempty"`
	Strategy         string    `json:"strategy,omitempty"`
	Skipped          bool      `json:"skipped,omitempty"`
	Err              error     `json:"-"`
	Error            string    `json:"error,omitempty"`
}

// OK reports whether the leg was placed. Error is checked as well so the
// answer survives a JSON round trip.
func (l LegResult) OK() bool {
	return !l.Skipped && l.Err == nil && l.Error == "" && l.Attempts > 0
}

// LeverageResult records the best-effort leverage configuration step.
type LeverageResult struct {
	Applied  bool   `json:"applied"`
	Strategy string `json:"strategy,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TradeResult is everything observed while executing one OrderIntent.
// Entry success with a failed bracket leg still ends in StateDone.
type TradeResult struct {
	ID             string          `json:"id"`
	Intent         OrderIntent     `json:"intent"`
	State          TradeState      `json:"state"`
	FailedAt       TradeState      `json:"failed_at,omitempty"`
	Err            error           `json:"-"`
	Error          string          `json:"error,omitempty"`
	Metadata       *MarketMetadata `json:"metadata,omitempty"`
	ReferencePrice float64         `json:"reference_price,omitempty"`
	Order          *ComputedOrder  `json:"order,omitempty"`
	Leverage       LeverageResult  `json:"leverage"`
	Entry          LegResult       `json:"entry"`
	TakeProfit     LegResult       `json:"take_profit"`
	StopLoss       LegResult       `json:"stop_loss"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// Succeeded reports whether the entry order went through.
func (r TradeResult) Succeeded() bool { return r.State == StateDone }

// BracketComplete reports whether both protective legs were placed.
func (r TradeResult) BracketComplete() bool {
	return r.TakeProfit.OK() && r.StopLoss.OK()
}
