package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Trade outcome event types.
const (
	EventTradeDone    = "trade_done"
	EventTradePartial = "trade_partial"
	EventTradeFailed  = "trade_failed"
)

// TradeEvent classifies a finished trade.
func TradeEvent(r domain.TradeResult) string {
	switch {
	case !r.Succeeded():
		return EventTradeFailed
	case !r.BracketComplete():
		return EventTradePartial
	default:
		return EventTradeDone
	}
}

// FormatTrade renders a trade result as a notification title and body.
func FormatTrade(r domain.TradeResult) (title, message string) {
	in := r.Intent
	switch TradeEvent(r) {
	case EventTradeFailed:
		title = fmt.Sprintf("Trade failed: %s %s", strings.ToUpper(in.Side()), in.Symbol)
	case EventTradePartial:
		title = fmt.Sprintf("Trade opened without full bracket: %s %s", strings.ToUpper(in.Side()), in.Symbol)
	default:
		title = fmt.Sprintf("Trade opened: %s %s", strings.ToUpper(in.Side()), in.Symbol)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", r.ID)
	fmt.Fprintf(&b, "margin: $%.2f x%d (%s)\n", in.USDMargin, in.Leverage, in.MarginMode)
	if r.ReferencePrice > 0 {
		fmt.Fprintf(&b, "reference price: %.6g\n", r.ReferencePrice)
	}
	if r.Order != nil {
		fmt.Fprintf(&b, "base amount: %d, entry: %d, worst: %d\n",
			r.Order.BaseAmount, r.Order.EntryPriceEstimate, r.Order.WorstAcceptablePrice)
	}
	if !r.Succeeded() {
		fmt.Fprintf(&b, "failed at %s: %s\n", r.FailedAt, r.Error)
		return title, strings.TrimRight(b.String(), "\n")
	}
	writeLeg(&b, "entry", r.Entry)
	writeLeg(&b, "take profit", r.TakeProfit)
	writeLeg(&b, "stop loss", r.StopLoss)
	if !r.Leverage.Applied && r.Leverage.Error != "" {
		fmt.Fprintf(&b, "leverage not applied: %s\n", r.Leverage.Error)
	}
	return title, strings.TrimRight(b.String(), "\n")
}

func writeLeg(b *strings.Builder, name string, l domain.LegResult) {
	switch {
	case l.OK():
		fmt.Fprintf(b, "%s: ok tx=%s\n", name, l.TxHash)
	case l.Skipped:
		fmt.Fprintf(b, "%s: skipped\n", name)
	default:
		fmt.Fprintf(b, "%s: failed after %d attempt(s): %s\n", name, l.Attempts, l.Error)
	}
}
