package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/notify"
)

const (
	// TradeEventsChannel is the bus channel trade results are published on.
	TradeEventsChannel = "trade_completed"
	// TradeHistoryStream is the capped stream holding recent trade results.
	TradeHistoryStream = "trades"
)

// TradeNotifier sends chat alerts.
type TradeNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Reporter fans a finished trade out to the optional sinks: trade store,
// event bus, audit log, receipt storage and chat. Sink failures are logged and never
// returned; the trade has already happened.
type Reporter struct {
	bus      domain.SignalBus
	trades   domain.TradeStore
	audit    domain.AuditStore
	blobs    domain.BlobWriter
	notifier TradeNotifier
	prefix   string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewReporter creates a Reporter with no sinks.
func NewReporter(logger *slog.Logger) *Reporter {
	return &Reporter{
		prefix:  "receipts",
		timeout: 10 * time.Second,
		logger:  logger.With(slog.String("component", "reporter")),
	}
}

// WithBus publishes results on TradeEventsChannel and appends them to
// TradeHistoryStream.
func (r *Reporter) WithBus(bus domain.SignalBus) *Reporter { r.bus = bus; return r }

// WithStore persists every result.
func (r *Reporter) WithStore(trades domain.TradeStore) *Reporter { r.trades = trades; return r }

// WithAudit appends an audit row per trade.
func (r *Reporter) WithAudit(audit domain.AuditStore) *Reporter { r.audit = audit; return r }

// WithReceipts uploads a JSON receipt per trade under prefix.
func (r *Reporter) WithReceipts(blobs domain.BlobWriter, prefix string) *Reporter {
	r.blobs = blobs
	if prefix != "" {
		r.prefix = prefix
	}
	return r
}

// WithNotifier sends a chat alert per trade.
func (r *Reporter) WithNotifier(n TradeNotifier) *Reporter { r.notifier = n; return r }

// Report delivers res to every configured sink.
func (r *Reporter) Report(ctx context.Context, res domain.TradeResult) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(res)
	if err != nil {
		r.logger.ErrorContext(ctx, "marshal trade result", slog.String("error", err.Error()))
		return
	}
	event := notify.TradeEvent(res)

	if r.trades != nil {
		if err := r.trades.Save(ctx, res); err != nil {
			r.warn(ctx, "store", res.ID, err)
		}
	}

	if r.bus != nil {
		if err := r.bus.Publish(ctx, TradeEventsChannel, payload); err != nil {
			r.warn(ctx, "publish", res.ID, err)
		}
		if err := r.bus.StreamAppend(ctx, TradeHistoryStream, payload); err != nil {
			r.warn(ctx, "stream", res.ID, err)
		}
	}

	if r.audit != nil {
		detail := map[string]any{
			"trade_id": res.ID,
			"symbol":   res.Intent.Symbol,
			"side":     res.Intent.Side(),
			"state":    string(res.State),
		}
		if res.FailedAt != "" {
			detail["failed_at"] = string(res.FailedAt)
			detail["error"] = res.Error
		}
		if res.Order != nil {
			detail["base_amount"] = res.Order.BaseAmount
			detail["entry_estimate"] = res.Order.EntryPriceEstimate
		}
		if res.Entry.TxHash != "" {
			detail["entry_tx"] = res.Entry.TxHash
		}
		if err := r.audit.Log(ctx, event, detail); err != nil {
			r.warn(ctx, "audit", res.ID, err)
		}
	}

	if r.blobs != nil {
		if err := r.blobs.Put(ctx, r.receiptPath(res), bytes.NewReader(payload), "application/json"); err != nil {
			r.warn(ctx, "receipt", res.ID, err)
		}
	}

	if r.notifier != nil {
		title, msg := notify.FormatTrade(res)
		if err := r.notifier.Notify(ctx, event, title, msg); err != nil {
			r.warn(ctx, "notify", res.ID, err)
		}
	}
}

// receiptPath is <prefix>/YYYY/MM/DD/<trade id>.json.
func (r *Reporter) receiptPath(res domain.TradeResult) string {
	ts := res.StartedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return fmt.Sprintf("%s/%s/%s.json", r.prefix, ts.Format("2006/01/02"), res.ID)
}

func (r *Reporter) warn(ctx context.Context, sink, tradeID string, err error) {
	r.logger.WarnContext(ctx, "trade report sink failed",
		slog.String("sink", sink),
		slog.String("trade_id", tradeID),
		slog.String("error", err.Error()),
	)
}
