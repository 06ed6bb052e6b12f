package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/config"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/leverage"
)

// IdempotencyHeader carries the client's deduplication key for trade requests.
const IdempotencyHeader = "Idempotency-Key"

// TradeExecutor runs one order intent end to end.
type TradeExecutor interface {
	Execute(ctx context.Context, intent domain.OrderIntent) (domain.TradeResult, error)
}

// IdempotencyGuard remembers request keys for a time window.
type IdempotencyGuard interface {
	IsDuplicate(key string) bool
	Forget(key string)
}

// TradeHandler serves the trade trigger and history endpoints.
type TradeHandler struct {
	exec     TradeExecutor
	defaults domain.OrderIntent
	dedup    IdempotencyGuard
	trades   domain.TradeStore
	history  domain.SignalBus
	stream   string
	logger   *slog.Logger
}

// NewTradeHandler creates a TradeHandler. Fields omitted from a request body
// are taken from defaults.
func NewTradeHandler(exec TradeExecutor, defaults domain.OrderIntent, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		exec:     exec,
		defaults: defaults,
		logger:   logger,
	}
}

// WithDedup rejects repeated Idempotency-Key values.
func (h *TradeHandler) WithDedup(g IdempotencyGuard) *TradeHandler { h.dedup = g; return h }

// WithStore serves trade lookups from the persistent store.
func (h *TradeHandler) WithStore(trades domain.TradeStore) *TradeHandler { h.trades = trades; return h }

// WithHistory serves the trade stream from bus.
func (h *TradeHandler) WithHistory(bus domain.SignalBus, stream string) *TradeHandler {
	h.history = bus
	h.stream = stream
	return h
}

// tradeRequest is the POST body. Every field is optional.
type tradeRequest struct {
	ID            string   `json:"id"`
	Symbol        *string  `json:"symbol"`
	USDMargin     *float64 `json:"usd_margin"`
	Leverage      *int     `json:"leverage"`
	Side          *string  `json:"side"`
	TakeProfitPct *float64 `json:"take_profit_pct"`
	StopLossPct   *float64 `json:"stop_loss_pct"`
	MarginMode    any      `json:"margin_mode"`
}

func (req tradeRequest) intent(defaults domain.OrderIntent) (domain.OrderIntent, error) {
	in := defaults
	in.ID = req.ID
	if req.Symbol != nil {
		in.Symbol = *req.Symbol
	}
	if req.USDMargin != nil {
		in.USDMargin = *req.USDMargin
	}
	if req.Leverage != nil {
		in.Leverage = *req.Leverage
	}
	if req.Side != nil {
		isAsk, err := config.ParseSide(*req.Side)
		if err != nil {
			return domain.OrderIntent{}, fmt.Errorf("%w: %v", domain.ErrInvalidIntent, err)
		}
		in.IsAsk = isAsk
	}
	if req.TakeProfitPct != nil {
		in.TakeProfitPct = *req.TakeProfitPct
	}
	if req.StopLossPct != nil {
		in.StopLossPct = *req.StopLossPct
	}
	if req.MarginMode != nil {
		in.MarginMode = leverage.ParseMarginMode(req.MarginMode)
	}
	return in, nil
}

// CreateTrade executes one trade. The response body is the trade result and
// the status code reflects the failing step, if any.
// POST /api/trades
func (h *TradeHandler) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	intent, err := req.intent(h.defaults)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.dedup != nil && h.dedup.IsDuplicate(key) {
		writeError(w, http.StatusConflict, domain.ErrDuplicate.Error())
		return
	}

	// A client disconnect must not abandon a half-placed position.
	res, err := h.exec.Execute(context.WithoutCancel(r.Context()), intent)
	if err != nil {
		if key != "" && h.dedup != nil &&
			(errors.Is(err, domain.ErrInvalidIntent) || errors.Is(err, domain.ErrLockHeld) ||
				errors.Is(err, domain.ErrRiskLimit)) {
			h.dedup.Forget(key)
		}
		h.logger.WarnContext(r.Context(), "handler: trade failed",
			slog.String("trade_id", res.ID),
			slog.String("failed_at", string(res.FailedAt)),
			slog.String("error", err.Error()),
		)
		writeJSON(w, statusFor(err), res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type listTradesResponse struct {
	Trades []domain.TradeResult `json:"trades"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// ListTrades returns persisted trades, newest first.
// GET /api/trades?limit=50&offset=0&since=...&until=...
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		writeError(w, http.StatusNotImplemented, "trade store not configured")
		return
	}
	opts := parseListOpts(r)
	trades, err := h.trades.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.TradeResult{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades, Limit: opts.Limit, Offset: opts.Offset})
}

// GetTrade returns one persisted trade.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		writeError(w, http.StatusNotImplemented, "trade store not configured")
		return
	}
	id := r.PathValue("id")
	res, err := h.trades.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get trade failed",
			slog.String("trade_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get trade")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type streamEntry struct {
	ID    string             `json:"id"`
	Trade domain.TradeResult `json:"trade"`
}

type streamResponse struct {
	Entries []streamEntry `json:"entries"`
	Next    string        `json:"next"`
}

// StreamTrades pages through the capped trade history stream. Pass the
// returned next cursor as after to continue.
// GET /api/trades/stream?after=0&limit=50
func (h *TradeHandler) StreamTrades(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "trade history not configured")
		return
	}
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 500 {
		limit = n
	}

	msgs, err := h.history.StreamRead(r.Context(), h.stream, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read trade stream failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read trade history")
		return
	}

	out := streamResponse{Entries: make([]streamEntry, 0, len(msgs)), Next: after}
	for _, m := range msgs {
		out.Next = m.ID
		var res domain.TradeResult
		if err := json.Unmarshal(m.Payload, &res); err != nil {
			h.logger.WarnContext(r.Context(), "handler: skipping malformed stream entry",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out.Entries = append(out.Entries, streamEntry{ID: m.ID, Trade: res})
	}
	writeJSON(w, http.StatusOK, out)
}
