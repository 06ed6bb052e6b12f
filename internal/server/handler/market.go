package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// MarketResolver resolves venue market metadata. It is declared locally so
// the handler package does not depend on the concrete resolver.
type MarketResolver interface {
	Resolve(ctx context.Context, symbol string) (domain.MarketMetadata, error)
	ResolveAll(ctx context.Context) ([]domain.MarketMetadata, error)
}

// PriceOracle returns a USD reference price for a symbol's base asset.
type PriceOracle interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// MarketHandler serves market metadata and reference price endpoints.
type MarketHandler struct {
	markets MarketResolver
	prices  PriceOracle
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given resolver, oracle and
// logger.
func NewMarketHandler(markets MarketResolver, prices PriceOracle, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		prices:  prices,
		logger:  logger,
	}
}

type listMarketsResponse struct {
	Markets []domain.MarketMetadata `json:"markets"`
	Total   int                     `json:"total"`
}

// ListMarkets returns every market the venue lists with usable metadata.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.markets.ResolveAll(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to list markets")
		return
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Total: len(markets)})
}

// GetMarket returns resolved metadata for one symbol.
// GET /api/markets/{symbol}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	meta, err := h.markets.Resolve(r.Context(), symbol)
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: resolve market failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

type priceResponse struct {
	Symbol    string  `json:"symbol"`
	USD       float64 `json:"usd"`
	Timestamp string  `json:"timestamp"`
}

// GetPrice returns the oracle reference price for one symbol.
// GET /api/prices/{symbol}
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	price, err := h.prices.Price(r.Context(), symbol)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: price lookup failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{
		Symbol:    symbol,
		USD:       price,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
