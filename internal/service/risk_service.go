package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/market"
)

// RiskConfig holds the tunable parameters for pre-trade risk checks. A zero
// limit is disabled.
type RiskConfig struct {
	MaxNotionalUSD      float64
	MaxLeverage         int
	MaxDailyNotionalUSD float64
	AllowedSymbols      []string
}

// RiskService provides pre-trade risk checks to ensure intents stay within
// configured limits before anything reaches the venue.
type RiskService struct {
	trades  domain.TradeStore
	cfg     RiskConfig
	allowed map[string]bool
	now     func() time.Time
	logger  *slog.Logger
}

// NewRiskService creates a RiskService. trades may be nil when no daily
// limit is configured.
func NewRiskService(trades domain.TradeStore, cfg RiskConfig, logger *slog.Logger) *RiskService {
	allowed := make(map[string]bool, len(cfg.AllowedSymbols))
	for _, s := range cfg.AllowedSymbols {
		allowed[market.NormalizeSymbol(s)] = true
	}
	return &RiskService{
		trades:  trades,
		cfg:     cfg,
		allowed: allowed,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "risk_service")),
	}
}

// PreTradeCheck validates intent against the configured limits. It returns
// an error wrapping domain.ErrRiskLimit for the first failed check.
//
// Checks performed:
//  1. Symbol allow-list
//  2. Leverage cap
//  3. Per-trade notional cap
//  4. Notional opened since midnight UTC, from the trade store
func (s *RiskService) PreTradeCheck(ctx context.Context, intent domain.OrderIntent) error {
	if len(s.allowed) > 0 && !s.allowed[market.NormalizeSymbol(intent.Symbol)] {
		return s.reject(ctx, intent, "symbol %s is not allowed", intent.Symbol)
	}

	if s.cfg.MaxLeverage > 0 && intent.Leverage > s.cfg.MaxLeverage {
		return s.reject(ctx, intent, "leverage %d exceeds max %d", intent.Leverage, s.cfg.MaxLeverage)
	}

	notional := intent.Notional()
	if s.cfg.MaxNotionalUSD > 0 && notional > s.cfg.MaxNotionalUSD {
		return s.reject(ctx, intent, "notional %.2f exceeds max %.2f", notional, s.cfg.MaxNotionalUSD)
	}

	if s.cfg.MaxDailyNotionalUSD > 0 && s.trades != nil {
		opened, err := s.DailyNotional(ctx)
		if err != nil {
			return err
		}
		if opened+notional > s.cfg.MaxDailyNotionalUSD {
			return s.reject(ctx, intent, "daily notional %.2f + %.2f exceeds max %.2f",
				opened, notional, s.cfg.MaxDailyNotionalUSD)
		}
	}
	return nil
}

// DailyNotional sums the notional of trades whose entry went through since
// midnight UTC.
func (s *RiskService) DailyNotional(ctx context.Context) (float64, error) {
	since := s.now().UTC().Truncate(24 * time.Hour)
	var total float64
	const page = 500
	for offset := 0; ; offset += page {
		trades, err := s.trades.List(ctx, domain.ListOpts{Limit: page, Offset: offset, Since: &since})
		if err != nil {
			return 0, fmt.Errorf("risk_service: list trades: %w", err)
		}
		for _, t := range trades {
			if t.Succeeded() {
				total += t.Intent.Notional()
			}
		}
		if len(trades) < page {
			return total, nil
		}
	}
}

func (s *RiskService) reject(ctx context.Context, intent domain.OrderIntent, format string, args ...any) error {
	reason := fmt.Sprintf(format, args...)
	s.logger.WarnContext(ctx, "pre-trade check failed",
		slog.String("trade_id", intent.ID),
		slog.String("symbol", intent.Symbol),
		slog.String("reason", reason),
	)
	return fmt.Errorf("risk_service: %s: %w", reason, domain.ErrRiskLimit)
}
