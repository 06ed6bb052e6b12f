package leverage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/metrics"
)

// Venue updates leverage. A nil mode sends a leverage-only update.
type Venue interface {
	UpdateLeverage(ctx context.Context, marketIndex int64, leverage int, mode *domain.MarginMode) (domain.TxOutcome, error)
}

// MarginUpdater is implemented by venues that expose a separate margin-mode
// update.
type MarginUpdater interface {
	UpdateMarginMode(ctx context.Context, marketIndex int64, mode domain.MarginMode) (domain.TxOutcome, error)
}

// Request is one leverage configuration.
type Request struct {
	MarketIndex int64
	Leverage    int
	Mode        domain.MarginMode
}

// Strategy is one way of applying a Request. Returning an error wrapping
// domain.ErrUnsupportedParams moves on to the next strategy.
type Strategy struct {
	Name  string
	Apply func(ctx context.Context, req Request) error
}

// Configurer tries its strategies in order. Its failures are never fatal to
// a trade; they are logged and reported in the result.
type Configurer struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewConfigurer builds the default strategy list for venue: a combined
// leverage and margin-mode update, then a separate margin-mode update
// followed by a leverage-only update.
func NewConfigurer(venue Venue, logger *slog.Logger) *Configurer {
	logger = logger.With(slog.String("component", "leverage"))
	strategies := []Strategy{combined(venue)}
	if mu, ok := venue.(MarginUpdater); ok {
		strategies = append(strategies, separate(venue, mu, logger))
	} else {
		strategies = append(strategies, leverageOnly(venue))
	}
	return NewConfigurerWithStrategies(strategies, logger)
}

// NewConfigurerWithStrategies creates a Configurer with an explicit list.
func NewConfigurerWithStrategies(strategies []Strategy, logger *slog.Logger) *Configurer {
	return &Configurer{strategies: strategies, logger: logger}
}

// Configure applies req and reports what happened.
func (c *Configurer) Configure(ctx context.Context, req Request) domain.LeverageResult {
	var lastErr error
	for _, s := range c.strategies {
		err := s.Apply(ctx, req)
		if err == nil {
			metrics.LeverageUpdate(true)
			c.logger.InfoContext(ctx, "leverage configured",
				slog.String("strategy", s.Name),
				slog.Int64("market_index", req.MarketIndex),
				slog.Int("leverage", req.Leverage),
				slog.String("margin_mode", req.Mode.String()),
			)
			return domain.LeverageResult{Applied: true, Strategy: s.Name}
		}
		lastErr = err
		if !errors.Is(err, domain.ErrUnsupportedParams) {
			break
		}
		c.logger.WarnContext(ctx, "leverage strategy unsupported, trying next",
			slog.String("strategy", s.Name),
			slog.String("error", err.Error()),
		)
	}
	if lastErr == nil {
		lastErr = errors.New("no leverage strategies configured")
	}

	err := fmt.Errorf("leverage: %w: %w", domain.ErrLeverageConfig, lastErr)
	metrics.LeverageUpdate(false)
	c.logger.WarnContext(ctx, "leverage not configured, proceeding with venue defaults",
		slog.Int64("market_index", req.MarketIndex),
		slog.Int("leverage", req.Leverage),
		slog.String("error", err.Error()),
	)
	return domain.LeverageResult{Error: err.Error()}
}

func combined(venue Venue) Strategy {
	return Strategy{
		Name: "combined",
		Apply: func(ctx context.Context, req Request) error {
			mode := req.Mode
			return outcomeErr(venue.UpdateLeverage(ctx, req.MarketIndex, req.Leverage, &mode))
		},
	}
}

func separate(venue Venue, mu MarginUpdater, logger *slog.Logger) Strategy {
	return Strategy{
		Name: "separate",
		Apply: func(ctx context.Context, req Request) error {
			if err := outcomeErr(mu.UpdateMarginMode(ctx, req.MarketIndex, req.Mode)); err != nil {
				logger.WarnContext(ctx, "margin mode update failed",
					slog.String("margin_mode", req.Mode.String()),
					slog.String("error", err.Error()),
				)
			}
			return outcomeErr(venue.UpdateLeverage(ctx, req.MarketIndex, req.Leverage, nil))
		},
	}
}

func leverageOnly(venue Venue) Strategy {
	return Strategy{
		Name: "leverage_only",
		Apply: func(ctx context.Context, req Request) error {
			return outcomeErr(venue.UpdateLeverage(ctx, req.MarketIndex, req.Leverage, nil))
		},
	}
}

func outcomeErr(out domain.TxOutcome, err error) error {
	if err != nil {
		return err
	}
	return out.Err
}
