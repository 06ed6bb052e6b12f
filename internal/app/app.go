// Package app provides the top-level application lifecycle for perpbot. It
// wires the optional backends, assembles the trade engine and runs the
// configured mode.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpbot/internal/config"
	"github.com/alanyoungcy/perpbot/internal/executor"
	"github.com/alanyoungcy/perpbot/internal/server"
	"github.com/alanyoungcy/perpbot/internal/server/handler"
	"github.com/alanyoungcy/perpbot/internal/service"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	out     io.Writer
	closers []func()
}

// New creates a new App from the given configuration and logger. Results
// of the trade and markets modes are written to stdout as JSON.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		out:    os.Stdout,
	}
}

// Run wires all dependencies, runs the configured mode and returns when it
// finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "trade":
		return a.TradeMode(ctx, deps)
	case "server":
		return a.ServerMode(ctx, deps)
	case "markets":
		return a.MarketsMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// TradeMode executes the configured intent once and prints the result.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	intent, err := intentFromConfig(a.cfg.Trade)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	eng, err := a.buildEngine(deps)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	res, execErr := eng.trades.Execute(ctx, intent)
	if err := a.printJSON(res); err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	if execErr != nil {
		return fmt.Errorf("trade mode: %w", execErr)
	}
	if !res.BracketComplete() {
		a.logger.WarnContext(ctx, "position opened without a complete bracket",
			slog.String("trade_id", res.ID),
		)
	}
	return nil
}

// MarketsMode prints the resolved metadata of every listed market.
func (a *App) MarketsMode(ctx context.Context, deps *Dependencies) error {
	client, err := a.newVenueClient()
	if err != nil {
		return fmt.Errorf("markets mode: %w", err)
	}
	markets, err := a.newResolver(client, deps).ResolveAll(ctx)
	if err != nil {
		return fmt.Errorf("markets mode: %w", err)
	}
	return a.printJSON(markets)
}

// ServerMode serves the HTTP trigger until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	defaults, err := intentFromConfig(a.cfg.Trade)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	eng, err := a.buildEngine(deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	dedup := executor.NewDedup(a.cfg.Server.IdempotencyTTL.Duration)
	trades := handler.NewTradeHandler(eng.trades, defaults, a.logger).WithDedup(dedup)
	if deps.TradeStore != nil {
		trades = trades.WithStore(deps.TradeStore)
	}
	if deps.SignalBus != nil {
		trades = trades.WithHistory(deps.SignalBus, service.TradeHistoryStream)
	}

	health := handler.NewHealthHandler(a.logger)
	for name, probe := range deps.Probes {
		health = health.WithCheck(name, probe)
	}

	handlers := server.Handlers{
		Health:  health,
		Markets: handler.NewMarketHandler(eng.resolver, eng.oracle, a.logger),
		Trades:  trades,
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.RateLimiter, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				dedup.Cleanup()
			}
		}
	})

	return g.Wait()
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
