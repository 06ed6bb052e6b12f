package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/leverage"
	"github.com/alanyoungcy/perpbot/internal/metrics"
	"github.com/alanyoungcy/perpbot/internal/sizing"
)

// MetadataResolver resolves a symbol's quantization record.
type MetadataResolver interface {
	Resolve(ctx context.Context, symbol string) (domain.MarketMetadata, error)
}

// PriceOracle resolves a USD reference price.
type PriceOracle interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// LeverageConfigurer applies leverage before the entry order.
type LeverageConfigurer interface {
	Configure(ctx context.Context, req leverage.Request) domain.LeverageResult
}

// Submitter runs one order through the retry policy.
type Submitter interface {
	Submit(ctx context.Context, leg string, fn domain.OrderFunc, req domain.OrderRequest) domain.SubmissionResult
}

// OrderVenue places entry and bracket orders.
type OrderVenue interface {
	SubmitMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.TxOutcome, error)
	SubmitTriggerOrder(ctx context.Context, req domain.OrderRequest) (domain.TxOutcome, error)
}

// GenericOrderSubmitter is implemented by venues with a plain create-order
// path usable as a bracket fallback.
type GenericOrderSubmitter interface {
	SubmitGenericOrder(ctx context.Context, req domain.OrderRequest) (domain.TxOutcome, error)
}

// RiskChecker vets an intent before any venue call.
type RiskChecker interface {
	PreTradeCheck(ctx context.Context, intent domain.OrderIntent) error
}

// legStrategy is one way of placing a bracket leg.
type legStrategy struct {
	name string
	fn   domain.OrderFunc
}

// TradeService executes one OrderIntent: metadata and price, sizing,
// leverage, market entry, then take-profit and stop-loss legs. Only
// metadata, price and entry failures fail the trade; bracket legs are
// reported per leg and never roll back the entry.
type TradeService struct {
	resolver MetadataResolver
	oracle   PriceOracle
	leverage LeverageConfigurer
	submit   Submitter
	venue    OrderVenue
	reporter *Reporter
	risk     RiskChecker

	locks   domain.LockManager
	lockKey string
	lockTTL time.Duration

	now    func() time.Time
	logger *slog.Logger
}

// NewTradeService creates a TradeService.
func NewTradeService(
	resolver MetadataResolver,
	oracle PriceOracle,
	lev LeverageConfigurer,
	submit Submitter,
	venue OrderVenue,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		resolver: resolver,
		oracle:   oracle,
		leverage: lev,
		submit:   submit,
		venue:    venue,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "trade_service")),
	}
}

// WithReporter attaches the post-trade sinks.
func (s *TradeService) WithReporter(r *Reporter) *TradeService {
	s.reporter = r
	return s
}

// WithRisk rejects intents that fail r before anything is submitted.
func (s *TradeService) WithRisk(r RiskChecker) *TradeService {
	s.risk = r
	return s
}

// WithLock serializes trades for one account across processes. While key
// is held elsewhere Execute fails with domain.ErrLockHeld.
func (s *TradeService) WithLock(locks domain.LockManager, key string, ttl time.Duration) *TradeService {
	s.locks = locks
	s.lockKey = key
	s.lockTTL = ttl
	return s
}

// Execute runs intent to completion. The error is non-nil only when the
// trade ends in StateFailed; a failed bracket leg is visible in the result.
func (s *TradeService) Execute(ctx context.Context, intent domain.OrderIntent) (domain.TradeResult, error) {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	res := domain.TradeResult{
		ID:        intent.ID,
		Intent:    intent,
		State:     domain.StateResolvingMetadata,
		StartedAt: s.now().UTC(),
	}
	logger := s.logger.With(
		slog.String("trade_id", res.ID),
		slog.String("symbol", intent.Symbol),
		slog.String("side", intent.Side()),
	)

	if err := intent.Validate(); err != nil {
		return s.fail(ctx, res, domain.StateResolvingMetadata, err), err
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, s.lockKey, s.lockTTL)
		if err != nil {
			err = fmt.Errorf("trade_service: acquire %s: %w", s.lockKey, err)
			return s.fail(ctx, res, domain.StateResolvingMetadata, err), err
		}
		defer unlock()
	}

	if s.risk != nil {
		if err := s.risk.PreTradeCheck(ctx, intent); err != nil {
			return s.fail(ctx, res, domain.StateResolvingMetadata, err), err
		}
	}

	meta, price, failedAt, err := s.resolveInputs(ctx, intent.Symbol)
	if err != nil {
		return s.fail(ctx, res, failedAt, err), err
	}
	res.Metadata = &meta
	res.ReferencePrice = price

	res.State = domain.StateSizing
	order, err := sizing.Compute(sizing.Input{
		USDPrice:      price,
		USDNotional:   intent.Notional(),
		Meta:          meta,
		IsAsk:         intent.IsAsk,
		TakeProfitPct: intent.TakeProfitPct,
		StopLossPct:   intent.StopLossPct,
	})
	if err != nil {
		at := domain.StateResolvingMetadata
		if errors.Is(err, domain.ErrInvalidPrice) {
			at = domain.StatePricingReference
		}
		return s.fail(ctx, res, at, err), err
	}
	res.Order = &order
	logger.InfoContext(ctx, "order sized",
		slog.Float64("usd_notional", intent.Notional()),
		slog.Float64("reference_price", price),
		slog.Int64("base_amount", order.BaseAmount),
		slog.Int64("entry_estimate", order.EntryPriceEstimate),
		slog.Int64("worst_price", order.WorstAcceptablePrice),
		slog.Int64("tp_trigger", order.TakeProfitTrigger),
		slog.Int64("sl_trigger", order.StopLossTrigger),
	)

	res.State = domain.StateConfiguringLeverage
	res.Leverage = s.leverage.Configure(ctx, leverage.Request{
		MarketIndex: meta.MarketIndex,
		Leverage:    intent.Leverage,
		Mode:        intent.MarginMode,
	})

	res.State = domain.StateSubmittingEntry
	entry := s.submit.Submit(ctx, string(domain.OrderKindMarket), s.venue.SubmitMarketOrder, domain.OrderRequest{
		Kind:        domain.OrderKindMarket,
		MarketIndex: meta.MarketIndex,
		BaseAmount:  order.BaseAmount,
		Price:       order.WorstAcceptablePrice,
		IsAsk:       intent.IsAsk,
	})
	res.Entry = legResult(domain.OrderKindMarket, "market", entry)
	if !entry.OK() {
		err := fmt.Errorf("trade_service: entry: %w: %w", domain.ErrSubmission, entry.Outcome.Err)
		res.TakeProfit = domain.LegResult{Leg: domain.OrderKindTakeProfit, Skipped: true}
		res.StopLoss = domain.LegResult{Leg: domain.OrderKindStopLoss, Skipped: true}
		return s.fail(ctx, res, domain.StateSubmittingEntry, err), err
	}

	// The entry is committed; bracket legs must not be cut short by the
	// caller going away.
	bctx := context.WithoutCancel(ctx)

	if intent.IsAsk {
		logger.WarnContext(ctx, "bracket triggers use long-side framing on a short entry",
			slog.Int64("tp_trigger", order.TakeProfitTrigger),
			slog.Int64("sl_trigger", order.StopLossTrigger),
		)
	}

	res.State = domain.StateSubmittingTakeProfit
	res.TakeProfit = s.placeBracketLeg(bctx, logger, domain.OrderRequest{
		Kind:         domain.OrderKindTakeProfit,
		MarketIndex:  meta.MarketIndex,
		BaseAmount:   order.BaseAmount,
		Price:        order.TakeProfitTrigger,
		TriggerPrice: order.TakeProfitTrigger,
		IsAsk:        !intent.IsAsk,
		ReduceOnly:   true,
	})

	res.State = domain.StateSubmittingStopLoss
	res.StopLoss = s.placeBracketLeg(bctx, logger, domain.OrderRequest{
		Kind:         domain.OrderKindStopLoss,
		MarketIndex:  meta.MarketIndex,
		BaseAmount:   order.BaseAmount,
		Price:        order.StopLossTrigger,
		TriggerPrice: order.StopLossTrigger,
		IsAsk:        !intent.IsAsk,
		ReduceOnly:   true,
	})

	res.State = domain.StateDone
	res.FinishedAt = s.now().UTC()

	result := "done"
	if !res.BracketComplete() {
		result = "partial"
	}
	metrics.Trade(result, res.FinishedAt.Sub(res.StartedAt))
	logger.InfoContext(ctx, "trade complete",
		slog.String("entry_tx", res.Entry.TxHash),
		slog.Bool("take_profit", res.TakeProfit.OK()),
		slog.Bool("stop_loss", res.StopLoss.OK()),
		slog.Bool("leverage_applied", res.Leverage.Applied),
	)

	s.report(bctx, res)
	return res, nil
}

// resolveInputs fetches metadata and price concurrently. When both fail the
// metadata failure is reported since it comes first in the sequence.
func (s *TradeService) resolveInputs(ctx context.Context, symbol string) (domain.MarketMetadata, float64, domain.TradeState, error) {
	var (
		meta     domain.MarketMetadata
		price    float64
		metaErr  error
		priceErr error
		g        errgroup.Group
	)
	g.Go(func() error {
		meta, metaErr = s.resolver.Resolve(ctx, symbol)
		return nil
	})
	g.Go(func() error {
		price, priceErr = s.oracle.Price(ctx, symbol)
		return nil
	})
	_ = g.Wait()

	if metaErr != nil {
		return meta, 0, domain.StateResolvingMetadata, fmt.Errorf("trade_service: resolve metadata: %w", metaErr)
	}
	if priceErr != nil {
		return meta, 0, domain.StatePricingReference, fmt.Errorf("trade_service: reference price: %w", priceErr)
	}
	return meta, price, "", nil
}

// placeBracketLeg tries the trigger-order path, then the generic order path
// when the venue has one. Failure is logged and returned in the leg result.
func (s *TradeService) placeBracketLeg(ctx context.Context, logger *slog.Logger, req domain.OrderRequest) domain.LegResult {
	strategies := []legStrategy{{name: "trigger", fn: s.venue.SubmitTriggerOrder}}
	if g, ok := s.venue.(GenericOrderSubmitter); ok {
		strategies = append(strategies, legStrategy{name: "generic", fn: g.SubmitGenericOrder})
	}

	leg := domain.LegResult{Leg: req.Kind}
	for _, st := range strategies {
		sub := s.submit.Submit(ctx, string(req.Kind), st.fn, req)
		attempts := leg.Attempts
		leg = legResult(req.Kind, st.name, sub)
		leg.Attempts += attempts
		if sub.OK() {
			return leg
		}
		logger.WarnContext(ctx, "bracket leg strategy failed",
			slog.String("leg", string(req.Kind)),
			slog.String("strategy", st.name),
			slog.String("error", leg.Error),
		)
	}

	logger.ErrorContext(ctx, "bracket leg not placed, entry remains open",
		slog.String("leg", string(req.Kind)),
		slog.Int64("trigger_price", req.TriggerPrice),
		slog.String("error", leg.Error),
	)
	return leg
}

func (s *TradeService) fail(ctx context.Context, res domain.TradeResult, at domain.TradeState, err error) domain.TradeResult {
	res.State = domain.StateFailed
	res.FailedAt = at
	res.Err = err
	res.Error = err.Error()
	res.FinishedAt = s.now().UTC()

	metrics.Trade("failed", res.FinishedAt.Sub(res.StartedAt))
	s.logger.ErrorContext(ctx, "trade failed",
		slog.String("trade_id", res.ID),
		slog.String("symbol", res.Intent.Symbol),
		slog.String("failed_at", string(at)),
		slog.String("error", err.Error()),
	)

	if !errors.Is(err, domain.ErrInvalidIntent) && !errors.Is(err, domain.ErrLockHeld) &&
		!errors.Is(err, domain.ErrRiskLimit) {
		s.report(context.WithoutCancel(ctx), res)
	}
	return res
}

func (s *TradeService) report(ctx context.Context, res domain.TradeResult) {
	if s.reporter != nil {
		s.reporter.Report(ctx, res)
	}
}

func legResult(kind domain.OrderKind, strategy string, sub domain.SubmissionResult) domain.LegResult {
	leg := domain.LegResult{
		Leg:      kind,
		Attempts: len(sub.Attempts),
		Strategy: strategy,
		TxHash:   sub.Outcome.Hash,
		Err:      sub.Outcome.Err,
	}
	if n := len(sub.Attempts); n > 0 {
		leg.ClientOrderIndex = sub.Attempts[n-1].ClientOrderIndex
	}
	if leg.Err != nil {
		leg.Error = leg.Err.Error()
	}
	return leg
}
