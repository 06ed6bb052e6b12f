package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/metrics"
)

// IndexSource issues client order indices.
type IndexSource interface {
	Next() int64
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryConfig controls the submission retry budget.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig allows three attempts with 0.75s, 1.5s backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 750 * time.Millisecond}
}

// Retrier submits an order with a bounded retry budget. Nonce races and
// transport errors are retried with a fresh client order index; any other
// venue rejection is terminal. Attempts run strictly one after another.
type Retrier struct {
	seq    IndexSource
	cfg    RetryConfig
	sleep  SleepFunc
	logger *slog.Logger
}

// NewRetrier creates a Retrier drawing indices from seq.
func NewRetrier(seq IndexSource, cfg RetryConfig, logger *slog.Logger) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Retrier{
		seq:    seq,
		cfg:    cfg,
		sleep:  sleepContext,
		logger: logger.With(slog.String("component", "retrier")),
	}
}

// WithSleep replaces the backoff wait; tests use it to skip wall-clock delays.
func (r *Retrier) WithSleep(fn SleepFunc) *Retrier {
	r.sleep = fn
	return r
}

// IsNonceConflict reports whether err is the venue's nonce rejection.
func IsNonceConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrNonceConflict) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "invalid nonce")
}

// Submit runs fn until it succeeds, hits a terminal error, or the attempt
// budget is spent. The returned result carries the last outcome and every
// attempt made.
func (r *Retrier) Submit(ctx context.Context, leg string, fn domain.OrderFunc, req domain.OrderRequest) domain.SubmissionResult {
	var res domain.SubmissionResult

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		req.ClientOrderIndex = r.seq.Next()

		outcome, err := fn(ctx, req)
		if err != nil {
			outcome = domain.TxOutcome{Err: err}
		}
		res.Outcome = outcome
		res.Attempts = append(res.Attempts, domain.SubmissionAttempt{
			ClientOrderIndex: req.ClientOrderIndex,
			Outcome:          outcome,
		})

		switch {
		case err != nil:
			metrics.SubmissionAttempt(leg, "transport")
			r.logger.WarnContext(ctx, "submission transport error",
				slog.String("leg", leg),
				slog.Int("attempt", attempt),
				slog.Int64("client_order_index", req.ClientOrderIndex),
				slog.String("error", err.Error()),
			)
		case outcome.Err == nil:
			metrics.SubmissionAttempt(leg, "ok")
			r.logger.InfoContext(ctx, "order accepted",
				slog.String("leg", leg),
				slog.Int("attempt", attempt),
				slog.Int64("client_order_index", req.ClientOrderIndex),
				slog.String("tx_hash", outcome.Hash),
			)
			return res
		case IsNonceConflict(outcome.Err):
			metrics.SubmissionAttempt(leg, "nonce")
			if attempt < r.cfg.MaxAttempts {
				metrics.NonceRetry(leg)
			}
			r.logger.WarnContext(ctx, "nonce conflict",
				slog.String("leg", leg),
				slog.Int("attempt", attempt),
				slog.Int64("client_order_index", req.ClientOrderIndex),
				slog.String("error", outcome.Err.Error()),
			)
		default:
			metrics.SubmissionAttempt(leg, "rejected")
			r.logger.WarnContext(ctx, "order rejected",
				slog.String("leg", leg),
				slog.Int("attempt", attempt),
				slog.Int64("client_order_index", req.ClientOrderIndex),
				slog.String("error", outcome.Err.Error()),
			)
			return res
		}

		if attempt == r.cfg.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, r.cfg.BaseDelay*time.Duration(attempt)); err != nil {
			res.Outcome.Err = fmt.Errorf("executor: backoff interrupted: %w (last: %v)", err, res.Outcome.Err)
			return res
		}
	}

	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
