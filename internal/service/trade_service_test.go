package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/executor"
	"github.com/alanyoungcy/perpbot/internal/leverage"
	"github.com/alanyoungcy/perpbot/internal/nonce"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubResolver struct {
	meta domain.MarketMetadata
	err  error
}

func (s stubResolver) Resolve(context.Context, string) (domain.MarketMetadata, error) {
	return s.meta, s.err
}

type stubOracle struct {
	price float64
	err   error
}

func (s stubOracle) Price(context.Context, string) (float64, error) { return s.price, s.err }

type stubLeverage struct {
	result domain.LeverageResult
	calls  []leverage.Request
}

func (s *stubLeverage) Configure(_ context.Context, req leverage.Request) domain.LeverageResult {
	s.calls = append(s.calls, req)
	return s.result
}

type call struct {
	path string
	req  domain.OrderRequest
}

// scriptedVenue answers each order path with a queue of outcomes; an empty
// queue accepts.
type scriptedVenue struct {
	mu      sync.Mutex
	calls   []call
	scripts map[string][]domain.TxOutcome
}

func (v *scriptedVenue) next(path string, req domain.OrderRequest) (domain.TxOutcome, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, call{path: path, req: req})
	q := v.scripts[path]
	if len(q) == 0 {
		return domain.TxOutcome{Hash: "0x" + path}, nil
	}
	out := q[0]
	v.scripts[path] = q[1:]
	return out, nil
}

func (v *scriptedVenue) SubmitMarketOrder(_ context.Context, req domain.OrderRequest) (domain.TxOutcome, error) {
	return v.next("market", req)
}

func (v *scriptedVenue) SubmitTriggerOrder(_ context.Context, req domain.OrderRequest) (domain.TxOutcome, error) {
	return v.next("trigger", req)
}

func (v *scriptedVenue) paths() []string {
	out := make([]string, 0, len(v.calls))
	for _, c := range v.calls {
		out = append(out, c.path)
	}
	return out
}

type genericVenue struct {
	*scriptedVenue
}

func (v genericVenue) SubmitGenericOrder(_ context.Context, req domain.OrderRequest) (domain.TxOutcome, error) {
	return v.next("generic", req)
}

func rejected(msg string) domain.TxOutcome {
	return domain.TxOutcome{Err: errors.New(msg)}
}

func testMeta() domain.MarketMetadata {
	return domain.MarketMetadata{
		Symbol:      "BTC-USD",
		MarketIndex: 7,
		BaseScale:   1_000_000,
		PriceScale:  100,
		QuoteScale:  1,
		LotSize:     100,
	}
}

func testIntent() domain.OrderIntent {
	return domain.OrderIntent{
		ID:            "trade-1",
		Symbol:        "BTC_USD",
		USDMargin:     10,
		Leverage:      5,
		TakeProfitPct: 0.01,
		StopLossPct:   0.01,
		MarginMode:    domain.MarginIsolated,
	}
}

type fixture struct {
	svc   *TradeService
	venue *scriptedVenue
	lev   *stubLeverage
}

func newFixture(t *testing.T, venue OrderVenue, sv *scriptedVenue, resolver MetadataResolver, oracle PriceOracle) fixture {
	t.Helper()
	lev := &stubLeverage{result: domain.LeverageResult{Applied: true, Strategy: "combined"}}
	retrier := executor.NewRetrier(nonce.New(), executor.DefaultRetryConfig(), testLogger()).
		WithSleep(func(context.Context, time.Duration) error { return nil })
	svc := NewTradeService(resolver, oracle, lev, retrier, venue, testLogger())
	return fixture{svc: svc, venue: sv, lev: lev}
}

func defaultFixture(t *testing.T) fixture {
	sv := &scriptedVenue{scripts: map[string][]domain.TxOutcome{}}
	return newFixture(t, sv, sv, stubResolver{meta: testMeta()}, stubOracle{price: 100})
}

func TestExecuteHappyPathLong(t *testing.T) {
	f := defaultFixture(t)

	res, err := f.svc.Execute(context.Background(), testIntent())
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, res.State)
	assert.True(t, res.Succeeded())
	assert.True(t, res.BracketComplete())
	assert.Equal(t, 100.0, res.ReferencePrice)
	require.NotNil(t, res.Order)
	assert.Equal(t, int64(500_000), res.Order.BaseAmount)

	require.Len(t, f.lev.calls, 1)
	assert.Equal(t, leverage.Request{MarketIndex: 7, Leverage: 5, Mode: domain.MarginIsolated}, f.lev.calls[0])

	require.Equal(t, []string{"market", "trigger", "trigger"}, f.venue.paths())
	entry := f.venue.calls[0].req
	assert.Equal(t, domain.OrderKindMarket, entry.Kind)
	assert.Equal(t, int64(7), entry.MarketIndex)
	assert.Equal(t, int64(500_000), entry.BaseAmount)
	assert.Equal(t, int64(10_050), entry.Price)
	assert.False(t, entry.IsAsk)
	assert.NotZero(t, entry.ClientOrderIndex)

	tp := f.venue.calls[1].req
	assert.Equal(t, domain.OrderKindTakeProfit, tp.Kind)
	assert.Equal(t, int64(10_100), tp.TriggerPrice)
	assert.Equal(t, int64(10_100), tp.Price)
	assert.True(t, tp.IsAsk)
	assert.True(t, tp.ReduceOnly)

	sl := f.venue.calls[2].req
	assert.Equal(t, domain.OrderKindStopLoss, sl.Kind)
	assert.Equal(t, int64(9_900), sl.TriggerPrice)
	assert.True(t, sl.IsAsk)

	assert.Less(t, entry.ClientOrderIndex, tp.ClientOrderIndex)
	assert.Less(t, tp.ClientOrderIndex, sl.ClientOrderIndex)
	assert.Equal(t, "0xmarket", res.Entry.TxHash)
	assert.Equal(t, "trigger", res.TakeProfit.Strategy)
}

func TestExecuteShortClosesWithBids(t *testing.T) {
	f := defaultFixture(t)
	intent := testIntent()
	intent.IsAsk = true

	res, err := f.svc.Execute(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, res.State)

	assert.True(t, f.venue.calls[0].req.IsAsk)
	assert.Equal(t, int64(9_950), f.venue.calls[0].req.Price)
	assert.False(t, f.venue.calls[1].req.IsAsk)
	assert.False(t, f.venue.calls[2].req.IsAsk)
	assert.Equal(t, int64(10_100), f.venue.calls[1].req.TriggerPrice)
}

func TestExecuteMetadataFailure(t *testing.T) {
	sv := &scriptedVenue{scripts: map[string][]domain.TxOutcome{}}
	f := newFixture(t, sv, sv, stubResolver{err: domain.ErrMarketNotFound}, stubOracle{price: 100})

	res, err := f.svc.Execute(context.Background(), testIntent())
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
	assert.Equal(t, domain.StateFailed, res.State)
	assert.Equal(t, domain.StateResolvingMetadata, res.FailedAt)
	assert.Empty(t, sv.calls)
	assert.Empty(t, f.lev.calls)
}

func TestExecuteMetadataFailureWinsOverPriceFailure(t *testing.T) {
	sv := &scriptedVenue{scripts: map[string][]domain.TxOutcome{}}
	f := newFixture(t, sv, sv,
		stubResolver{err: domain.ErrMetadataResolution},
		stubOracle{err: domain.ErrPriceUnavailable})

	res, err := f.svc.Execute(context.Background(), testIntent())
	assert.ErrorIs(t, err, domain.ErrMetadataResolution)
	assert.Equal(t, domain.StateResolvingMetadata, res.FailedAt)
}

func TestExecutePriceFailure(t *testing.T) {
	sv := &scriptedVenue{scripts: map[string][]domain.TxOutcome{}}
	f := newFixture(t, sv, sv, stubResolver{meta: testMeta()}, stubOracle{err: domain.ErrPriceUnavailable})

	res, err := f.svc.Execute(context.Background(), testIntent())
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.Equal(t, domain.StatePricingReference, res.FailedAt)
	assert.Empty(t, sv.calls)
}

func TestExecuteInvalidPriceFailsAtPricing(t *testing.T) {
	sv := &scriptedVenue{scripts: map[string][]domain.TxOutcome{}}
	f := newFixture(t, sv, sv, stubResolver{meta: testMeta()}, stubOracle{price: 0.001})

	res, err := f.svc.Execute(context.Background(), testIntent())
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	assert.Equal(t, domain.StatePricingReference, res.FailedAt)
	assert.Empty(t, sv.calls)
}

func TestExecuteEntryFailureSkipsBrackets(t *testing.T) {
	f := defaultFixture(t)
	f.venue.scripts["market"] = []domain.TxOutcome{rejected("not enough margin")}

	res, err := f.svc.Execute(context.Background(), testIntent())
	assert.ErrorIs(t, err, domain.ErrSubmission)
	assert.Equal(t, domain.StateFailed, res.State)
	assert.Equal(t, domain.StateSubmittingEntry, res.FailedAt)
	assert.Equal(t, []string{"market"}, f.venue.paths())
	assert.Equal(t, 1, res.Entry.Attempts)
	assert.True(t, res.TakeProfit.Skipped)
	assert.True(t, res.StopLoss.Skipped)
}

func TestExecuteEntryNonceRetriesThenSucceeds(t *testing.T) {
	f := defaultFixture(t)
	f.venue.scripts["market"] = []domain.TxOutcome{rejected("invalid nonce"), rejected("Invalid Nonce")}

	res, err := f.svc.Execute(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Entry.Attempts)
	assert.Equal(t, []string{"market", "market", "market", "trigger", "trigger"}, f.venue.paths())
}

func TestExecuteTakeProfitFallsBackToGeneric(t *testing.T) {
	sv := &scriptedVenue{scripts: map[string][]domain.TxOutcome{
		"trigger": {rejected("trigger orders disabled")},
	}}
	f := newFixture(t, genericVenue{sv}, sv, stubResolver{meta: testMeta()}, stubOracle{price: 100})

	res, err := f.svc.Execute(context.Background(), testIntent())
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, res.State)
	assert.True(t, res.TakeProfit.OK())
	assert.Equal(t, "generic", res.TakeProfit.Strategy)
	assert.Equal(t, 2, res.TakeProfit.Attempts)
	assert.Equal(t, "0xgeneric", res.TakeProfit.TxHash)
	assert.Equal(t, "trigger", res.StopLoss.Strategy)
	assert.Equal(t, []string{"market", "trigger", "generic", "trigger"}, sv.paths())
}

func TestExecuteBracketFailureStillDone(t *testing.T) {
	f := defaultFixture(t)
	f.venue.scripts["trigger"] = []domain.TxOutcome{rejected("trigger price out of band")}

	res, err := f.svc.Execute(context.Background(), testIntent())
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, res.State)
	assert.True(t, res.Succeeded())
	assert.False(t, res.BracketComplete())
	assert.False(t, res.TakeProfit.OK())
	assert.Contains(t, res.TakeProfit.Error, "out of band")
	assert.True(t, res.StopLoss.OK())
}

func TestExecuteLeverageFailureIsNotFatal(t *testing.T) {
	f := defaultFixture(t)
	f.lev.result = domain.LeverageResult{Error: "leverage: leverage configuration failed: boom"}

	res, err := f.svc.Execute(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, res.State)
	assert.False(t, res.Leverage.Applied)
}

func TestExecuteInvalidIntent(t *testing.T) {
	f := defaultFixture(t)
	intent := testIntent()
	intent.Leverage = 0

	res, err := f.svc.Execute(context.Background(), intent)
	assert.ErrorIs(t, err, domain.ErrInvalidIntent)
	assert.Equal(t, domain.StateFailed, res.State)
	assert.Empty(t, f.venue.calls)
}

func TestExecuteGeneratesID(t *testing.T) {
	f := defaultFixture(t)
	intent := testIntent()
	intent.ID = ""

	res, err := f.svc.Execute(context.Background(), intent)
	require.NoError(t, err)
	assert.Len(t, res.ID, 36)
}

type stubLocks struct {
	held     map[string]bool
	released []string
}

func (l *stubLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		delete(l.held, key)
		l.released = append(l.released, key)
	}, nil
}

func TestExecuteLockHeld(t *testing.T) {
	f := defaultFixture(t)
	locks := &stubLocks{held: map[string]bool{"trade:42": true}}
	f.svc.WithLock(locks, "trade:42", time.Minute)

	res, err := f.svc.Execute(context.Background(), testIntent())
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Equal(t, domain.StateFailed, res.State)
	assert.Empty(t, f.venue.calls)
}

func TestExecuteReleasesLock(t *testing.T) {
	f := defaultFixture(t)
	locks := &stubLocks{held: map[string]bool{}}
	f.svc.WithLock(locks, "trade:42", time.Minute)

	_, err := f.svc.Execute(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, []string{"trade:42"}, locks.released)
	assert.Empty(t, locks.held)
}

type slowOracle struct {
	started chan struct{}
	release chan struct{}
}

func (o slowOracle) Price(ctx context.Context, _ string) (float64, error) {
	close(o.started)
	<-o.release
	return 100, nil
}

type waitingResolver struct {
	oracleStarted chan struct{}
	release       chan struct{}
}

func (r waitingResolver) Resolve(ctx context.Context, _ string) (domain.MarketMetadata, error) {
	select {
	case <-r.oracleStarted:
	case <-time.After(2 * time.Second):
		return domain.MarketMetadata{}, errors.New("oracle was not called concurrently")
	}
	close(r.release)
	return testMeta(), nil
}

func TestExecuteResolvesMetadataAndPriceConcurrently(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	sv := &scriptedVenue{scripts: map[string][]domain.TxOutcome{}}
	f := newFixture(t, sv, sv,
		waitingResolver{oracleStarted: started, release: release},
		slowOracle{started: started, release: release})

	res, err := f.svc.Execute(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, res.State)
}

func TestExecuteBracketsSurviveCallerCancel(t *testing.T) {
	sv := &scriptedVenue{scripts: map[string][]domain.TxOutcome{}}
	ctx, cancel := context.WithCancel(context.Background())
	venue := &cancelAfterEntry{scriptedVenue: sv, cancel: cancel}
	f := newFixture(t, venue, sv, stubResolver{meta: testMeta()}, stubOracle{price: 100})

	res, err := f.svc.Execute(ctx, testIntent())
	require.NoError(t, err)
	assert.True(t, res.BracketComplete())
}

type cancelAfterEntry struct {
	*scriptedVenue
	cancel context.CancelFunc
}

func (c *cancelAfterEntry) SubmitMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.TxOutcome, error) {
	out, err := c.scriptedVenue.SubmitMarketOrder(ctx, req)
	c.cancel()
	return out, err
}

func (c *cancelAfterEntry) SubmitTriggerOrder(ctx context.Context, req domain.OrderRequest) (domain.TxOutcome, error) {
	if err := ctx.Err(); err != nil {
		return domain.TxOutcome{}, err
	}
	return c.scriptedVenue.SubmitTriggerOrder(ctx, req)
}

func TestLegResultCarriesLastIndex(t *testing.T) {
	sub := domain.SubmissionResult{
		Outcome: domain.TxOutcome{Err: errors.New("x")},
		Attempts: []domain.SubmissionAttempt{
			{ClientOrderIndex: 1},
			{ClientOrderIndex: 2},
		},
	}
	leg := legResult(domain.OrderKindStopLoss, "trigger", sub)
	assert.Equal(t, int64(2), leg.ClientOrderIndex)
	assert.Equal(t, 2, leg.Attempts)
	assert.True(t, strings.Contains(leg.Error, "x"))
}
