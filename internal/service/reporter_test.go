package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
	err       error
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	if b.streamed == nil {
		b.streamed = map[string][][]byte{}
	}
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memAudit struct {
	events  []string
	details []map[string]any
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	a.details = append(a.details, detail)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memBlobs struct {
	objects map[string][]byte
	types   map[string]string
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
		m.types = map[string]string{}
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

type memTrades struct {
	saved []domain.TradeResult
}

func (m *memTrades) Save(_ context.Context, res domain.TradeResult) error {
	m.saved = append(m.saved, res)
	return nil
}

func (m *memTrades) Get(context.Context, string) (domain.TradeResult, error) {
	return domain.TradeResult{}, domain.ErrNotFound
}

func (m *memTrades) List(context.Context, domain.ListOpts) ([]domain.TradeResult, error) {
	return m.saved, nil
}

type memNotifier struct {
	events []string
	titles []string
}

func (n *memNotifier) Notify(_ context.Context, event, title, _ string) error {
	n.events = append(n.events, event)
	n.titles = append(n.titles, title)
	return nil
}

func TestReporterFansOutSuccessfulTrade(t *testing.T) {
	bus := &memBus{}
	audit := &memAudit{}
	blobs := &memBlobs{}
	notifier := &memNotifier{}
	trades := &memTrades{}
	rep := NewReporter(testLogger()).
		WithStore(trades).
		WithBus(bus).
		WithAudit(audit).
		WithReceipts(blobs, "trades").
		WithNotifier(notifier)

	f := defaultFixture(t)
	f.svc.WithReporter(rep)
	f.svc.now = func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC) }

	res, err := f.svc.Execute(context.Background(), testIntent())
	require.NoError(t, err)

	require.Len(t, bus.published[TradeEventsChannel], 1)
	var published domain.TradeResult
	require.NoError(t, json.Unmarshal(bus.published[TradeEventsChannel][0], &published))
	assert.Equal(t, res.ID, published.ID)
	assert.Equal(t, domain.StateDone, published.State)
	assert.Len(t, bus.streamed[TradeHistoryStream], 1)

	require.Equal(t, []string{"trade_done"}, audit.events)
	assert.Equal(t, "trade-1", audit.details[0]["trade_id"])
	assert.Equal(t, "0xmarket", audit.details[0]["entry_tx"])
	assert.Equal(t, int64(500_000), audit.details[0]["base_amount"])

	path := "trades/2026/03/09/trade-1.json"
	require.Contains(t, blobs.objects, path)
	assert.Equal(t, "application/json", blobs.types[path])

	require.Len(t, trades.saved, 1)
	assert.True(t, trades.saved[0].BracketComplete())

	require.Len(t, notifier.titles, 1)
	assert.Contains(t, notifier.titles[0], "BTC")
}

func TestReporterReportsFailedTrade(t *testing.T) {
	audit := &memAudit{}
	rep := NewReporter(testLogger()).WithAudit(audit)

	sv := &scriptedVenue{scripts: map[string][]domain.TxOutcome{}}
	f := newFixture(t, sv, sv, stubResolver{err: domain.ErrMarketNotFound}, stubOracle{price: 100})
	f.svc.WithReporter(rep)

	_, err := f.svc.Execute(context.Background(), testIntent())
	require.Error(t, err)

	require.Equal(t, []string{"trade_failed"}, audit.events)
	assert.Equal(t, string(domain.StateResolvingMetadata), audit.details[0]["failed_at"])
}

func TestReporterSkipsInvalidIntent(t *testing.T) {
	audit := &memAudit{}
	f := defaultFixture(t)
	f.svc.WithReporter(NewReporter(testLogger()).WithAudit(audit))

	intent := testIntent()
	intent.USDMargin = -1
	_, err := f.svc.Execute(context.Background(), intent)
	require.ErrorIs(t, err, domain.ErrInvalidIntent)
	assert.Empty(t, audit.events)
}

func TestReporterSinkFailureDoesNotStopOthers(t *testing.T) {
	bus := &memBus{err: errors.New("redis down")}
	audit := &memAudit{}
	rep := NewReporter(testLogger()).WithBus(bus).WithAudit(audit)

	f := defaultFixture(t)
	f.svc.WithReporter(rep)

	res, err := f.svc.Execute(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, res.State)
	assert.Equal(t, []string{"trade_done"}, audit.events)
}

func TestReceiptPathDefaultsPrefix(t *testing.T) {
	rep := NewReporter(testLogger()).WithReceipts(&memBlobs{}, "")
	res := domain.TradeResult{ID: "abc", StartedAt: time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)}
	assert.Equal(t, "receipts/2025/12/31/abc.json", rep.receiptPath(res))
}
