package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db.example.com:5432/perp?sslmode=require",
		DSN(ClientConfig{Host: "db.example.com", Database: "perp", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p@h:6543/d?sslmode=disable",
		DSN(ClientConfig{Host: "h", Port: 6543, Database: "d", User: "u", Password: "p", SSLMode: "disable"}))
}

func TestMigrationNamesOrdered(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_audit_log.sql", "002_trade_results.sql"}, names)
}

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := listQuery("SELECT x FROM t WHERE TRUE", "ts", nil, domain.ListOpts{
		Since: &since, Limit: 10, Offset: 20,
	})
	assert.Equal(t, "SELECT x FROM t WHERE TRUE AND ts >= $1 ORDER BY ts DESC LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{since, 10, 20}, args)

	q, args = listQuery("SELECT x FROM t WHERE TRUE", "ts", nil, domain.ListOpts{})
	assert.Equal(t, "SELECT x FROM t WHERE TRUE ORDER BY ts DESC", q)
	assert.Empty(t, args)
}

func TestToRow(t *testing.T) {
	res := domain.TradeResult{
		ID:        "t1",
		Intent:    domain.OrderIntent{Symbol: "ETH", IsAsk: true},
		State:     domain.StateDone,
		Metadata:  &domain.MarketMetadata{MarketIndex: 3},
		Order:     &domain.ComputedOrder{BaseAmount: 1200, EntryPriceEstimate: 3100},
		Entry:     domain.LegResult{TxHash: "0xa"},
		StartedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}
	row, err := toRow(res)
	require.NoError(t, err)

	assert.Equal(t, "sell", row.Side)
	assert.Equal(t, "done", row.State)
	assert.Nil(t, row.FailedAt)
	require.NotNil(t, row.MarketIndex)
	assert.Equal(t, int64(3), *row.MarketIndex)
	assert.Equal(t, int64(1200), *row.BaseAmount)
	assert.Equal(t, "0xa", *row.EntryTx)
	assert.Nil(t, row.TakeProfitTx)
	assert.Nil(t, row.FinishedAt)

	back, err := decodeResult(row.Result)
	require.NoError(t, err)
	assert.Equal(t, "t1", back.ID)
	assert.Equal(t, int64(3100), back.Order.EntryPriceEstimate)
}
