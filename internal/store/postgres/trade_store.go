package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// TradeStore implements domain.TradeStore on the trade_results table. The
// full result is kept as JSONB next to a few columns worth querying.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// tradeRow is the column projection of a TradeResult.
type tradeRow struct {
	ID              string
	Symbol          string
	Side            string
	State           string
	FailedAt        *string
	Error           *string
	MarketIndex     *int64
	BaseAmount      *int64
	EntryEstimate   *int64
	EntryTx         *string
	TakeProfitTx    *string
	StopLossTx      *string
	LeverageApplied bool
	Result          []byte
	StartedAt       time.Time
	FinishedAt      *time.Time
}

func toRow(res domain.TradeResult) (tradeRow, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return tradeRow{}, fmt.Errorf("postgres: marshal trade %s: %w", res.ID, err)
	}
	row := tradeRow{
		ID:              res.ID,
		Symbol:          res.Intent.Symbol,
		Side:            res.Intent.Side(),
		State:           string(res.State),
		FailedAt:        nonEmpty(string(res.FailedAt)),
		Error:           nonEmpty(res.Error),
		EntryTx:         nonEmpty(res.Entry.TxHash),
		TakeProfitTx:    nonEmpty(res.TakeProfit.TxHash),
		StopLossTx:      nonEmpty(res.StopLoss.TxHash),
		LeverageApplied: res.Leverage.Applied,
		Result:          raw,
		StartedAt:       res.StartedAt,
	}
	if res.Metadata != nil {
		row.MarketIndex = &res.Metadata.MarketIndex
	}
	if res.Order != nil {
		row.BaseAmount = &res.Order.BaseAmount
		row.EntryEstimate = &res.Order.EntryPriceEstimate
	}
	if !res.FinishedAt.IsZero() {
		row.FinishedAt = &res.FinishedAt
	}
	return row, nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Save upserts res by trade ID.
func (s *TradeStore) Save(ctx context.Context, res domain.TradeResult) error {
	r, err := toRow(res)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO trade_results (
			id, symbol, side, state, failed_at, error,
			market_index, base_amount, entry_estimate,
			entry_tx, take_profit_tx, stop_loss_tx,
			leverage_applied, result, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			failed_at = EXCLUDED.failed_at,
			error = EXCLUDED.error,
			entry_tx = EXCLUDED.entry_tx,
			take_profit_tx = EXCLUDED.take_profit_tx,
			stop_loss_tx = EXCLUDED.stop_loss_tx,
			leverage_applied = EXCLUDED.leverage_applied,
			result = EXCLUDED.result,
			finished_at = EXCLUDED.finished_at`
	if _, err := s.pool.Exec(ctx, q,
		r.ID, r.Symbol, r.Side, r.State, r.FailedAt, r.Error,
		r.MarketIndex, r.BaseAmount, r.EntryEstimate,
		r.EntryTx, r.TakeProfitTx, r.StopLossTx,
		r.LeverageApplied, r.Result, r.StartedAt, r.FinishedAt,
	); err != nil {
		return fmt.Errorf("postgres: save trade %s: %w", res.ID, err)
	}
	return nil
}

// Get returns one trade by ID or domain.ErrNotFound.
func (s *TradeStore) Get(ctx context.Context, id string) (domain.TradeResult, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT result FROM trade_results WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeResult{}, domain.ErrNotFound
		}
		return domain.TradeResult{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return decodeResult(raw)
}

// List returns trades newest first.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeResult, error) {
	q, args := listQuery(`SELECT result FROM trade_results WHERE TRUE`, "started_at", nil, opts)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeResult
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		res, err := decodeResult(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	return out, nil
}

func decodeResult(raw []byte) (domain.TradeResult, error) {
	var res domain.TradeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.TradeResult{}, fmt.Errorf("postgres: unmarshal trade: %w", err)
	}
	return res, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
