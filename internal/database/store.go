package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"futures-trading-engine/internal/position"
)

// PostgresStore implements position.Store on top of the pgx pool.
type PostgresStore struct {
	db *DB
}

// NewPostgresStore creates a Postgres-backed position store.
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ position.Store = (*PostgresStore)(nil)

// SavePosition persists a newly opened position.
func (s *PostgresStore) SavePosition(ctx context.Context, pos *position.Position) error {
	takeProfits, err := json.Marshal(pos.TakeProfits)
	if err != nil {
		return fmt.Errorf("failed to marshal take profits: %w", err)
	}

	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO positions (
			id, symbol, side, entry_price, size, remaining_size, leverage,
			stop_loss, take_profits, status, open_time, signal_id,
			confidence, initial_margin
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		pos.ID, pos.Symbol, string(pos.Side), pos.EntryPrice, pos.Size,
		pos.RemainingSize, pos.Leverage, pos.StopLoss, takeProfits,
		string(pos.Status), pos.OpenTime, pos.SignalID, pos.Confidence,
		pos.InitialMargin,
	)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}
	return nil
}

// GetPosition returns a position by id, open or closed.
func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*position.Position, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT id, symbol, side, entry_price, size, remaining_size, leverage,
		       stop_loss, take_profits, status, open_time, signal_id,
		       confidence, initial_margin
		FROM positions WHERE id = $1`, id)

	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, position.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query position: %w", err)
	}
	return pos, nil
}

// GetOpenPositions returns all OPEN and PARTIAL_CLOSED positions.
func (s *PostgresStore) GetOpenPositions(ctx context.Context) ([]*position.Position, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, symbol, side, entry_price, size, remaining_size, leverage,
		       stop_loss, take_profits, status, open_time, signal_id,
		       confidence, initial_margin
		FROM positions
		WHERE status IN ('OPEN', 'PARTIAL_CLOSED')
		ORDER BY open_time`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var positions []*position.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// UpdatePosition persists mutations to an existing position.
func (s *PostgresStore) UpdatePosition(ctx context.Context, pos *position.Position) error {
	takeProfits, err := json.Marshal(pos.TakeProfits)
	if err != nil {
		return fmt.Errorf("failed to marshal take profits: %w", err)
	}

	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE positions
		SET remaining_size = $2, stop_loss = $3, take_profits = $4,
		    status = $5, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		pos.ID, pos.RemainingSize, pos.StopLoss, takeProfits, string(pos.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return position.ErrNotFound
	}
	return nil
}

// ClosePosition marks a position CLOSED and appends its final history
// record in one transaction.
func (s *PostgresStore) ClosePosition(ctx context.Context, id string, rec *position.TradeHistory) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE positions
		SET status = 'CLOSED', remaining_size = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status <> 'CLOSED'`, id)
	if err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return position.ErrNotFound
	}

	if err := insertHistory(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AppendHistory records a realized exit (partial or full).
func (s *PostgresStore) AppendHistory(ctx context.Context, rec *position.TradeHistory) error {
	return insertHistory(ctx, s.db.Pool, rec)
}

// DailyRealizedPnL sums realized PnL over the UTC day containing the
// given time.
func (s *PostgresStore) DailyRealizedPnL(ctx context.Context, day time.Time) (float64, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var pnl float64
	err := s.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(pnl), 0)
		FROM trade_history
		WHERE exit_time >= $1 AND exit_time < $2`, dayStart, dayEnd).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("failed to sum daily pnl: %w", err)
	}
	return pnl, nil
}

// execer covers both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertHistory(ctx context.Context, q execer, rec *position.TradeHistory) error {
	_, err := q.Exec(ctx, `
		INSERT INTO trade_history (
			id, position_id, symbol, side, entry_price, exit_price,
			quantity, reason, pnl, pnl_percent, fees, entry_time, exit_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.PositionID, rec.Symbol, string(rec.Side), rec.EntryPrice,
		rec.ExitPrice, rec.Quantity, string(rec.Reason), rec.PnL,
		rec.PnLPercent, rec.Fees, rec.EntryTime, rec.ExitTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade history: %w", err)
	}
	return nil
}

// scanPosition reads one position row.
func scanPosition(row pgx.Row) (*position.Position, error) {
	var (
		pos         position.Position
		side        string
		status      string
		takeProfits []byte
	)
	err := row.Scan(
		&pos.ID, &pos.Symbol, &side, &pos.EntryPrice, &pos.Size,
		&pos.RemainingSize, &pos.Leverage, &pos.StopLoss, &takeProfits,
		&status, &pos.OpenTime, &pos.SignalID, &pos.Confidence,
		&pos.InitialMargin,
	)
	if err != nil {
		return nil, err
	}
	pos.Side = position.Side(side)
	pos.Status = position.Status(status)
	if err := json.Unmarshal(takeProfits, &pos.TakeProfits); err != nil {
		return nil, fmt.Errorf("failed to unmarshal take profits: %w", err)
	}
	return &pos, nil
}
