package position

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a position id is unknown.
var ErrNotFound = errors.New("position not found")

// Store is the persistence contract for positions and trade history.
// The engine only ever talks to this interface; the Postgres and
// in-memory implementations are interchangeable.
type Store interface {
	// SavePosition persists a newly opened position.
	SavePosition(ctx context.Context, pos *Position) error

	// GetPosition returns a position by id, open or closed.
	GetPosition(ctx context.Context, id string) (*Position, error)

	// GetOpenPositions returns all positions with status OPEN or
	// PARTIAL_CLOSED.
	GetOpenPositions(ctx context.Context) ([]*Position, error)

	// UpdatePosition persists mutations to an existing position.
	UpdatePosition(ctx context.Context, pos *Position) error

	// ClosePosition marks a position CLOSED and appends its final
	// history record in one step.
	ClosePosition(ctx context.Context, id string, rec *TradeHistory) error

	// AppendHistory records a realized exit (partial or full).
	AppendHistory(ctx context.Context, rec *TradeHistory) error

	// DailyRealizedPnL sums realized PnL over the UTC day containing
	// the given time.
	DailyRealizedPnL(ctx context.Context, day time.Time) (float64, error)
}
