package position

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in dry-run mode and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]*Position
	history   []*TradeHistory
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]*Position),
	}
}

func (s *MemoryStore) SavePosition(ctx context.Context, pos *Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos.Clone()
	return nil
}

func (s *MemoryStore) GetPosition(ctx context.Context, id string) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return pos.Clone(), nil
}

func (s *MemoryStore) GetOpenPositions(ctx context.Context) ([]*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Position
	for _, pos := range s.positions {
		if pos.Status != StatusClosed {
			out = append(out, pos.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdatePosition(ctx context.Context, pos *Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[pos.ID]; !ok {
		return ErrNotFound
	}
	s.positions[pos.ID] = pos.Clone()
	return nil
}

func (s *MemoryStore) ClosePosition(ctx context.Context, id string, rec *TradeHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[id]
	if !ok {
		return ErrNotFound
	}
	pos.Status = StatusClosed
	pos.RemainingSize = 0
	if rec != nil {
		s.history = append(s.history, rec)
	}
	return nil
}

func (s *MemoryStore) AppendHistory(ctx context.Context, rec *TradeHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	return nil
}

func (s *MemoryStore) DailyRealizedPnL(ctx context.Context, day time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var total float64
	for _, rec := range s.history {
		exit := rec.ExitTime.UTC()
		if !exit.Before(dayStart) && exit.Before(dayEnd) {
			total += rec.PnL
		}
	}
	return total, nil
}

// History returns all recorded exits, oldest first.
func (s *MemoryStore) History() []*TradeHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*TradeHistory, len(s.history))
	copy(out, s.history)
	return out
}
