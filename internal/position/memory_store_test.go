package position

import (
	"context"
	"errors"
	"testing"
	"time"
)

func storedPosition(id string) *Position {
	return &Position{
		ID:            id,
		Symbol:        "BTCUSDT",
		Side:          SideLong,
		EntryPrice:    100,
		Size:          2,
		RemainingSize: 2,
		Leverage:      5,
		StopLoss:      95,
		TakeProfits:   []TakeProfit{{Level: 1, Price: 105, SizePercent: 100}},
		Status:        StatusOpen,
		OpenTime:      time.Now(),
	}
}

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.GetPosition(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPosition(missing) error = %v, want ErrNotFound", err)
	}

	pos := storedPosition("pos-1")
	if err := s.SavePosition(ctx, pos); err != nil {
		t.Fatalf("SavePosition() error = %v", err)
	}

	got, err := s.GetPosition(ctx, "pos-1")
	if err != nil {
		t.Fatalf("GetPosition() error = %v", err)
	}
	if got.Symbol != "BTCUSDT" || got.Status != StatusOpen {
		t.Errorf("got %+v", got)
	}

	got.StopLoss = 98
	if err := s.UpdatePosition(ctx, got); err != nil {
		t.Fatalf("UpdatePosition() error = %v", err)
	}
	reread, _ := s.GetPosition(ctx, "pos-1")
	if reread.StopLoss != 98 {
		t.Errorf("StopLoss = %v, want 98", reread.StopLoss)
	}

	if err := s.UpdatePosition(ctx, storedPosition("missing")); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdatePosition(missing) error = %v, want ErrNotFound", err)
	}
}

// Reads hand out clones: mutating a returned position must not leak
// into the stored copy.
func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SavePosition(ctx, storedPosition("pos-1"))

	got, _ := s.GetPosition(ctx, "pos-1")
	got.TakeProfits[0].Filled = true
	got.StopLoss = 0

	clean, _ := s.GetPosition(ctx, "pos-1")
	if clean.TakeProfits[0].Filled {
		t.Error("take-profit mutation leaked into the store")
	}
	if clean.StopLoss != 95 {
		t.Errorf("StopLoss = %v, want 95", clean.StopLoss)
	}
}

func TestMemoryStoreOpenPositions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SavePosition(ctx, storedPosition("pos-1"))
	s.SavePosition(ctx, storedPosition("pos-2"))

	partial := storedPosition("pos-3")
	partial.Status = StatusPartialClosed
	s.SavePosition(ctx, partial)

	if err := s.ClosePosition(ctx, "pos-2", &TradeHistory{PositionID: "pos-2", PnL: 5, ExitTime: time.Now()}); err != nil {
		t.Fatalf("ClosePosition() error = %v", err)
	}

	open, err := s.GetOpenPositions(ctx)
	if err != nil {
		t.Fatalf("GetOpenPositions() error = %v", err)
	}
	// Partially closed positions still need monitoring.
	if len(open) != 2 {
		t.Errorf("open positions = %d, want 2", len(open))
	}

	closed, _ := s.GetPosition(ctx, "pos-2")
	if closed.Status != StatusClosed || closed.RemainingSize != 0 {
		t.Errorf("closed position = %+v", closed)
	}
}

func TestMemoryStoreDailyRealizedPnL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	day := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	records := []*TradeHistory{
		{ID: "h-1", PnL: 10, ExitTime: day.Add(2 * time.Hour)},
		{ID: "h-2", PnL: -4, ExitTime: day.Add(23*time.Hour + 59*time.Minute)},
		{ID: "h-3", PnL: 100, ExitTime: day.Add(-time.Minute)},     // Previous day
		{ID: "h-4", PnL: 100, ExitTime: day.Add(24 * time.Hour)},   // Next day
	}
	for _, rec := range records {
		if err := s.AppendHistory(ctx, rec); err != nil {
			t.Fatalf("AppendHistory() error = %v", err)
		}
	}

	got, err := s.DailyRealizedPnL(ctx, day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("DailyRealizedPnL() error = %v", err)
	}
	if got != 6 {
		t.Errorf("DailyRealizedPnL() = %v, want 6", got)
	}
}
