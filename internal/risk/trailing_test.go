package risk

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/position"
)

func testTrailingConfig() config.TrailingConfig {
	return config.TrailingConfig{
		Enabled:           true,
		TrailingPercent:   2.0,
		ActivationPercent: 1.0,
	}
}

func longPosition() *position.Position {
	return &position.Position{
		ID:         "pos-1",
		Symbol:     "BTCUSDT",
		Side:       position.SideLong,
		EntryPrice: 100,
		StopLoss:   95,
	}
}

func TestTrailingActivation(t *testing.T) {
	tr := NewTrailingTracker(testTrailingConfig(), zerolog.Nop())
	pos := longPosition()
	tr.Track(pos)

	// Below activation profit: no update even though price moved up.
	if upd := tr.Observe(pos, 100.5); upd != nil {
		t.Errorf("got update before activation: %+v", upd)
	}

	// 3% profit activates trailing. Stop = 103 * 0.98 = 100.94 > 95.
	upd := tr.Observe(pos, 103)
	if upd == nil {
		t.Fatal("expected update after activation")
	}
	if upd.NewStopLoss <= pos.StopLoss {
		t.Errorf("NewStopLoss = %v, want > %v", upd.NewStopLoss, pos.StopLoss)
	}
}

func TestTrailingNeverLoosens(t *testing.T) {
	tr := NewTrailingTracker(testTrailingConfig(), zerolog.Nop())
	pos := longPosition()
	tr.Track(pos)

	upd := tr.Observe(pos, 110)
	if upd == nil {
		t.Fatal("expected update at 110")
	}
	pos.StopLoss = upd.NewStopLoss

	// Price falls back: the candidate stop would be lower, so no
	// update may be produced.
	if upd := tr.Observe(pos, 105); upd != nil {
		t.Errorf("stop loosened: %+v", upd)
	}
	if upd := tr.Observe(pos, 101); upd != nil {
		t.Errorf("stop loosened: %+v", upd)
	}

	// A new high tightens again.
	upd2 := tr.Observe(pos, 115)
	if upd2 == nil {
		t.Fatal("expected update at new high")
	}
	if upd2.NewStopLoss <= pos.StopLoss {
		t.Errorf("NewStopLoss = %v, want > %v", upd2.NewStopLoss, pos.StopLoss)
	}
}

func TestTrailingShort(t *testing.T) {
	tr := NewTrailingTracker(testTrailingConfig(), zerolog.Nop())
	pos := &position.Position{
		ID:         "pos-2",
		Symbol:     "BTCUSDT",
		Side:       position.SideShort,
		EntryPrice: 100,
		StopLoss:   105,
	}
	tr.Track(pos)

	// 5% profit for a short. Stop = 95 * 1.02 = 96.9 < 105.
	upd := tr.Observe(pos, 95)
	if upd == nil {
		t.Fatal("expected update for profitable short")
	}
	if upd.NewStopLoss >= pos.StopLoss {
		t.Errorf("NewStopLoss = %v, want < %v", upd.NewStopLoss, pos.StopLoss)
	}
	pos.StopLoss = upd.NewStopLoss

	// Price bouncing back up must not loosen the short stop.
	if upd := tr.Observe(pos, 99); upd != nil {
		t.Errorf("short stop loosened: %+v", upd)
	}
}

// A short opened without a stop must still receive a trailing stop
// once activated; a zero stop is "no stop yet", not a bound.
func TestTrailingShortNoInitialStop(t *testing.T) {
	tr := NewTrailingTracker(testTrailingConfig(), zerolog.Nop())
	pos := &position.Position{
		ID:         "pos-3",
		Symbol:     "BTCUSDT",
		Side:       position.SideShort,
		EntryPrice: 100,
		StopLoss:   0,
	}
	tr.Track(pos)

	upd := tr.Observe(pos, 95)
	if upd == nil {
		t.Fatal("expected update for stopless short")
	}
	if want := 95 * 1.02; math.Abs(upd.NewStopLoss-want) > 1e-9 {
		t.Errorf("NewStopLoss = %v, want %v", upd.NewStopLoss, want)
	}
}

func TestTrailingDisabled(t *testing.T) {
	cfg := testTrailingConfig()
	cfg.Enabled = false
	tr := NewTrailingTracker(cfg, zerolog.Nop())
	pos := longPosition()
	tr.Track(pos)

	if upd := tr.Observe(pos, 150); upd != nil {
		t.Errorf("disabled tracker produced update: %+v", upd)
	}
}

func TestTrailingRestore(t *testing.T) {
	tr := NewTrailingTracker(testTrailingConfig(), zerolog.Nop())
	pos := longPosition()

	// Restore a snapshot with an established high water mark instead of
	// tracking fresh.
	tr.Restore(&TrailingState{
		PositionID:    pos.ID,
		Side:          position.SideLong,
		EntryPrice:    100,
		HighWaterMark: 120,
		LowWaterMark:  100,
		Activated:     true,
	})

	// Price 110 is below the restored mark; stop derives from 120.
	upd := tr.Observe(pos, 110)
	if upd == nil {
		t.Fatal("expected update from restored state")
	}
	want := 120 * 0.98
	if math.Abs(upd.NewStopLoss-want) > 1e-9 {
		t.Errorf("NewStopLoss = %v, want %v", upd.NewStopLoss, want)
	}
}

func TestTrailingForget(t *testing.T) {
	tr := NewTrailingTracker(testTrailingConfig(), zerolog.Nop())
	pos := longPosition()
	tr.Track(pos)
	tr.Forget(pos.ID)

	if upd := tr.Observe(pos, 150); upd != nil {
		t.Errorf("forgotten position produced update: %+v", upd)
	}
	if st := tr.State(pos.ID); st != nil {
		t.Errorf("State after Forget = %+v, want nil", st)
	}
}
