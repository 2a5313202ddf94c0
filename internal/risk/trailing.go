package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/position"
)

// TrailingState tracks one position's water marks for trailing stops.
type TrailingState struct {
	PositionID    string    `json:"position_id"`
	Side          position.Side `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	HighWaterMark float64   `json:"high_water_mark"` // Best price seen for longs
	LowWaterMark  float64   `json:"low_water_mark"`  // Best price seen for shorts
	Activated     bool      `json:"activated"`
	LastUpdate    time.Time `json:"last_update"`
}

// StopUpdate is a proposed stop-loss tightening.
type StopUpdate struct {
	PositionID  string
	OldStopLoss float64
	NewStopLoss float64
}

// TrailingTracker maintains trailing stop state per position. A stop
// only ever moves in the profit-protecting direction: up for longs,
// down for shorts. It never loosens.
type TrailingTracker struct {
	mu     sync.Mutex
	cfg    config.TrailingConfig
	states map[string]*TrailingState
	logger zerolog.Logger
}

// NewTrailingTracker creates a trailing stop tracker.
func NewTrailingTracker(cfg config.TrailingConfig, logger zerolog.Logger) *TrailingTracker {
	return &TrailingTracker{
		cfg:    cfg,
		states: make(map[string]*TrailingState),
		logger: logger.With().Str("component", "TrailingTracker").Logger(),
	}
}

// Track registers a position. Restores from a snapshot when one exists.
func (t *TrailingTracker) Track(pos *position.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.states[pos.ID]; exists {
		return
	}
	t.states[pos.ID] = &TrailingState{
		PositionID:    pos.ID,
		Side:          pos.Side,
		EntryPrice:    pos.EntryPrice,
		HighWaterMark: pos.EntryPrice,
		LowWaterMark:  pos.EntryPrice,
		LastUpdate:    time.Now(),
	}
}

// Restore installs previously persisted trailing state, so a restart
// does not reset water marks.
func (t *TrailingTracker) Restore(state *TrailingState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[state.PositionID] = state
}

// Forget drops a closed position.
func (t *TrailingTracker) Forget(positionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, positionID)
}

// State returns a copy of the tracked state, or nil when untracked.
func (t *TrailingTracker) State(positionID string) *TrailingState {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[positionID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// Observe feeds the current price for a position and returns a stop
// update when the trailing stop should tighten, nil otherwise.
func (t *TrailingTracker) Observe(pos *position.Position, price float64) *StopUpdate {
	if !t.cfg.Enabled {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[pos.ID]
	if !ok {
		return nil
	}
	state.LastUpdate = time.Now()

	if pos.Side == position.SideLong {
		return t.observeLong(pos, state, price)
	}
	return t.observeShort(pos, state, price)
}

func (t *TrailingTracker) observeLong(pos *position.Position, state *TrailingState, price float64) *StopUpdate {
	if price > state.HighWaterMark {
		state.HighWaterMark = price
	}

	profitPercent := (price - state.EntryPrice) / state.EntryPrice * 100
	if !state.Activated && profitPercent >= t.cfg.ActivationPercent {
		state.Activated = true
		t.logger.Info().
			Str("position_id", pos.ID).
			Float64("profit_percent", profitPercent).
			Msg("Trailing stop activated")
	}
	if !state.Activated {
		return nil
	}

	candidate := state.HighWaterMark * (1 - t.cfg.TrailingPercent/100)
	if candidate <= pos.StopLoss {
		return nil // Only ever tighten
	}

	t.logger.Info().
		Str("position_id", pos.ID).
		Float64("old_stop", pos.StopLoss).
		Float64("new_stop", candidate).
		Float64("high_water_mark", state.HighWaterMark).
		Msg("Trailing stop tightened")

	return &StopUpdate{PositionID: pos.ID, OldStopLoss: pos.StopLoss, NewStopLoss: candidate}
}

func (t *TrailingTracker) observeShort(pos *position.Position, state *TrailingState, price float64) *StopUpdate {
	if price < state.LowWaterMark {
		state.LowWaterMark = price
	}

	profitPercent := (state.EntryPrice - price) / state.EntryPrice * 100
	if !state.Activated && profitPercent >= t.cfg.ActivationPercent {
		state.Activated = true
		t.logger.Info().
			Str("position_id", pos.ID).
			Float64("profit_percent", profitPercent).
			Msg("Trailing stop activated")
	}
	if !state.Activated {
		return nil
	}

	// A zero stop means the position has none yet; any trailing stop
	// is a tightening then.
	candidate := state.LowWaterMark * (1 + t.cfg.TrailingPercent/100)
	if pos.StopLoss > 0 && candidate >= pos.StopLoss {
		return nil // Only ever tighten
	}

	t.logger.Info().
		Str("position_id", pos.ID).
		Float64("old_stop", pos.StopLoss).
		Float64("new_stop", candidate).
		Float64("low_water_mark", state.LowWaterMark).
		Msg("Trailing stop tightened")

	return &StopUpdate{PositionID: pos.ID, OldStopLoss: pos.StopLoss, NewStopLoss: candidate}
}
