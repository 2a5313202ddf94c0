// Package monitor runs the periodic position check loop: stop-loss,
// take-profit ladder, trailing stop and signal reversal detection.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/events"
	"futures-trading-engine/internal/exchange"
	"futures-trading-engine/internal/position"
	"futures-trading-engine/internal/risk"
	"futures-trading-engine/internal/signal"
)

// Closer is the slice of the execution engine the monitor acts
// through. The monitor detects conditions; the engine owns mutations.
type Closer interface {
	ClosePosition(ctx context.Context, pos *position.Position, reason position.CloseReason, price float64) error
	PartialClose(ctx context.Context, pos *position.Position, level int, price float64) error
	UpdateStopLoss(ctx context.Context, pos *position.Position, newStop float64) error
}

// SnapshotStore persists trailing state so restarts keep water marks.
type SnapshotStore interface {
	SaveTrailingState(ctx context.Context, state *risk.TrailingState) error
}

// Monitor owns the check loop. Ticks are single-flight: when a tick is
// still running at the next interval, that interval is skipped rather
// than stacking overlapping checks.
type Monitor struct {
	cfg       config.MonitorConfig
	adapter   exchange.Adapter
	store     position.Store
	closer    Closer
	trailing  *risk.TrailingTracker
	source    signal.Source // Optional, enables reversal detection
	snapshots SnapshotStore // Optional
	bus       *events.Bus
	logger    zerolog.Logger

	busy    atomic.Bool
	paused  atomic.Bool
	running atomic.Bool

	mu   sync.Mutex
	quit chan struct{}
	done chan struct{}
}

// New creates a position monitor. source and snapshots may be nil.
func New(
	cfg config.MonitorConfig,
	adapter exchange.Adapter,
	store position.Store,
	closer Closer,
	trailing *risk.TrailingTracker,
	source signal.Source,
	snapshots SnapshotStore,
	bus *events.Bus,
	logger zerolog.Logger,
) *Monitor {
	return &Monitor{
		cfg:       cfg,
		adapter:   adapter,
		store:     store,
		closer:    closer,
		trailing:  trailing,
		source:    source,
		snapshots: snapshots,
		bus:       bus,
		logger:    logger.With().Str("component", "Monitor").Logger(),
	}
}

// Start launches the check loop. Calling Start on a running monitor is
// a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running.Swap(true) {
		return
	}
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(ctx)
	m.logger.Info().Dur("interval", m.cfg.Interval).Msg("Monitor started")
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running.Swap(false) {
		return
	}
	close(m.quit)
	<-m.done
	m.logger.Info().Msg("Monitor stopped")
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Paused reports whether the loop is waiting out exchange maintenance.
func (m *Monitor) Paused() bool {
	return m.paused.Load()
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.quit:
			return
		case <-ticker.C:
			if !m.busy.CompareAndSwap(false, true) {
				continue // Previous tick still running
			}
			m.Tick(ctx)
			m.busy.Store(false)

			if m.paused.Load() {
				ticker.Reset(m.cfg.PauseInterval)
			} else {
				ticker.Reset(m.cfg.Interval)
			}
		}
	}
}

// Tick runs one full check pass. Exported so tests and the control API
// can force a pass without waiting for the ticker.
func (m *Monitor) Tick(ctx context.Context) {
	positions, err := m.store.GetOpenPositions(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to load open positions")
		return
	}

	if m.paused.Load() {
		m.probe(ctx, positions)
		return
	}

	for _, pos := range positions {
		if err := m.checkPosition(ctx, pos); err != nil {
			if exchange.KindOf(err) == exchange.KindMaintenance {
				m.pause()
				return
			}
			// One position's failure never blocks the rest of the pass.
			m.logger.Error().
				Err(err).
				Str("position_id", pos.ID).
				Str("symbol", pos.Symbol).
				Msg("Position check failed")
			m.bus.PublishError("monitor", "position check failed", err)
		}
	}
}

// probe tests whether maintenance has ended and resumes when it has.
func (m *Monitor) probe(ctx context.Context, positions []*position.Position) {
	if len(positions) == 0 {
		m.resume()
		return
	}
	if _, err := m.adapter.FetchPrice(ctx, positions[0].Symbol); err != nil {
		if exchange.KindOf(err) == exchange.KindMaintenance {
			return // Still down
		}
	}
	m.resume()
}

func (m *Monitor) pause() {
	if m.paused.Swap(true) {
		return
	}
	m.logger.Warn().Dur("probe_interval", m.cfg.PauseInterval).Msg("Exchange in maintenance, monitor paused")
	m.bus.Publish(events.Event{Type: events.EventMonitorPaused})
}

func (m *Monitor) resume() {
	if !m.paused.Swap(false) {
		return
	}
	m.logger.Info().Msg("Exchange back, monitor resumed")
	m.bus.Publish(events.Event{Type: events.EventMonitorResumed})
}

// checkPosition evaluates one position against the current price. The
// stop-loss always wins over take-profit targets when both would
// trigger in the same tick.
func (m *Monitor) checkPosition(ctx context.Context, pos *position.Position) error {
	price, err := m.adapter.FetchPrice(ctx, pos.Symbol)
	if err != nil {
		return err
	}

	if m.stopLossHit(pos, price) {
		return m.closer.ClosePosition(ctx, pos, position.ReasonStopLoss, price)
	}

	// A fast move can cross several targets between ticks; fill them
	// all in ladder order.
	for _, tp := range pos.TakeProfits {
		if tp.Filled || !m.targetHit(pos, tp.Price, price) {
			continue
		}
		if err := m.closer.PartialClose(ctx, pos, tp.Level, price); err != nil {
			return err
		}
	}

	if upd := m.trailing.Observe(pos, price); upd != nil {
		if err := m.closer.UpdateStopLoss(ctx, pos, upd.NewStopLoss); err != nil {
			return err
		}
		m.snapshotTrailing(ctx, pos.ID)
	}

	return m.checkReversal(ctx, pos, price)
}

func (m *Monitor) stopLossHit(pos *position.Position, price float64) bool {
	if pos.StopLoss <= 0 {
		return false
	}
	if pos.Side == position.SideLong {
		return price <= pos.StopLoss
	}
	return price >= pos.StopLoss
}

func (m *Monitor) targetHit(pos *position.Position, target, price float64) bool {
	if pos.Side == position.SideLong {
		return price >= target
	}
	return price <= target
}

// checkReversal closes a position when the signal source now points the
// other way.
func (m *Monitor) checkReversal(ctx context.Context, pos *position.Position, price float64) error {
	if m.source == nil {
		return nil
	}

	sig, err := m.source.CurrentSignal(ctx, pos.Symbol)
	if err != nil || sig == nil {
		// Reversal detection is advisory, a source failure never fails
		// the tick.
		if err != nil {
			m.logger.Debug().Err(err).Str("symbol", pos.Symbol).Msg("Signal source unavailable")
		}
		return nil
	}

	entryAction := signal.ActionBuy
	if pos.Side == position.SideShort {
		entryAction = signal.ActionSell
	}
	if sig.Action != entryAction.Opposite() {
		return nil
	}

	m.logger.Info().
		Str("position_id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("signal_action", string(sig.Action)).
		Msg("Signal reversed, closing position")

	return m.closer.ClosePosition(ctx, pos, position.ReasonSignalReverse, price)
}

func (m *Monitor) snapshotTrailing(ctx context.Context, positionID string) {
	if m.snapshots == nil {
		return
	}
	state := m.trailing.State(positionID)
	if state == nil {
		return
	}
	if err := m.snapshots.SaveTrailingState(ctx, state); err != nil {
		m.logger.Warn().Err(err).Str("position_id", positionID).Msg("Failed to snapshot trailing state")
	}
}

// Stats returns a monitor snapshot for the status surface.
func (m *Monitor) Stats() map[string]interface{} {
	return map[string]interface{}{
		"running":        m.running.Load(),
		"paused":         m.paused.Load(),
		"interval":       m.cfg.Interval.String(),
		"pause_interval": m.cfg.PauseInterval.String(),
	}
}
