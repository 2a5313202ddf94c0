// Package bot wires the trading components together and owns their
// lifecycle: the request layer, execution engine, monitor and the
// signal polling loop.
package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/engine"
	"futures-trading-engine/internal/events"
	"futures-trading-engine/internal/exchange"
	"futures-trading-engine/internal/monitor"
	"futures-trading-engine/internal/position"
	"futures-trading-engine/internal/request"
	"futures-trading-engine/internal/risk"
	"futures-trading-engine/internal/signal"
)

// SnapshotRepo restores and retires trailing stop snapshots.
type SnapshotRepo interface {
	LoadTrailingState(ctx context.Context, positionID string) (*risk.TrailingState, error)
	DeleteTrailingState(ctx context.Context, positionID string) error
}

// Bot orchestrates the trading engine. It restores state on start,
// runs the signal polling loop and shuts everything down in order.
type Bot struct {
	cfg       *config.Config
	layer     *request.Layer
	adapter   exchange.Adapter
	engine    *engine.Engine
	monitor   *monitor.Monitor
	store     position.Store
	trailing  *risk.TrailingTracker
	source    signal.Source
	snapshots SnapshotRepo // Optional
	bus       *events.Bus
	logger    zerolog.Logger

	running  atomic.Bool
	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Last executed signal id per symbol, so a signal fires once.
	lastSignal map[string]string
	sigMu      sync.Mutex
}

// New creates the orchestrator. source and snapshots may be nil.
func New(
	cfg *config.Config,
	layer *request.Layer,
	adapter exchange.Adapter,
	eng *engine.Engine,
	mon *monitor.Monitor,
	store position.Store,
	trailing *risk.TrailingTracker,
	source signal.Source,
	snapshots SnapshotRepo,
	bus *events.Bus,
	logger zerolog.Logger,
) *Bot {
	b := &Bot{
		cfg:        cfg,
		layer:      layer,
		adapter:    adapter,
		engine:     eng,
		monitor:    mon,
		store:      store,
		trailing:   trailing,
		source:     source,
		snapshots:  snapshots,
		bus:        bus,
		logger:     logger.With().Str("component", "Bot").Logger(),
		lastSignal: make(map[string]string),
	}

	if snapshots != nil {
		bus.Subscribe(events.EventTradeClosed, func(ev events.Event) {
			if id, ok := ev.Data["position_id"].(string); ok {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = snapshots.DeleteTrailingState(ctx, id)
			}
		})
	}

	return b
}

// Start restores open positions, starts the monitor and launches the
// signal polling loop. Calling Start on a running bot is a no-op.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running.Swap(true) {
		return nil
	}

	if err := b.restore(ctx); err != nil {
		b.running.Store(false)
		return err
	}

	b.stopChan = make(chan struct{})
	b.monitor.Start(ctx)

	if b.source != nil {
		b.wg.Add(1)
		go b.pollSignals(ctx)
	}

	b.logger.Info().
		Strs("symbols", b.cfg.EngineConfig.Symbols).
		Bool("dry_run", b.cfg.ExchangeConfig.DryRun).
		Msg("Trading bot started")
	b.bus.Publish(events.Event{Type: events.EventEngineStarted})

	return nil
}

// Stop shuts the loops down and drains the request layer.
func (b *Bot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running.Swap(false) {
		return
	}

	close(b.stopChan)
	b.wg.Wait()
	b.monitor.Stop()
	b.layer.Close()

	b.logger.Info().Msg("Trading bot stopped")
	b.bus.Publish(events.Event{Type: events.EventEngineStopped})
}

// Running reports whether the bot loops are active.
func (b *Bot) Running() bool {
	return b.running.Load()
}

// restore re-registers open positions with the trailing tracker,
// loading persisted water marks when snapshots exist.
func (b *Bot) restore(ctx context.Context) error {
	open, err := b.store.GetOpenPositions(ctx)
	if err != nil {
		return err
	}

	for _, pos := range open {
		if b.snapshots != nil {
			state, err := b.snapshots.LoadTrailingState(ctx, pos.ID)
			if err == nil && state != nil {
				b.trailing.Restore(state)
				continue
			}
			if err != nil {
				b.logger.Warn().Err(err).Str("position_id", pos.ID).Msg("Failed to load trailing snapshot")
			}
		}
		b.trailing.Track(pos)
	}

	if len(open) > 0 {
		b.logger.Info().Int("count", len(open)).Msg("Restored open positions")
	}
	return nil
}

// pollSignals asks the signal source for each symbol and hands new
// signals to the engine. A signal id is executed at most once.
func (b *Bot) pollSignals(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.MonitorConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopChan:
			return
		case <-ticker.C:
			for _, symbol := range b.cfg.EngineConfig.Symbols {
				b.handleSymbol(ctx, symbol)
			}
		}
	}
}

func (b *Bot) handleSymbol(ctx context.Context, symbol string) {
	sig, err := b.source.CurrentSignal(ctx, symbol)
	if err != nil {
		b.logger.Debug().Err(err).Str("symbol", symbol).Msg("Signal source unavailable")
		return
	}
	if sig == nil || sig.Action == signal.ActionHold {
		return
	}

	b.sigMu.Lock()
	seen := b.lastSignal[symbol] == sig.ID
	if !seen {
		b.lastSignal[symbol] = sig.ID
	}
	b.sigMu.Unlock()
	if seen {
		return
	}

	if _, err := b.engine.ExecuteSignal(ctx, sig); err != nil {
		b.logger.Error().Err(err).Str("symbol", symbol).Str("signal_id", sig.ID).Msg("Signal execution failed")
		b.bus.PublishError("bot", "signal execution failed", err)
	}
}

// ExecuteSignal runs a signal submitted through the control API.
func (b *Bot) ExecuteSignal(ctx context.Context, sig *signal.Signal) (*position.Position, error) {
	return b.engine.ExecuteSignal(ctx, sig)
}

// ManualClose closes a position on operator request.
func (b *Bot) ManualClose(ctx context.Context, positionID string) error {
	return b.engine.ManualClose(ctx, positionID)
}

// ResumeEngine clears an engine halt.
func (b *Bot) ResumeEngine() {
	b.engine.Resume()
}

// Status returns a combined snapshot for the status surface.
func (b *Bot) Status(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{
		"running": b.running.Load(),
		"dry_run": b.cfg.ExchangeConfig.DryRun,
		"engine":  b.engine.Stats(ctx),
		"monitor": b.monitor.Stats(),
		"request": b.layer.Stats(),
	}
}

// RiskMetrics returns the current risk limits and usage.
func (b *Bot) RiskMetrics(ctx context.Context) (map[string]interface{}, error) {
	return b.engine.RiskMetrics(ctx)
}

// OpenPositions lists the currently open positions.
func (b *Bot) OpenPositions(ctx context.Context) ([]*position.Position, error) {
	return b.store.GetOpenPositions(ctx)
}

// GetPosition returns one position by id.
func (b *Bot) GetPosition(ctx context.Context, id string) (*position.Position, error) {
	return b.store.GetPosition(ctx, id)
}
