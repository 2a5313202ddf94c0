// Package engine implements the order execution engine: it turns
// approved signals into positions and owns every position mutation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/events"
	"futures-trading-engine/internal/exchange"
	"futures-trading-engine/internal/notification"
	"futures-trading-engine/internal/position"
	"futures-trading-engine/internal/risk"
	"futures-trading-engine/internal/signal"
)

// settlementCurrency is the margin currency balances are read in.
const settlementCurrency = "USDT"

var (
	// ErrHalted is returned while the engine refuses new entries.
	ErrHalted = errors.New("engine halted")

	// ErrEntryNotFilled is returned when a limit entry does not fill
	// immediately. The order is canceled before this is returned.
	ErrEntryNotFilled = errors.New("entry order not filled")
)

// Engine opens, partially closes and closes positions. All exchange
// traffic goes through the request-layer adapter handed in at
// construction. The monitor detects exit conditions but always calls
// back into the engine to act on them, so close bookkeeping lives in
// exactly one place.
type Engine struct {
	cfg      config.EngineConfig
	adapter  exchange.Adapter
	store    position.Store
	riskMgr  *risk.Manager
	trailing *risk.TrailingTracker
	bus      *events.Bus
	notifier *notification.Manager
	logger   zerolog.Logger

	halted     atomic.Bool
	haltReason atomic.Value // string

	mu      sync.Mutex
	closing map[string]bool // Position ids with a close in flight
}

// New creates an execution engine.
func New(
	cfg config.EngineConfig,
	adapter exchange.Adapter,
	store position.Store,
	riskMgr *risk.Manager,
	trailing *risk.TrailingTracker,
	bus *events.Bus,
	notifier *notification.Manager,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		adapter:  adapter,
		store:    store,
		riskMgr:  riskMgr,
		trailing: trailing,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With().Str("component", "Engine").Logger(),
		closing:  make(map[string]bool),
	}
}

// Halted reports whether the engine is refusing new entries.
func (e *Engine) Halted() bool {
	return e.halted.Load()
}

// HaltReason returns why the engine halted, empty when running.
func (e *Engine) HaltReason() string {
	if v := e.haltReason.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Halt stops the engine from opening new positions. Existing positions
// keep being monitored and can still be closed.
func (e *Engine) Halt(reason string) {
	if e.halted.Swap(true) {
		return
	}
	e.haltReason.Store(reason)
	e.logger.Error().Str("reason", reason).Msg("Engine halted")
	e.bus.Publish(events.Event{
		Type: events.EventEngineHalted,
		Data: map[string]interface{}{"reason": reason},
	})
	e.notifier.RiskAlert(fmt.Sprintf("Engine halted: %s", reason))
}

// Resume clears a halt after operator intervention.
func (e *Engine) Resume() {
	if !e.halted.Swap(false) {
		return
	}
	e.haltReason.Store("")
	e.logger.Info().Msg("Engine resumed")
}

// ExecuteSignal runs the full entry pipeline for a signal: risk gate,
// entry order, protective stop and take-profit ladder, persistence.
// Protective order placement is best-effort; the monitor enforces stop
// and targets from engine state regardless of resting orders.
func (e *Engine) ExecuteSignal(ctx context.Context, sig *signal.Signal) (*position.Position, error) {
	if e.halted.Load() {
		return nil, ErrHalted
	}
	if sig.Action == signal.ActionHold {
		return nil, nil
	}

	balance, err := e.availableBalance(ctx)
	if err != nil {
		e.handleExchangeError(err)
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}

	open, err := e.store.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load open positions: %w", err)
	}

	dailyPnL, err := e.store.DailyRealizedPnL(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to compute daily pnl: %w", err)
	}

	assessment := e.riskMgr.Evaluate(sig, balance, len(open), dailyPnL)
	if !assessment.Allowed {
		e.bus.Publish(events.Event{
			Type: events.EventSignalRejected,
			Data: map[string]interface{}{
				"signal_id": sig.ID,
				"symbol":    sig.Symbol,
				"reason":    string(assessment.Reason),
			},
		})
		if assessment.Reason == risk.RejectDailyLossLimitHit {
			e.bus.PublishRiskAlert("daily loss limit hit, new entries rejected")
		}
		return nil, nil
	}

	pos, err := e.openPosition(ctx, sig, assessment.AdjustedSize)
	if err != nil {
		return nil, err
	}

	e.trailing.Track(pos)

	if err := e.store.SavePosition(ctx, pos); err != nil {
		e.logger.Error().Err(err).Str("position_id", pos.ID).Msg("Failed to persist position")
		return nil, fmt.Errorf("failed to save position: %w", err)
	}

	e.logger.Info().
		Str("position_id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Float64("entry_price", pos.EntryPrice).
		Float64("size", pos.Size).
		Float64("stop_loss", pos.StopLoss).
		Int("take_profits", len(pos.TakeProfits)).
		Msg("Position opened")

	e.bus.PublishTradeOpened(pos.ID, pos.Symbol, string(pos.Side), pos.EntryPrice, pos.Size)
	e.notifier.TradeOpened(pos.Symbol, string(pos.Side), pos.EntryPrice, pos.Size, pos.StopLoss)

	return pos, nil
}

// openPosition places the entry order and the protective orders and
// builds the position record.
func (e *Engine) openPosition(ctx context.Context, sig *signal.Signal, size float64) (*position.Position, error) {
	side := position.SideLong
	entrySide := exchange.SideBuy
	if sig.Action == signal.ActionSell {
		side = position.SideShort
		entrySide = exchange.SideSell
	}

	req := exchange.OrderRequest{
		Symbol: sig.Symbol,
		Side:   entrySide,
		Type:   exchange.TypeMarket,
		Amount: size,
	}
	if sig.Limit {
		req.Type = exchange.TypeLimit
		req.Price = sig.EntryPrice()
	}

	order, err := e.adapter.CreateOrder(ctx, req)
	if err != nil {
		e.handleExchangeError(err)
		return nil, fmt.Errorf("entry order failed: %w", err)
	}

	if order.Status != exchange.StatusFilled {
		// A resting limit entry leaves no position to protect. Cancel
		// and let the caller resubmit on the next signal.
		if cancelErr := e.adapter.CancelOrder(ctx, order.ID, sig.Symbol); cancelErr != nil {
			e.logger.Warn().Err(cancelErr).Str("order_id", order.ID).Msg("Failed to cancel unfilled entry")
		}
		return nil, ErrEntryNotFilled
	}

	entryPrice := order.Price
	if entryPrice == 0 {
		entryPrice = sig.EntryPrice()
	}

	leverage := sig.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	pos := &position.Position{
		ID:            uuid.New().String(),
		Symbol:        sig.Symbol,
		Side:          side,
		EntryPrice:    entryPrice,
		Size:          order.Filled,
		RemainingSize: order.Filled,
		Leverage:      leverage,
		StopLoss:      sig.StopLoss,
		TakeProfits:   buildLadder(sig.TakeProfits),
		Status:        position.StatusOpen,
		OpenTime:      time.Now(),
		SignalID:      sig.ID,
		Confidence:    sig.Confidence,
		InitialMargin: entryPrice * order.Filled / float64(leverage),
	}

	e.placeProtectiveOrders(ctx, pos)
	return pos, nil
}

// placeProtectiveOrders puts the stop and take-profit ladder on the
// exchange. Failures are logged, never fatal: the position exists once
// the entry fills, and the monitor enforces exits from engine state.
func (e *Engine) placeProtectiveOrders(ctx context.Context, pos *position.Position) {
	closeSide := exchange.SideSell
	if pos.Side == position.SideShort {
		closeSide = exchange.SideBuy
	}

	if pos.StopLoss > 0 {
		_, err := e.adapter.CreateOrder(ctx, exchange.OrderRequest{
			Symbol:     pos.Symbol,
			Side:       closeSide,
			Type:       exchange.TypeStopMarket,
			Amount:     pos.Size,
			StopPrice:  pos.StopLoss,
			ReduceOnly: true,
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("position_id", pos.ID).Msg("Failed to place stop-loss order")
		}
	}

	for _, tp := range pos.TakeProfits {
		_, err := e.adapter.CreateOrder(ctx, exchange.OrderRequest{
			Symbol:     pos.Symbol,
			Side:       closeSide,
			Type:       exchange.TypeTakeProfitMarket,
			Amount:     pos.Size * tp.SizePercent / 100,
			StopPrice:  tp.Price,
			ReduceOnly: true,
		})
		if err != nil {
			e.logger.Warn().Err(err).
				Str("position_id", pos.ID).
				Int("level", tp.Level).
				Msg("Failed to place take-profit order")
		}
	}
}

// buildLadder converts target prices to an equal-split take-profit
// ladder. Targets arrive ordered by distance from entry.
func buildLadder(targets []float64) []position.TakeProfit {
	if len(targets) == 0 {
		return nil
	}
	share := 100.0 / float64(len(targets))
	ladder := make([]position.TakeProfit, len(targets))
	for i, price := range targets {
		ladder[i] = position.TakeProfit{
			Level:       i + 1,
			Price:       price,
			SizePercent: share,
		}
	}
	return ladder
}

// ClosePosition fully closes a position at market. Safe to call
// concurrently for the same position: only one caller places the close
// order, the rest return without acting.
func (e *Engine) ClosePosition(ctx context.Context, pos *position.Position, reason position.CloseReason, price float64) error {
	if !e.beginClose(pos.ID) {
		e.logger.Debug().Str("position_id", pos.ID).Msg("Close already in flight")
		return nil
	}
	defer e.endClose(pos.ID)

	current, err := e.store.GetPosition(ctx, pos.ID)
	if err != nil {
		return fmt.Errorf("failed to load position: %w", err)
	}
	return e.closeFull(ctx, current, reason, price)
}

// closeFull does the actual full close. Callers must hold the
// per-position close guard.
func (e *Engine) closeFull(ctx context.Context, current *position.Position, reason position.CloseReason, price float64) error {
	if current.Status == position.StatusClosed {
		return nil
	}

	order, err := e.closeOrder(ctx, current, current.RemainingSize)
	if err != nil {
		e.handleExchangeError(err)
		return fmt.Errorf("close order failed: %w", err)
	}

	exitPrice := order.Price
	if exitPrice == 0 {
		exitPrice = price
	}

	rec := e.historyRecord(current, exitPrice, current.RemainingSize, reason)
	if err := e.store.ClosePosition(ctx, current.ID, rec); err != nil {
		return fmt.Errorf("failed to record close: %w", err)
	}

	e.trailing.Forget(current.ID)

	e.logger.Info().
		Str("position_id", current.ID).
		Str("symbol", current.Symbol).
		Str("reason", string(reason)).
		Float64("exit_price", exitPrice).
		Float64("pnl", rec.PnL).
		Msg("Position closed")

	e.bus.PublishTradeClosed(current.ID, current.Symbol, string(reason), exitPrice, rec.Quantity, rec.PnL, false)
	e.notifier.TradeClosed(current.Symbol, string(reason), current.EntryPrice, exitPrice, rec.PnL, rec.PnLPercent)

	return nil
}

// PartialClose realizes one take-profit target. Calling it again for a
// target that already filled is a no-op. When the last target fills the
// position closes fully instead. Like ClosePosition it takes the
// per-position close guard, so a partial close never races a full one.
func (e *Engine) PartialClose(ctx context.Context, pos *position.Position, level int, price float64) error {
	if !e.beginClose(pos.ID) {
		e.logger.Debug().Str("position_id", pos.ID).Msg("Close already in flight")
		return nil
	}
	defer e.endClose(pos.ID)

	current, err := e.store.GetPosition(ctx, pos.ID)
	if err != nil {
		return fmt.Errorf("failed to load position: %w", err)
	}
	if current.Status == position.StatusClosed {
		return nil
	}

	var target *position.TakeProfit
	remainingTargets := 0
	for i := range current.TakeProfits {
		if current.TakeProfits[i].Filled {
			continue
		}
		remainingTargets++
		if current.TakeProfits[i].Level == level {
			target = &current.TakeProfits[i]
		}
	}
	if target == nil {
		return nil // Already filled or unknown level
	}

	// Final target: close out the whole remainder. The target is marked
	// filled only after the close succeeds, so a failed close order
	// leaves it unfilled and the next tick retries it.
	if remainingTargets == 1 {
		if err := e.closeFull(ctx, current, position.ReasonTakeProfit, price); err != nil {
			return err
		}
		target.Filled = true
		current.Status = position.StatusClosed
		current.RemainingSize = 0
		if err := e.store.UpdatePosition(ctx, current); err != nil {
			e.logger.Warn().Err(err).Str("position_id", current.ID).Msg("Failed to persist final target fill")
		}
		return nil
	}

	quantity := current.Size * target.SizePercent / 100
	if quantity > current.RemainingSize {
		quantity = current.RemainingSize
	}

	order, err := e.closeOrder(ctx, current, quantity)
	if err != nil {
		e.handleExchangeError(err)
		return fmt.Errorf("partial close order failed: %w", err)
	}

	exitPrice := order.Price
	if exitPrice == 0 {
		exitPrice = price
	}

	target.Filled = true
	current.RemainingSize -= quantity
	current.Status = position.StatusPartialClosed

	rec := e.historyRecord(current, exitPrice, quantity, position.ReasonTakeProfit)
	if err := e.store.AppendHistory(ctx, rec); err != nil {
		return fmt.Errorf("failed to record partial close: %w", err)
	}
	if err := e.store.UpdatePosition(ctx, current); err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}

	e.logger.Info().
		Str("position_id", current.ID).
		Str("symbol", current.Symbol).
		Int("level", level).
		Float64("quantity", quantity).
		Float64("exit_price", exitPrice).
		Float64("pnl", rec.PnL).
		Float64("remaining", current.RemainingSize).
		Msg("Take profit filled")

	e.bus.PublishTradeClosed(current.ID, current.Symbol, string(position.ReasonTakeProfit), exitPrice, quantity, rec.PnL, true)
	e.notifier.PartialClose(current.Symbol, level, exitPrice, quantity, rec.PnL)

	return nil
}

// ManualClose closes a position by id at the current market price.
func (e *Engine) ManualClose(ctx context.Context, positionID string) error {
	pos, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	if pos.Status == position.StatusClosed {
		return fmt.Errorf("position %s already closed", positionID)
	}

	price, err := e.adapter.FetchPrice(ctx, pos.Symbol)
	if err != nil {
		e.handleExchangeError(err)
		return fmt.Errorf("failed to fetch price: %w", err)
	}
	return e.ClosePosition(ctx, pos, position.ReasonManual, price)
}

// UpdateStopLoss persists a trailing stop tightening.
func (e *Engine) UpdateStopLoss(ctx context.Context, pos *position.Position, newStop float64) error {
	current, err := e.store.GetPosition(ctx, pos.ID)
	if err != nil {
		return fmt.Errorf("failed to load position: %w", err)
	}
	if current.Status == position.StatusClosed {
		return nil
	}

	oldStop := current.StopLoss
	current.StopLoss = newStop
	if err := e.store.UpdatePosition(ctx, current); err != nil {
		return fmt.Errorf("failed to update stop loss: %w", err)
	}

	e.bus.PublishStopMoved(current.ID, current.Symbol, oldStop, newStop)
	return nil
}

// closeOrder places a reduce-only market order against the position.
func (e *Engine) closeOrder(ctx context.Context, pos *position.Position, quantity float64) (*exchange.Order, error) {
	side := exchange.SideSell
	if pos.Side == position.SideShort {
		side = exchange.SideBuy
	}
	return e.adapter.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       side,
		Type:       exchange.TypeMarket,
		Amount:     quantity,
		ReduceOnly: true,
	})
}

// historyRecord computes realized PnL net of entry and exit fees.
func (e *Engine) historyRecord(pos *position.Position, exitPrice, quantity float64, reason position.CloseReason) *position.TradeHistory {
	fees := (pos.EntryPrice + exitPrice) * quantity * e.cfg.FeeRate
	pnl := (exitPrice-pos.EntryPrice)*quantity*pos.Side.Direction() - fees

	pnlPercent := 0.0
	if pos.InitialMargin > 0 {
		pnlPercent = pnl / pos.InitialMargin * 100
	}

	now := time.Now()
	return &position.TradeHistory{
		ID:          uuid.New().String(),
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    quantity,
		Reason:      reason,
		PnL:         pnl,
		PnLPercent:  pnlPercent,
		Fees:        fees,
		EntryTime:   pos.OpenTime,
		ExitTime:    now,
		HoldingTime: now.Sub(pos.OpenTime),
	}
}

// availableBalance reads the settlement currency balance.
func (e *Engine) availableBalance(ctx context.Context) (float64, error) {
	balances, err := e.adapter.FetchBalance(ctx)
	if err != nil {
		return 0, err
	}
	return balances[settlementCurrency].Total, nil
}

// handleExchangeError inspects a classified exchange error and halts
// the engine on failures that retrying cannot fix.
func (e *Engine) handleExchangeError(err error) {
	switch exchange.KindOf(err) {
	case exchange.KindAuth:
		e.Halt("exchange authentication failed")
	case exchange.KindInsufficientBalance:
		if e.cfg.HaltOnInsufficientBalance {
			e.Halt("insufficient balance")
		}
	}
}

func (e *Engine) beginClose(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing[id] {
		return false
	}
	e.closing[id] = true
	return true
}

func (e *Engine) endClose(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.closing, id)
}

// RiskMetrics returns the risk manager's view of the current limits.
func (e *Engine) RiskMetrics(ctx context.Context) (map[string]interface{}, error) {
	balance, err := e.availableBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}
	open, err := e.store.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load open positions: %w", err)
	}
	dailyPnL, err := e.store.DailyRealizedPnL(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to compute daily pnl: %w", err)
	}
	return e.riskMgr.Metrics(balance, len(open), dailyPnL), nil
}

// Stats returns an engine snapshot for the status surface.
func (e *Engine) Stats(ctx context.Context) map[string]interface{} {
	stats := map[string]interface{}{
		"halted":      e.halted.Load(),
		"halt_reason": e.HaltReason(),
		"symbols":     e.cfg.Symbols,
	}
	if open, err := e.store.GetOpenPositions(ctx); err == nil {
		stats["open_positions"] = len(open)
	}
	if pnl, err := e.store.DailyRealizedPnL(ctx, time.Now().UTC()); err == nil {
		stats["daily_realized_pnl"] = pnl
	}
	return stats
}
