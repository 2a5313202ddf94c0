// Package risk implements pre-trade risk evaluation, position sizing and
// trailing stop bookkeeping.
package risk

import (
	"math"

	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/signal"
)

// RejectReason identifies which risk check failed.
type RejectReason string

const (
	RejectBelowMinBalance     RejectReason = "BELOW_MIN_BALANCE"
	RejectMaxPositionsReached RejectReason = "MAX_POSITIONS_REACHED"
	RejectLeverageNotAllowed  RejectReason = "LEVERAGE_NOT_ALLOWED"
	RejectDailyLossLimitHit   RejectReason = "DAILY_LOSS_LIMIT_HIT"
	RejectInvalidStopDistance RejectReason = "INVALID_STOP_DISTANCE"
)

// Assessment is the outcome of evaluating a signal.
type Assessment struct {
	Allowed      bool
	Reason       RejectReason // Set when Allowed is false
	AdjustedSize float64      // Safe position size when Allowed is true
}

// Manager evaluates candidate signals against the risk configuration.
// Evaluate is a pure function of its inputs plus the immutable config,
// so it carries no locks and no exchange or storage dependencies.
type Manager struct {
	cfg    config.RiskConfig
	logger zerolog.Logger
}

// NewManager creates a risk manager.
func NewManager(cfg config.RiskConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.With().Str("component", "RiskManager").Logger(),
	}
}

// Evaluate runs the risk checks in order, short-circuiting on the first
// failure, and computes the position size for an approved signal.
//
// The daily loss check is an absolute veto: once cumulative realized
// loss for the day crosses the limit, every later signal is rejected
// regardless of its own merit.
func (m *Manager) Evaluate(sig *signal.Signal, currentBalance float64, openPositions int, dailyRealizedPnL float64) Assessment {
	if currentBalance < m.cfg.MinAccountBalance {
		return m.reject(sig, RejectBelowMinBalance)
	}

	if openPositions >= m.cfg.MaxOpenPositions {
		return m.reject(sig, RejectMaxPositionsReached)
	}

	if !m.leverageAllowed(sig.Leverage) {
		return m.reject(sig, RejectLeverageNotAllowed)
	}

	maxDailyLoss := currentBalance * m.cfg.MaxDailyLossPercent / 100
	if -dailyRealizedPnL >= maxDailyLoss {
		return m.reject(sig, RejectDailyLossLimitHit)
	}

	entry := sig.EntryPrice()
	riskPerUnit := math.Abs(entry - sig.StopLoss)
	if riskPerUnit == 0 {
		return m.reject(sig, RejectInvalidStopDistance)
	}

	maxRiskAmount := currentBalance * m.cfg.MaxPositionSizePercent / 100
	size := maxRiskAmount / riskPerUnit

	m.logger.Debug().
		Str("symbol", sig.Symbol).
		Float64("balance", currentBalance).
		Float64("entry", entry).
		Float64("stop_loss", sig.StopLoss).
		Float64("risk_per_unit", riskPerUnit).
		Float64("size", size).
		Msg("Signal approved")

	return Assessment{Allowed: true, AdjustedSize: size}
}

func (m *Manager) reject(sig *signal.Signal, reason RejectReason) Assessment {
	m.logger.Info().
		Str("symbol", sig.Symbol).
		Str("reason", string(reason)).
		Msg("Signal rejected")
	return Assessment{Allowed: false, Reason: reason}
}

func (m *Manager) leverageAllowed(leverage int) bool {
	for _, allowed := range m.cfg.AllowedLeverage {
		if leverage == allowed {
			return true
		}
	}
	return false
}

// Metrics returns a snapshot of the configured limits for the status
// surface.
func (m *Manager) Metrics(currentBalance float64, openPositions int, dailyRealizedPnL float64) map[string]interface{} {
	maxDailyLoss := currentBalance * m.cfg.MaxDailyLossPercent / 100
	return map[string]interface{}{
		"max_position_size_percent": m.cfg.MaxPositionSizePercent,
		"max_daily_loss_percent":    m.cfg.MaxDailyLossPercent,
		"max_open_positions":        m.cfg.MaxOpenPositions,
		"allowed_leverage":          m.cfg.AllowedLeverage,
		"min_account_balance":       m.cfg.MinAccountBalance,
		"current_balance":           currentBalance,
		"open_positions":            openPositions,
		"daily_realized_pnl":        dailyRealizedPnL,
		"daily_loss_limit_hit":      -dailyRealizedPnL >= maxDailyLoss,
	}
}
