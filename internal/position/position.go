// Package position defines the engine's position and trade history
// records and the persistence contract for them.
package position

import (
	"time"
)

// Side is the position direction
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Direction returns +1 for longs and -1 for shorts, for PnL math.
func (s Side) Direction() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Status is the position lifecycle state
type Status string

const (
	StatusOpen          Status = "OPEN"
	StatusPartialClosed Status = "PARTIAL_CLOSED"
	StatusClosed        Status = "CLOSED"
)

// CloseReason explains why (part of) a position was closed
type CloseReason string

const (
	ReasonTakeProfit    CloseReason = "TAKE_PROFIT"
	ReasonStopLoss      CloseReason = "STOP_LOSS"
	ReasonManual        CloseReason = "MANUAL"
	ReasonSignalReverse CloseReason = "SIGNAL_REVERSE"
	ReasonRiskLimit     CloseReason = "RISK_LIMIT"
)

// TakeProfit is one target of a position's take-profit ladder.
type TakeProfit struct {
	Level       int     `json:"level"` // 1-based, ordered by distance from entry
	Price       float64 `json:"price"`
	SizePercent float64 `json:"size_percent"` // Percent of the original size
	Filled      bool    `json:"filled"`
}

// Position is the central mutable entity of the engine. Writes belong to
// the execution engine; the monitor reads it each tick and hands
// mutations back to the engine.
type Position struct {
	ID            string       `json:"id"`
	Symbol        string       `json:"symbol"`
	Side          Side         `json:"side"`
	EntryPrice    float64      `json:"entry_price"`
	Size          float64      `json:"size"`           // Original filled size
	RemainingSize float64      `json:"remaining_size"` // Size not yet closed
	Leverage      int          `json:"leverage"`
	StopLoss      float64      `json:"stop_loss"` // Mutable, tightened by trailing logic
	TakeProfits   []TakeProfit `json:"take_profits"`
	Status        Status       `json:"status"`
	OpenTime      time.Time    `json:"open_time"`
	SignalID      string       `json:"signal_id"`
	Confidence    float64      `json:"confidence"`
	InitialMargin float64      `json:"initial_margin"`
}

// Clone returns a deep copy, so the monitor can evaluate a position
// without sharing the engine's take-profit slice.
func (p *Position) Clone() *Position {
	cp := *p
	cp.TakeProfits = make([]TakeProfit, len(p.TakeProfits))
	copy(cp.TakeProfits, p.TakeProfits)
	return &cp
}

// NextUnfilledTarget returns the lowest-level unfilled take-profit
// target, or nil when all have filled.
func (p *Position) NextUnfilledTarget() *TakeProfit {
	for i := range p.TakeProfits {
		if !p.TakeProfits[i].Filled {
			return &p.TakeProfits[i]
		}
	}
	return nil
}

// TradeHistory is an append-only record of one realized exit.
type TradeHistory struct {
	ID          string        `json:"id"`
	PositionID  string        `json:"position_id"`
	Symbol      string        `json:"symbol"`
	Side        Side          `json:"side"`
	EntryPrice  float64       `json:"entry_price"`
	ExitPrice   float64       `json:"exit_price"`
	Quantity    float64       `json:"quantity"`
	Reason      CloseReason   `json:"reason"`
	PnL         float64       `json:"pnl"`
	PnLPercent  float64       `json:"pnl_percent"`
	Fees        float64       `json:"fees"`
	EntryTime   time.Time     `json:"entry_time"`
	ExitTime    time.Time     `json:"exit_time"`
	HoldingTime time.Duration `json:"holding_time"`
}
