// Package signal defines the trade signal contract between the signal
// source and the execution engine. Signal generation itself lives behind
// the Source interface.
package signal

import (
	"context"
	"time"
)

// Action is the direction a signal proposes
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Opposite returns the reversing action. HOLD has no opposite.
func (a Action) Opposite() Action {
	switch a {
	case ActionBuy:
		return ActionSell
	case ActionSell:
		return ActionBuy
	default:
		return ActionHold
	}
}

// Signal is a trade proposal produced by the signal source.
type Signal struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Action      Action    `json:"action"`
	Confidence  float64   `json:"confidence"` // 0-100
	Entry       float64   `json:"entry"`      // Single entry price; 0 when a range is given
	EntryLow    float64   `json:"entry_low"`  // Optional entry range
	EntryHigh   float64   `json:"entry_high"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfits []float64 `json:"take_profits"` // Ascending for BUY, descending for SELL
	Leverage    int       `json:"leverage"`
	Limit       bool      `json:"limit"` // Place the entry as a limit order at EntryPrice
	GeneratedAt time.Time `json:"generated_at"`
}

// EntryPrice resolves the signal's entry: the midpoint when a range was
// supplied, the single price otherwise.
func (s *Signal) EntryPrice() float64 {
	if s.EntryLow > 0 && s.EntryHigh > 0 {
		return (s.EntryLow + s.EntryHigh) / 2
	}
	return s.Entry
}

// Source supplies the current signal for a symbol. The monitor consults
// it for reversal detection, so implementations should be cheap to call.
type Source interface {
	CurrentSignal(ctx context.Context, symbol string) (*Signal, error)
}
