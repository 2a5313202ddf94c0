package risk

import (
	"testing"

	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/signal"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionSizePercent: 2.0,
		MaxDailyLossPercent:    5.0,
		MaxOpenPositions:       3,
		AllowedLeverage:        []int{1, 2, 5, 10},
		MinAccountBalance:      100,
	}
}

func testSignal() *signal.Signal {
	return &signal.Signal{
		ID:       "sig-1",
		Symbol:   "BTCUSDT",
		Action:   signal.ActionBuy,
		Entry:    100,
		StopLoss: 95,
		Leverage: 5,
	}
}

func TestEvaluateApproved(t *testing.T) {
	m := NewManager(testRiskConfig(), zerolog.Nop())

	got := m.Evaluate(testSignal(), 1000, 0, 0)
	if !got.Allowed {
		t.Fatalf("expected approval, got rejection %s", got.Reason)
	}

	// 2% of 1000 = 20 risked, stop distance 5 -> size 4.
	if got.AdjustedSize != 4 {
		t.Errorf("AdjustedSize = %v, want 4", got.AdjustedSize)
	}
}

func TestEvaluateRejections(t *testing.T) {
	m := NewManager(testRiskConfig(), zerolog.Nop())

	tests := []struct {
		name       string
		mutate     func(*signal.Signal)
		balance    float64
		open       int
		dailyPnL   float64
		wantReason RejectReason
	}{
		{
			name:       "below min balance",
			mutate:     func(s *signal.Signal) {},
			balance:    50,
			wantReason: RejectBelowMinBalance,
		},
		{
			name:       "max positions reached",
			mutate:     func(s *signal.Signal) {},
			balance:    1000,
			open:       3,
			wantReason: RejectMaxPositionsReached,
		},
		{
			name:       "leverage not allowed",
			mutate:     func(s *signal.Signal) { s.Leverage = 7 },
			balance:    1000,
			wantReason: RejectLeverageNotAllowed,
		},
		{
			name:       "daily loss limit hit",
			mutate:     func(s *signal.Signal) {},
			balance:    1000,
			dailyPnL:   -50, // 5% of 1000
			wantReason: RejectDailyLossLimitHit,
		},
		{
			name:       "invalid stop distance",
			mutate:     func(s *signal.Signal) { s.StopLoss = s.Entry },
			balance:    1000,
			wantReason: RejectInvalidStopDistance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := testSignal()
			tt.mutate(sig)

			got := m.Evaluate(sig, tt.balance, tt.open, tt.dailyPnL)
			if got.Allowed {
				t.Fatal("expected rejection, got approval")
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %s, want %s", got.Reason, tt.wantReason)
			}
		})
	}
}

// The balance check fires before every other check, even when several
// checks would fail at once.
func TestEvaluateCheckOrder(t *testing.T) {
	m := NewManager(testRiskConfig(), zerolog.Nop())

	sig := testSignal()
	sig.Leverage = 100
	sig.StopLoss = sig.Entry

	got := m.Evaluate(sig, 10, 5, -1000)
	if got.Reason != RejectBelowMinBalance {
		t.Errorf("Reason = %s, want %s", got.Reason, RejectBelowMinBalance)
	}
}

// The daily loss limit is an absolute veto once crossed; a profitable
// day never trips it.
func TestEvaluateDailyLossVeto(t *testing.T) {
	m := NewManager(testRiskConfig(), zerolog.Nop())

	if got := m.Evaluate(testSignal(), 1000, 0, 100); !got.Allowed {
		t.Errorf("profitable day rejected with %s", got.Reason)
	}
	if got := m.Evaluate(testSignal(), 1000, 0, -49.99); !got.Allowed {
		t.Errorf("loss below limit rejected with %s", got.Reason)
	}
	if got := m.Evaluate(testSignal(), 1000, 0, -50); got.Allowed {
		t.Error("loss at limit was approved")
	}
}

func TestEvaluateEntryRange(t *testing.T) {
	m := NewManager(testRiskConfig(), zerolog.Nop())

	sig := testSignal()
	sig.Entry = 0
	sig.EntryLow = 98
	sig.EntryHigh = 102

	got := m.Evaluate(sig, 1000, 0, 0)
	if !got.Allowed {
		t.Fatalf("expected approval, got %s", got.Reason)
	}
	// Midpoint 100, stop 95 -> same sizing as the single-entry case.
	if got.AdjustedSize != 4 {
		t.Errorf("AdjustedSize = %v, want 4", got.AdjustedSize)
	}
}
