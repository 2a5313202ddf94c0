package signal

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
)

// scriptedPrices returns a queued sequence of prices, one per fetch.
type scriptedPrices struct {
	prices []float64
}

func (s *scriptedPrices) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	price := s.prices[0]
	if len(s.prices) > 1 {
		s.prices = s.prices[1:]
	}
	return price, nil
}

func newTestSource(prices ...float64) *CrossoverSource {
	return NewCrossoverSource(CrossoverConfig{
		FastPeriod: 2,
		SlowPeriod: 3,
	}, &scriptedPrices{prices: prices}, zerolog.Nop())
}

func sample(t *testing.T, src *CrossoverSource, n int) *Signal {
	t.Helper()
	var sig *Signal
	var err error
	for i := 0; i < n; i++ {
		sig, err = src.CurrentSignal(context.Background(), "BTCUSDT")
		if err != nil {
			t.Fatalf("CurrentSignal() error = %v", err)
		}
	}
	return sig
}

func TestCrossoverWarmup(t *testing.T) {
	src := newTestSource(100, 99, 98)

	// No signal until the slow window fills and a cross occurs.
	if sig := sample(t, src, 3); sig != nil {
		t.Errorf("signal during warmup: %+v", sig)
	}
}

func TestCrossoverBuySignal(t *testing.T) {
	// Declining prices, then a jump that pulls the fast average above
	// the slow one.
	src := newTestSource(100, 99, 98, 105)

	sig := sample(t, src, 4)
	if sig == nil {
		t.Fatal("no signal after upward cross")
	}
	if sig.Action != ActionBuy {
		t.Errorf("Action = %s, want BUY", sig.Action)
	}
	if sig.Entry != 105 {
		t.Errorf("Entry = %v, want 105", sig.Entry)
	}
	// Default 2% stop below entry.
	if want := 105 * 0.98; math.Abs(sig.StopLoss-want) > 1e-9 {
		t.Errorf("StopLoss = %v, want %v", sig.StopLoss, want)
	}
	if len(sig.TakeProfits) != 3 {
		t.Fatalf("TakeProfits = %d, want 3", len(sig.TakeProfits))
	}
	for i, tp := range sig.TakeProfits {
		if tp <= sig.Entry {
			t.Errorf("target %d = %v, want above entry", i+1, tp)
		}
	}
	if sig.ID == "" {
		t.Error("signal has no id")
	}
}

// The same signal keeps being returned while the direction holds, so
// reversal detection in the monitor sees a stable signal id.
func TestCrossoverStableUntilReversal(t *testing.T) {
	src := newTestSource(100, 99, 98, 105, 106, 90)

	buy := sample(t, src, 4)
	if buy == nil || buy.Action != ActionBuy {
		t.Fatalf("setup failed: %+v", buy)
	}

	same := sample(t, src, 1)
	if same == nil || same.ID != buy.ID {
		t.Errorf("signal changed without a cross: %+v", same)
	}

	sell := sample(t, src, 1)
	if sell == nil || sell.Action != ActionSell {
		t.Fatalf("no sell after downward cross: %+v", sell)
	}
	if sell.ID == buy.ID {
		t.Error("reversal reused the previous signal id")
	}
	if sell.StopLoss <= sell.Entry {
		t.Errorf("short StopLoss = %v, want above entry %v", sell.StopLoss, sell.Entry)
	}
}

func TestCrossoverPerSymbolState(t *testing.T) {
	src := newTestSource(100, 99, 98, 105)

	// Warm up and cross on one symbol.
	if sig := sample(t, src, 4); sig == nil {
		t.Fatal("no signal on first symbol")
	}

	// A fresh symbol starts with an empty window.
	sig, err := src.CurrentSignal(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("CurrentSignal() error = %v", err)
	}
	if sig != nil {
		t.Errorf("fresh symbol produced signal: %+v", sig)
	}
}
