package signal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PriceFetcher is the slice of the exchange adapter the source needs.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, symbol string) (float64, error)
}

// CrossoverConfig configures the moving average crossover source.
type CrossoverConfig struct {
	FastPeriod         int       // Fast SMA window, in samples
	SlowPeriod         int       // Slow SMA window, in samples
	StopLossPercent    float64   // Stop distance from entry
	TakeProfitPercents []float64 // Ladder distances from entry, ascending
	Leverage           int
	Confidence         float64
}

func (c CrossoverConfig) withDefaults() CrossoverConfig {
	if c.FastPeriod <= 0 {
		c.FastPeriod = 7
	}
	if c.SlowPeriod <= c.FastPeriod {
		c.SlowPeriod = 25
	}
	if c.StopLossPercent <= 0 {
		c.StopLossPercent = 2.0
	}
	if len(c.TakeProfitPercents) == 0 {
		c.TakeProfitPercents = []float64{1.5, 3.0, 5.0}
	}
	if c.Leverage <= 0 {
		c.Leverage = 5
	}
	if c.Confidence <= 0 {
		c.Confidence = 60
	}
	return c
}

// CrossoverSource is a Source built on a simple moving average
// crossover over sampled prices. It emits a new signal when the fast
// average crosses the slow one and keeps returning that signal until
// the next cross, so reversal detection sees a stable direction.
type CrossoverSource struct {
	cfg     CrossoverConfig
	fetcher PriceFetcher
	logger  zerolog.Logger

	mu    sync.Mutex
	state map[string]*symbolState
}

type symbolState struct {
	prices  []float64 // Ring of the last SlowPeriod samples
	lastSig *Signal
}

// NewCrossoverSource creates a crossover signal source.
func NewCrossoverSource(cfg CrossoverConfig, fetcher PriceFetcher, logger zerolog.Logger) *CrossoverSource {
	return &CrossoverSource{
		cfg:     cfg.withDefaults(),
		fetcher: fetcher,
		logger:  logger.With().Str("component", "CrossoverSource").Logger(),
		state:   make(map[string]*symbolState),
	}
}

var _ Source = (*CrossoverSource)(nil)

// CurrentSignal samples the price, updates the averages and returns the
// active signal for the symbol, nil while there is none yet.
func (s *CrossoverSource) CurrentSignal(ctx context.Context, symbol string) (*Signal, error) {
	price, err := s.fetcher.FetchPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[symbol]
	if !ok {
		st = &symbolState{}
		s.state[symbol] = st
	}

	prevFast, prevSlow, prevOK := s.averages(st.prices)

	st.prices = append(st.prices, price)
	if len(st.prices) > s.cfg.SlowPeriod {
		st.prices = st.prices[len(st.prices)-s.cfg.SlowPeriod:]
	}

	fast, slow, curOK := s.averages(st.prices)
	if !prevOK || !curOK {
		return st.lastSig, nil
	}

	var action Action
	switch {
	case prevFast <= prevSlow && fast > slow:
		action = ActionBuy
	case prevFast >= prevSlow && fast < slow:
		action = ActionSell
	default:
		return st.lastSig, nil
	}

	if st.lastSig != nil && st.lastSig.Action == action {
		return st.lastSig, nil
	}

	sig := s.buildSignal(symbol, action, price)
	st.lastSig = sig

	s.logger.Info().
		Str("symbol", symbol).
		Str("action", string(action)).
		Float64("price", price).
		Float64("fast_sma", fast).
		Float64("slow_sma", slow).
		Msg("Crossover signal generated")

	return sig, nil
}

// averages returns the fast and slow SMA over the sample window. ok is
// false until the window holds SlowPeriod samples.
func (s *CrossoverSource) averages(prices []float64) (fast, slow float64, ok bool) {
	if len(prices) < s.cfg.SlowPeriod {
		return 0, 0, false
	}
	return sma(prices, s.cfg.FastPeriod), sma(prices, s.cfg.SlowPeriod), true
}

func sma(prices []float64, period int) float64 {
	sum := 0.0
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period)
}

func (s *CrossoverSource) buildSignal(symbol string, action Action, price float64) *Signal {
	direction := 1.0
	if action == ActionSell {
		direction = -1
	}

	takeProfits := make([]float64, len(s.cfg.TakeProfitPercents))
	for i, pct := range s.cfg.TakeProfitPercents {
		takeProfits[i] = price * (1 + direction*pct/100)
	}

	return &Signal{
		ID:          uuid.New().String(),
		Symbol:      symbol,
		Action:      action,
		Confidence:  s.cfg.Confidence,
		Entry:       price,
		StopLoss:    price * (1 - direction*s.cfg.StopLossPercent/100),
		TakeProfits: takeProfits,
		Leverage:    s.cfg.Leverage,
		GeneratedAt: time.Now(),
	}
}
