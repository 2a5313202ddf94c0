package request

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-engine/internal/exchange"
)

func testLayer(cfg Config) *Layer {
	return New(cfg, zerolog.Nop())
}

func TestDoSuccess(t *testing.T) {
	l := testLayer(Config{})
	defer l.Close()

	v, err := l.Do(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if v.(int) != 42 {
		t.Errorf("Do() = %v, want 42", v)
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	l := testLayer(Config{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond})
	defer l.Close()

	calls := 0
	start := time.Now()
	v, err := l.Do(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, exchange.NewError(exchange.KindNetwork, "op", errors.New("connection reset"))
		}
		return "ok", nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if v.(string) != "ok" {
		t.Errorf("Do() = %v, want ok", v)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Two backoffs: base + 2*base = 30ms.
	if elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 30ms of backoff", elapsed)
	}
}

func TestDoExhaustsRetryBudget(t *testing.T) {
	l := testLayer(Config{MaxAttempts: 3, BaseDelay: time.Millisecond})
	defer l.Close()

	calls := 0
	wantErr := exchange.NewError(exchange.KindNetwork, "op", errors.New("down"))
	_, err := l.Do(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, wantErr
	})

	if err == nil {
		t.Fatal("Do() error = nil, want failure")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoDoesNotRetryNonRetryable(t *testing.T) {
	l := testLayer(Config{MaxAttempts: 3, BaseDelay: time.Millisecond})
	defer l.Close()

	kinds := []exchange.ErrorKind{
		exchange.KindAuth,
		exchange.KindInsufficientBalance,
		exchange.KindRejected,
		exchange.KindMaintenance,
	}

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			calls := 0
			_, err := l.Do(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
				calls++
				return nil, exchange.NewError(kind, "op", errors.New("no"))
			})
			if err == nil {
				t.Fatal("Do() error = nil, want failure")
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1 (no retry for %s)", calls, kind)
			}
		})
	}
}

// A rate limit gets exactly one cooldown retry and that retry does not
// consume the normal attempt budget.
func TestDoRateLimitCooldownRetry(t *testing.T) {
	l := testLayer(Config{
		MaxAttempts:       2,
		BaseDelay:         time.Millisecond,
		RateLimitCooldown: 20 * time.Millisecond,
	})
	defer l.Close()

	calls := 0
	start := time.Now()
	v, err := l.Do(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, exchange.NewError(exchange.KindRateLimit, "op", errors.New("429"))
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if v.(string) != "ok" {
		t.Errorf("Do() = %v, want ok", v)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("cooldown was not observed before the retry")
	}
}

func TestDoRateLimitOnlyOnce(t *testing.T) {
	l := testLayer(Config{
		MaxAttempts:       1,
		BaseDelay:         time.Millisecond,
		RateLimitCooldown: time.Millisecond,
	})
	defer l.Close()

	calls := 0
	_, err := l.Do(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, exchange.NewError(exchange.KindRateLimit, "op", errors.New("429"))
	})

	if err == nil {
		t.Fatal("Do() error = nil, want failure")
	}
	// One original attempt plus the single cooldown retry.
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDoSerializesFIFO(t *testing.T) {
	l := testLayer(Config{})
	defer l.Close()

	var mu sync.Mutex
	var order []int

	// Block the worker so later submissions queue up in order.
	release := make(chan struct{})
	go l.Do(context.Background(), "blocker", func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	time.Sleep(20 * time.Millisecond) // Let the blocker reach the worker

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Do(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		}()
		time.Sleep(10 * time.Millisecond) // Enqueue in submission order
	}

	close(release)
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("execution order = %v, want FIFO", order)
		}
	}
}

func TestDoEnforcesMinInterval(t *testing.T) {
	l := testLayer(Config{MinInterval: 25 * time.Millisecond})
	defer l.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := l.Do(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}); err != nil {
			t.Fatalf("Do() error = %v", err)
		}
	}

	// Three calls need at least two spacing intervals.
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 50ms of spacing", elapsed)
	}
}

func TestDoAfterClose(t *testing.T) {
	l := testLayer(Config{})
	l.Close()

	_, err := l.Do(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Do() error = %v, want ErrClosed", err)
	}
}

func TestDoContextCancelledWhileQueued(t *testing.T) {
	l := testLayer(Config{})
	defer l.Close()

	release := make(chan struct{})
	go l.Do(context.Background(), "blocker", func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.Do(ctx, "op", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Do() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do() did not return after context cancellation")
	}
	close(release)
}
