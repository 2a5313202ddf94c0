// Package request is the resilient request layer in front of the
// exchange adapter. Every exchange call is funneled through a single
// FIFO worker that paces calls, retries transient failures with
// exponential backoff and waits out rate limits. Callers block on a
// per-call result channel and never manage the queue themselves.
package request

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-engine/internal/exchange"
)

// ErrClosed is returned for calls submitted after Close.
var ErrClosed = errors.New("request layer closed")

// Config holds retry, cooldown and pacing settings.
type Config struct {
	MaxAttempts       int           // Retry budget for transient errors
	BaseDelay         time.Duration // First backoff delay, doubles per attempt
	RateLimitCooldown time.Duration // Wait before the single rate-limit retry
	MinInterval       time.Duration // Minimum spacing between calls
	QueueSize         int           // Pending call queue depth
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = 60 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

type result struct {
	value interface{}
	err   error
}

type call struct {
	ctx  context.Context
	op   string
	fn   func(context.Context) (interface{}, error)
	done chan result
}

// Layer serializes and hardens exchange calls.
type Layer struct {
	cfg     Config
	logger  zerolog.Logger
	queue   chan *call
	quit    chan struct{}
	stopped chan struct{}

	calls         atomic.Int64
	retries       atomic.Int64
	rateLimitHits atomic.Int64
	failures      atomic.Int64
}

// New creates a request layer and starts its worker goroutine.
func New(cfg Config, logger zerolog.Logger) *Layer {
	l := &Layer{
		cfg:     cfg.withDefaults(),
		logger:  logger.With().Str("component", "RequestLayer").Logger(),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	l.queue = make(chan *call, l.cfg.QueueSize)
	go l.worker()
	return l
}

// Do enqueues fn and blocks until it has been executed (including any
// retries) or ctx is cancelled while still waiting. An in-flight call is
// never aborted mid-attempt; a caller that gives up simply stops
// waiting for the buffered result.
func (l *Layer) Do(ctx context.Context, op string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	c := &call{ctx: ctx, op: op, fn: fn, done: make(chan result, 1)}

	// The queue stays writable after Close, so check quit first or the
	// select below could park the call on a dead queue.
	select {
	case <-l.quit:
		return nil, ErrClosed
	default:
	}

	select {
	case l.queue <- c:
	case <-l.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-c.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new calls, lets the in-flight call finish its
// retry budget and fails any still-queued calls with ErrClosed.
func (l *Layer) Close() {
	close(l.quit)
	<-l.stopped
}

func (l *Layer) worker() {
	defer close(l.stopped)

	var lastCall time.Time
	for {
		select {
		case <-l.quit:
			l.drain()
			return
		case c := <-l.queue:
			// Enforce minimum inter-call spacing.
			if wait := l.cfg.MinInterval - time.Since(lastCall); wait > 0 {
				time.Sleep(wait)
			}
			lastCall = time.Now()
			c.done <- l.execute(c)
		}
	}
}

// drain fails all queued calls after shutdown.
func (l *Layer) drain() {
	for {
		select {
		case c := <-l.queue:
			c.done <- result{err: ErrClosed}
		default:
			return
		}
	}
}

// execute runs one call with retry, backoff and rate-limit handling.
func (l *Layer) execute(c *call) result {
	if err := c.ctx.Err(); err != nil {
		return result{err: err}
	}

	l.calls.Add(1)
	rateLimitRetried := false
	delay := l.cfg.BaseDelay

	for attempt := 1; ; attempt++ {
		value, err := c.fn(c.ctx)
		if err == nil {
			return result{value: value}
		}

		kind := exchange.KindOf(err)
		switch {
		case kind == exchange.KindRateLimit && !rateLimitRetried:
			// One cooldown retry, outside the normal attempt budget.
			rateLimitRetried = true
			attempt--
			l.rateLimitHits.Add(1)
			l.logger.Warn().
				Str("op", c.op).
				Dur("cooldown", l.cfg.RateLimitCooldown).
				Msg("Rate limited, cooling down before retry")
			time.Sleep(l.cfg.RateLimitCooldown)

		case exchange.Retryable(kind) && attempt < l.cfg.MaxAttempts:
			l.retries.Add(1)
			l.logger.Warn().
				Err(err).
				Str("op", c.op).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("Transient exchange error, backing off")
			time.Sleep(delay)
			delay *= 2

		default:
			// Non-retryable kind or budget exhausted.
			l.failures.Add(1)
			l.logger.Error().
				Err(err).
				Str("op", c.op).
				Str("kind", kind.String()).
				Int("attempts", attempt).
				Msg("Exchange call failed")
			return result{err: err}
		}

		if err := c.ctx.Err(); err != nil {
			return result{err: err}
		}
	}
}

// Stats returns request layer counters for the status surface.
func (l *Layer) Stats() map[string]interface{} {
	return map[string]interface{}{
		"calls":           l.calls.Load(),
		"retries":         l.retries.Load(),
		"rate_limit_hits": l.rateLimitHits.Load(),
		"failures":        l.failures.Load(),
		"queue_depth":     len(l.queue),
	}
}
