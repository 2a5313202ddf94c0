package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/risk"
)

const (
	// trailingKeyPrefix namespaces trailing state keys.
	// Format: engine:trailing:{positionID}
	trailingKeyPrefix = "engine:trailing"

	// trailingStateTTL keeps stale snapshots from accumulating when a
	// position closes without an explicit delete.
	trailingStateTTL = 7 * 24 * time.Hour
)

// RedisSnapshotRepository stores trailing stop state in Redis so a
// restart does not reset water marks. When Redis is unavailable it
// falls back to an in-memory cache, so monitoring continues without
// interruption (snapshots just stop surviving restarts).
type RedisSnapshotRepository struct {
	client    *redis.Client
	logger    zerolog.Logger
	mu        sync.RWMutex
	fallback  map[string]*risk.TrailingState
	available atomic.Bool
}

// NewRedisClient creates a Redis client from config, or nil when Redis
// is disabled.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// NewRedisSnapshotRepository creates the snapshot repository. A nil
// client means memory-only mode.
func NewRedisSnapshotRepository(client *redis.Client, logger zerolog.Logger) *RedisSnapshotRepository {
	repo := &RedisSnapshotRepository{
		client:   client,
		logger:   logger.With().Str("component", "RedisSnapshots").Logger(),
		fallback: make(map[string]*risk.TrailingState),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			repo.logger.Warn().Err(err).Msg("Redis unavailable at startup, using in-memory cache")
		} else {
			repo.logger.Info().Msg("Redis connected")
			repo.available.Store(true)
		}
	} else {
		repo.logger.Info().Msg("Redis disabled, using in-memory cache only")
	}

	return repo
}

func (r *RedisSnapshotRepository) key(positionID string) string {
	return fmt.Sprintf("%s:%s", trailingKeyPrefix, positionID)
}

// SaveTrailingState persists one position's trailing state.
func (r *RedisSnapshotRepository) SaveTrailingState(ctx context.Context, state *risk.TrailingState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil trailing state")
	}

	r.mu.Lock()
	cp := *state
	r.fallback[state.PositionID] = &cp
	r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal trailing state: %w", err)
	}

	if err := r.client.Set(ctx, r.key(state.PositionID), data, trailingStateTTL).Err(); err != nil {
		if r.available.Swap(false) {
			r.logger.Warn().Err(err).Msg("Redis write failed, falling back to in-memory cache")
		}
		return nil // Fallback already holds the state
	}
	r.available.Store(true)
	return nil
}

// LoadTrailingState returns the snapshot for a position, or nil when
// none exists.
func (r *RedisSnapshotRepository) LoadTrailingState(ctx context.Context, positionID string) (*risk.TrailingState, error) {
	if r.client != nil {
		data, err := r.client.Get(ctx, r.key(positionID)).Bytes()
		switch {
		case err == nil:
			var state risk.TrailingState
			if err := json.Unmarshal(data, &state); err != nil {
				return nil, fmt.Errorf("failed to unmarshal trailing state: %w", err)
			}
			r.available.Store(true)
			return &state, nil
		case errors.Is(err, redis.Nil):
			return nil, nil
		default:
			if r.available.Swap(false) {
				r.logger.Warn().Err(err).Msg("Redis read failed, falling back to in-memory cache")
			}
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if state, ok := r.fallback[positionID]; ok {
		cp := *state
		return &cp, nil
	}
	return nil, nil
}

// DeleteTrailingState drops a closed position's snapshot.
func (r *RedisSnapshotRepository) DeleteTrailingState(ctx context.Context, positionID string) error {
	r.mu.Lock()
	delete(r.fallback, positionID)
	r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, r.key(positionID)).Err(); err != nil {
		r.logger.Warn().Err(err).Str("position_id", positionID).Msg("Failed to delete trailing snapshot")
	}
	return nil
}

// Available reports whether Redis is currently reachable.
func (r *RedisSnapshotRepository) Available() bool {
	return r.available.Load()
}
