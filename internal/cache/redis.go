// Package cache fronts AdherenceState reads with an in-process LRU or Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meditrek-engine/internal/domain"
)

const keyPrefix = "meditrek:adherence:"

// DefaultTTL bounds how long a cached state lives.
const DefaultTTL = 15 * time.Minute

// RedisCache wraps a Redis client for adherence states
type RedisCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewRedisCache connects to config.RedisURL and pings it.
func NewRedisCache(config domain.CacheConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := config.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{redis: client, defaultTTL: ttl}, nil
}

// cachedState carries the state with its cache metadata
type cachedState struct {
	State    *domain.AdherenceState `json:"state"`
	CachedAt time.Time              `json:"cached_at"`
}

// Get returns the cached state. A corrupted entry is removed and reported as a miss.
func (c *RedisCache) Get(ctx context.Context, patientID string) (*domain.AdherenceState, bool, error) {
	key := stateKey(patientID)

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get adherence cache: %w", err)
	}

	var cached cachedState
	if err := json.Unmarshal([]byte(val), &cached); err != nil || cached.State == nil {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}
	return cached.State, true, nil
}

// Set stores state for the default TTL.
func (c *RedisCache) Set(ctx context.Context, state *domain.AdherenceState) error {
	data, err := json.Marshal(cachedState{State: state, CachedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal adherence cache data: %w", err)
	}
	return c.redis.Set(ctx, stateKey(state.PatientID), data, c.defaultTTL).Err()
}

// Invalidate drops the patient's entry.
func (c *RedisCache) Invalidate(ctx context.Context, patientID string) error {
	return c.redis.Del(ctx, stateKey(patientID)).Err()
}

// Stats returns pool statistics
func (c *RedisCache) Stats() map[string]interface{} {
	stats := c.redis.PoolStats()
	return map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
	}
}

// Ping checks if Redis connection is alive
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.redis.Close()
}

func stateKey(patientID string) string {
	return keyPrefix + patientID
}
