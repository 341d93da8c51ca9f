package domain

import (
	"context"
	"time"
)

// Cache is the shared key-value store used for merchant configuration
// caching, velocity counters, risk-score/decision lookup, and the high-risk
// country set. All operations are safe under concurrent access; counters and
// sets are atomic by construction in every implementation.
type Cache interface {
	// Get retrieves a value. Returns nil, nil on miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// IncrementCounter atomically increments a counter and returns the new
	// value. The window TTL is set only when the increment created the key
	// (count == 1); it is not refreshed on later increments, so the window
	// is a rolling day anchored at first-seen.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// AddToSet adds members to a set, creating it with the given TTL.
	AddToSet(ctx context.Context, key string, ttl time.Duration, members ...string) error

	// IsSetMember reports set membership. Missing sets report false.
	IsSetMember(ctx context.Context, key string, member string) (bool, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
