package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations. Kestrel caches the
// latest computed report and the alert rule configuration between
// evaluations.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Well-known cache keys.
const (
	CacheKeyLatestReport = "report:latest"
	CacheKeyAlertRules   = "alert-rules"
)

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// EnableTwoPhase layers the local LRU in front of Redis.
	EnableTwoPhase bool

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}
