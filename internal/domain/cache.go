package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching resolved lookups, primarily the
// ACTIVE ruleset version per ruleset. Supports two-phase caching: local LRU
// plus Redis for multi-node deployments.
type Cache interface {
	// Get retrieves a value from cache. Returns nil, nil if key not found.
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

// ActiveVersionCacheKey is the cache key for a ruleset's resolved ACTIVE
// version snapshot.
func ActiveVersionCacheKey(rulesetID string) string {
	return "active-version:" + rulesetID
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
