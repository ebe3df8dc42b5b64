// Package core defines the ports between the job launcher's services and its adapters.
package core

import (
	"context"
	"strconv"
	"time"
)

// CacheRepository defines the interface for caching operations.
// This follows the hexagonal architecture pattern where the core defines interfaces
// and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// DeleteIfValue removes key only while it still holds value.
	// Returns true if the key was removed.
	DeleteIfValue(ctx context.Context, key string, value []byte) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// ManifestCacheKey is the cache key for a manifest body fetched from url.
func ManifestCacheKey(url string) string {
	return "manifest:" + url
}

// LaunchLockKey is the cache key guarding escrow creation for one job.
func LaunchLockKey(jobID int64) string {
	return "launch:job:" + strconv.FormatInt(jobID, 10)
}
