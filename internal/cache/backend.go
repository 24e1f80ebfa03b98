// Package cache memoizes search results under fingerprint keys for a bounded time.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by backends that cannot serve a request.
// The cache layer turns it into a miss.
var ErrUnavailable = errors.New("cache backend unavailable")

// Backend is a byte-oriented key-value store with per-entry expiry.
type Backend interface {
	// Get returns the value and true, or false when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores a value that expires after ttl; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}
