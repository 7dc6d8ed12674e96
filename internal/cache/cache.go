// Package cache defines the key-value store the engine persists records in.
package cache

import (
	"context"
	"time"
)

// Store is an untyped byte store with per-key TTL expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Scanner is implemented by stores that can enumerate live keys by prefix.
type Scanner interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Closer is implemented by stores holding connections.
type Closer interface {
	Close() error
}
