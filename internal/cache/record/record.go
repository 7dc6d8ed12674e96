// Package record stores versioned, TTL-checked JSON records on top of a cache.Store.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/gamedata-cache/internal/cache"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/observability"
)

// Record is what a Store can persist: a versioned value with an expiry.
type Record interface {
	RecordVersion() string
	Expiry() time.Time
	Validate() error
}

type Status int

const (
	Miss Status = iota
	Stale
	Fresh
)

func (s Status) String() string {
	switch s {
	case Fresh:
		return "hit"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

var errVersion = errors.New("version mismatch")

// Store is a typed view over a cache.Store for one record kind.
type Store[T Record] struct {
	kv      cache.Store
	name    string
	version string
	logger  *slog.Logger
	now     func() time.Time
}

type Option[T Record] func(*Store[T])

// WithClock overrides time.Now for freshness checks.
func WithClock[T Record](now func() time.Time) Option[T] {
	return func(s *Store[T]) { s.now = now }
}

// New builds a store for records tagged with version. name labels logs and metrics.
func New[T Record](kv cache.Store, name, version string, logger *slog.Logger, opts ...Option[T]) *Store[T] {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store[T]{kv: kv, name: name, version: version, logger: logger, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load reads key. Records that fail to decode, carry another version or fail
// validation are deleted and reported as a Miss with a nil error.
func (s *Store[T]) Load(ctx context.Context, key string) (T, Status, error) {
	var zero T

	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return zero, Miss, fmt.Errorf("%s load %q: %w", s.name, key, err)
	}
	if !ok {
		observability.IncCacheResult(s.name, "miss")
		return zero, Miss, nil
	}

	rec, err := s.decode(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "cache_record_invalid",
			"record", s.name, "key", key, "err", err)
		observability.IncCacheResult(s.name, "corrupt")
		if derr := s.kv.Del(ctx, key); derr != nil {
			return zero, Miss, fmt.Errorf("%s delete corrupt %q: %w", s.name, key, derr)
		}
		return zero, Miss, nil
	}

	if ShouldRefresh(rec.Expiry(), s.now()) {
		observability.IncCacheResult(s.name, "stale")
		return rec, Stale, nil
	}
	observability.IncCacheResult(s.name, "hit")
	return rec, Fresh, nil
}

func (s *Store[T]) decode(raw []byte) (T, error) {
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("decode: %w", err)
	}
	if v := rec.RecordVersion(); v != s.version {
		return rec, fmt.Errorf("%w: got %q want %q", errVersion, v, s.version)
	}
	if err := rec.Validate(); err != nil {
		return rec, fmt.Errorf("validate: %w", err)
	}
	return rec, nil
}

// Save writes rec under key with the given ttl.
func (s *Store[T]) Save(ctx context.Context, key string, rec T, ttl time.Duration) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%s encode %q: %w", s.name, key, err)
	}
	if err := s.kv.Set(ctx, key, b, ttl); err != nil {
		return fmt.Errorf("%s save %q: %w", s.name, key, err)
	}
	return nil
}

func (s *Store[T]) Delete(ctx context.Context, keys ...string) error {
	if err := s.kv.Del(ctx, keys...); err != nil {
		return fmt.Errorf("%s delete: %w", s.name, err)
	}
	return nil
}

// ShouldRefresh reports whether a record expiring at expiresAt is stale at now.
func ShouldRefresh(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}
