package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/logging"
	"github.com/kozaktomas/face-finder/internal/metrics"
)

// epochKey holds the current epoch so persistent backends survive restarts.
const epochKey = "meta:epoch"

// Entry is a cache hit.
type Entry struct {
	Matches  []facematch.Match
	Err      string // non-empty for a cached error outcome
	StoredAt time.Time
}

// Cache is the fingerprint cache. Entries carry the epoch they were computed
// under; Invalidate moves to a new epoch so every older entry becomes a miss.
// Backend failures never surface to callers: they are logged and count as misses.
type Cache struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	epoch int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// New creates a cache over backend and loads the persisted epoch, if any.
func New(ctx context.Context, backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		ttl:     constants.SearchCacheTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.epoch = c.now().UnixNano()
	raw, ok, err := backend.Get(ctx, epochKey)
	switch {
	case err != nil:
		logging.Warn().Err(err).Msg("cache epoch unavailable, starting a new one")
	case ok:
		if e, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil {
			c.epoch = e
		}
	default:
		c.storeEpoch(ctx, c.epoch)
	}
	return c
}

// Open builds the configured backend behind a circuit breaker.
func Open(ctx context.Context, cfg config.CacheConfig, opts ...Option) (*Cache, error) {
	var backend Backend
	switch cfg.Backend {
	case "badger":
		b, err := OpenBadgerBackend(cfg.Path)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		backend = NewLRUBackend(cfg.MaxEntries, cfg.TTL)
	}

	breaker := NewBreakerBackend(backend, "cache-"+cfg.Backend, cfg.Timeout)
	return New(ctx, breaker, append([]Option{WithTTL(cfg.TTL)}, opts...)...), nil
}

// TTL returns the entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Epoch returns the current epoch. Callers capture it before reading the
// stores and hand it back to Put.
func (c *Cache) Epoch() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Get returns a live entry for key. Absent, expired, stale, corrupt and
// unreachable entries are all misses.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool) {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		metrics.CacheOperations.WithLabelValues("get", "error").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache lookup failed, treating as miss")
		return nil, false
	}
	if !ok {
		metrics.CacheOperations.WithLabelValues("get", "miss").Inc()
		return nil, false
	}

	env, err := decodeEnvelope(raw)
	if err != nil {
		metrics.CacheOperations.WithLabelValues("get", "corrupt").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("discarding unreadable cache entry")
		if err := c.backend.Delete(ctx, key); err != nil {
			logging.Ctx(ctx).Debug().Err(err).Str("key", key).Msg("failed to delete unreadable cache entry")
		}
		return nil, false
	}

	if env.Epoch != c.Epoch() {
		metrics.CacheOperations.WithLabelValues("get", "stale").Inc()
		return nil, false
	}
	if !c.now().Before(env.ExpiresAt) {
		metrics.CacheOperations.WithLabelValues("get", "expired").Inc()
		return nil, false
	}

	metrics.CacheOperations.WithLabelValues("get", "hit").Inc()
	return &Entry{Matches: env.Matches, Err: env.Error, StoredAt: env.StoredAt}, true
}

// Put stores a fully computed result computed under epoch. The write is
// skipped when ctx is done or the epoch has moved on since the computation
// started. Returns true when the entry was written.
func (c *Cache) Put(ctx context.Context, key string, epoch int64, matches []facematch.Match) bool {
	if matches == nil {
		matches = []facematch.Match{}
	}
	return c.put(ctx, key, epoch, &envelope{Status: statusOK, Matches: matches})
}

// PutError caches an error outcome for key.
func (c *Cache) PutError(ctx context.Context, key string, epoch int64, message string) bool {
	return c.put(ctx, key, epoch, &envelope{Status: statusError, Matches: []facematch.Match{}, Error: message})
}

func (c *Cache) put(ctx context.Context, key string, epoch int64, env *envelope) bool {
	if ctx.Err() != nil {
		metrics.CacheOperations.WithLabelValues("put", "cancelled").Inc()
		return false
	}
	if epoch != c.Epoch() {
		metrics.CacheOperations.WithLabelValues("put", "stale").Inc()
		return false
	}

	now := c.now()
	env.V = envelopeVersion
	env.Epoch = epoch
	env.StoredAt = now.UTC()
	env.ExpiresAt = now.Add(c.ttl).UTC()

	data, err := encodeEnvelope(env)
	if err != nil {
		metrics.CacheOperations.WithLabelValues("put", "error").Inc()
		logging.Ctx(ctx).Error().Err(err).Str("key", key).Msg("failed to encode cache entry")
		return false
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		metrics.CacheOperations.WithLabelValues("put", "error").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache write failed")
		return false
	}

	metrics.CacheOperations.WithLabelValues("put", "ok").Inc()
	return true
}

// Invalidate starts a new epoch and purges stored search entries. Called after
// every store mutation. The new epoch takes effect even when the backend is down.
func (c *Cache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	next := max(c.now().UnixNano(), c.epoch+1)
	c.epoch = next
	c.mu.Unlock()

	c.storeEpoch(ctx, next)
	if err := c.backend.DeletePrefix(ctx, constants.SearchCachePrefix); err != nil {
		metrics.CacheOperations.WithLabelValues("invalidate", "error").Inc()
		logging.Ctx(ctx).Warn().Err(err).Msg("failed to purge search cache")
		return
	}
	metrics.CacheOperations.WithLabelValues("invalidate", "ok").Inc()
}

func (c *Cache) storeEpoch(ctx context.Context, epoch int64) {
	err := c.backend.Set(ctx, epochKey, []byte(strconv.FormatInt(epoch, 10)), 0)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Ctx(ctx).Warn().Err(err).Msg("failed to persist cache epoch")
	}
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}
