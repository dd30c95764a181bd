// Package catalog caches the library listing of a Store with per-entry
// freshness timestamps and a process-wide enable switch.
package catalog

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/argus/internal/metrics"
)

const (
	// LibrariesKey holds the materialised library name list.
	LibrariesKey = "list_libraries"

	DefaultExpiry = time.Hour
)

// Entry is one cached value and the time it was written.
type Entry struct {
	Data []string  `json:"data" bson:"data"`
	Date time.Time `json:"date" bson:"date"`
}

// Store persists entries. Get returns (nil, nil) for an absent key. The
// incremental operations do nothing when the key is absent.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry Entry) error
	Append(ctx context.Context, key, item string) error
	Remove(ctx context.Context, key, item string) error
	Replace(ctx context.Context, key, old, item string) error
}

// Result classifies a Lookup.
type Result string

const (
	Hit      Result = "hit"
	Miss     Result = "miss"
	Stale    Result = "stale"
	Disabled Result = "disabled"
)

type Cache struct {
	store   Store
	enabled atomic.Bool
	expiry  time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Cache)

func WithExpiry(expiry time.Duration) Option {
	return func(c *Cache) { c.expiry = expiry }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

func WithEnabled(enabled bool) Option {
	return func(c *Cache) { c.enabled.Store(enabled) }
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		expiry: DefaultExpiry,
		now:    time.Now,
		logger: slog.Default(),
	}
	c.enabled.Store(true)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Enabled() bool {
	return c.enabled.Load()
}

// SetCachingState flips the switch for every reader of this cache.
func (c *Cache) SetCachingState(enabled bool) {
	c.enabled.Store(enabled)
}

func (c *Cache) Expiry() time.Duration {
	return c.expiry
}

// Get returns the stored value regardless of age. A disabled cache has no entries.
func (c *Cache) Get(ctx context.Context, key string) ([]string, bool, error) {
	if !c.Enabled() {
		return nil, false, nil
	}
	entry, err := c.store.Get(ctx, key)
	if err != nil || entry == nil {
		return nil, false, err
	}
	return entry.Data, true, nil
}

// Set overwrites key and stamps it with the current time.
func (c *Cache) Set(ctx context.Context, key string, data []string) error {
	if !c.Enabled() {
		return nil
	}
	if data == nil {
		data = []string{}
	}
	return c.store.Set(ctx, key, Entry{Data: data, Date: c.now()})
}

// IsStale reports whether key is absent or older than olderThan; zero means
// the configured expiry.
func (c *Cache) IsStale(ctx context.Context, key string, olderThan time.Duration) (bool, error) {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		return true, err
	}
	return c.stale(entry, olderThan), nil
}

func (c *Cache) stale(entry *Entry, olderThan time.Duration) bool {
	if entry == nil {
		return true
	}
	if olderThan <= 0 {
		olderThan = c.expiry
	}
	return c.now().Sub(entry.Date) > olderThan
}

// Lookup is the read path of a cached listing. Only Hit carries data; every
// other result means the caller must enumerate the backing store itself.
// Lookup never writes to the cache.
func (c *Cache) Lookup(ctx context.Context, key string, newerThan time.Duration) ([]string, Result) {
	result, data := c.lookup(ctx, key, newerThan)
	metrics.CatalogReads.WithLabelValues(string(result)).Inc()
	return data, result
}

func (c *Cache) lookup(ctx context.Context, key string, newerThan time.Duration) (Result, []string) {
	if !c.Enabled() {
		return Disabled, nil
	}
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("catalog cache read failed", "key", key, "error", err)
		return Miss, nil
	}
	if entry == nil {
		return Miss, nil
	}
	if c.stale(entry, newerThan) {
		return Stale, nil
	}
	return Hit, entry.Data
}

// Append adds item to an existing entry.
func (c *Cache) Append(ctx context.Context, key, item string) error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Append(ctx, key, item)
}

// Remove drops item from an existing entry.
func (c *Cache) Remove(ctx context.Context, key, item string) error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Remove(ctx, key, item)
}

// Replace swaps old for item in an existing entry.
func (c *Cache) Replace(ctx context.Context, key, old, item string) error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Replace(ctx, key, old, item)
}
