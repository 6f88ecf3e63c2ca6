package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Cache keys for the views that fall back to stale data.
const (
	KeySpaceWeather = "aurora:kp"
	KeySolarWind    = "aurora:solar_wind"
)

// Cache stores opaque values with a per-entry TTL.
// Get returns found=false only when the backend holds nothing for key; an
// expired entry is still returned so the caller can tell expired from missing.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Entry is a cached value with the time it was written and its TTL.
type Entry struct {
	Value      []byte        `json:"value"`
	InsertedAt time.Time     `json:"insertedAt"`
	TTL        time.Duration `json:"ttl"`
}

// IsExpired reports whether now is strictly after InsertedAt+TTL.
func (e Entry) IsExpired(now time.Time) bool {
	return now.After(e.InsertedAt.Add(e.TTL))
}

// InMemoryCache implements Cache using a map guarded by a RWMutex.
// Entries are kept after expiry until overwritten or pruned.
type InMemoryCache struct {
	mu    sync.RWMutex
	data  map[string]Entry
	clock clockwork.Clock
}

// NewInMemoryCache creates an in-memory cache. A nil clock uses the real clock.
func NewInMemoryCache(clock clockwork.Clock) *InMemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryCache{
		data:  make(map[string]Entry),
		clock: clock,
	}
}

// Get returns the entry for key, expired or not.
func (c *InMemoryCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.data[key]
	if !ok {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Set stores value with the given TTL, stamped with the cache clock. Last write wins.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = Entry{
		Value:      buf,
		InsertedAt: c.clock.Now(),
		TTL:        ttl,
	}
	return nil
}

// Prune drops entries that expired more than retention ago and returns how many were removed.
func (c *InMemoryCache) Prune(ctx context.Context, retention time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.data {
		if now.After(e.InsertedAt.Add(e.TTL + retention)) {
			delete(c.data, k)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds for the in-process backend.
func (c *InMemoryCache) Ping(ctx context.Context) error {
	return ctx.Err()
}
