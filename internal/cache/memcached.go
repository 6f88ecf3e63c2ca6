package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/jonboulle/clockwork"
)

const keyPrefix = "aurora-service:"

// maxRelativeExp is the largest relative expiration memcached accepts (30 days).
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Cache using memcached. Values are stored in a JSON
// envelope carrying insertion time and TTL; the memcached item outlives the TTL
// by retention so expired entries remain distinguishable from misses.
type MemcachedCache struct {
	client    *memcache.Client
	retention time.Duration
	clock     clockwork.Clock
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, retention time.Duration, clock clockwork.Clock) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemcachedCache{client: client, retention: retention, clock: clock}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) key(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("memcached get %s: %w", key, err)
	}
	entry, err := decodeEntry(item.Value)
	if err != nil {
		return Entry{}, false, fmt.Errorf("memcached decode %s: %w", key, err)
	}
	return entry, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encodeEntry(Entry{Value: value, InsertedAt: c.clock.Now(), TTL: ttl})
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expirationSeconds(ttl, c.retention),
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}

func encodeEntry(e Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(raw []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// expirationSeconds is the native item lifetime: TTL plus retention, clamped
// to memcached's relative range. Invalid values fall back to one hour.
func expirationSeconds(ttl, retention time.Duration) int32 {
	total := (ttl + retention).Seconds()
	if total <= 0 || total > maxRelativeExp {
		return 3600
	}
	sec := int32(total)
	if sec == 0 {
		sec = 1
	}
	return sec
}
