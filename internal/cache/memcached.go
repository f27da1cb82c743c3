package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/skycast/skycast/internal/models"
)

const keyPrefix = "snapshot:"

// MemcachedCache implements Cache using memcached. Stale reads are not
// supported by this backend: memcached evicts on expiry, so GetStale
// behaves like Get.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated
// list (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and
// maxIdleConns use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
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
	return &MemcachedCache{client: client}, nil
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

// Get implements Cache.Get. Returns false, nil on cache miss.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.WeatherSnapshot, bool, error) {
	if ctx.Err() != nil {
		return models.WeatherSnapshot{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return models.WeatherSnapshot{}, false, nil
		}
		return models.WeatherSnapshot{}, false, err
	}
	var data models.WeatherSnapshot
	if err := json.Unmarshal(item.Value, &data); err != nil {
		return models.WeatherSnapshot{}, false, err
	}
	return data, true, nil
}

// GetStale implements Cache.GetStale. Memcached drops expired items, so
// this delegates to Get.
func (c *MemcachedCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.WeatherSnapshot, bool, error) {
	return c.Get(ctx, key)
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.WeatherSnapshot, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600 // fallback 1h if invalid
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expSec,
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
