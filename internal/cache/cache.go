package cache

import (
	"context"
	"sync"
	"time"

	"github.com/skycast/skycast/internal/models"
)

// Cache stores weather snapshots with TTL-based expiration.
// Get returns fresh data only; GetStale also returns expired entries
// younger than maxStaleAge, for upstream-failure fallback.
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherSnapshot, bool, error)
	GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.WeatherSnapshot, bool, error)
	Set(ctx context.Context, key string, value models.WeatherSnapshot, ttl time.Duration) error
}

// InMemoryCache implements Cache using a mutex-guarded map. Expired entries
// stay around for stale reads and are dropped once older than their
// snapshot timestamp allows.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
}

type cacheEntry struct {
	value     models.WeatherSnapshot
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves cached data for the key if present and not expired.
// Returns (data, true, nil) on hit, (zero, false, nil) on miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.WeatherSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.WeatherSnapshot{}, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		// Kept for GetStale; evicted there when too old.
		return models.WeatherSnapshot{}, false, nil
	}

	return entry.value, true, nil
}

// GetStale returns the entry even when expired, as long as the snapshot is
// younger than maxStaleAge. Entries past that age are evicted.
func (c *InMemoryCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.WeatherSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.WeatherSnapshot{}, false, nil
	}

	if time.Since(entry.value.Timestamp) > maxStaleAge {
		delete(c.data, key)
		return models.WeatherSnapshot{}, false, nil
	}

	return entry.value, true, nil
}

// Set stores a snapshot with the specified TTL duration.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.WeatherSnapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}
