// Package cache provides the read-through cache used by the query facade.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ReadCache caches query results keyed by method and arguments. Get reports
// a hit; Set is best-effort and may drop entries under pressure; Clear
// empties the cache after writes invalidate cached reads.
type ReadCache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	Clear()
}

// Key derives a stable cache key from a query method and its arguments.
// json.Marshal sorts map keys, so argument order does not matter.
func Key(method string, args map[string]interface{}) string {
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", args))
	}
	return method + ":" + string(data)
}

// RistrettoCache is a TTL-bounded in-memory cache.
type RistrettoCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewRistrettoCache creates a cache whose entries expire after ttl.
func NewRistrettoCache(ttl time.Duration) (*RistrettoCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &RistrettoCache{cache: c, ttl: ttl}, nil
}

func (c *RistrettoCache) Get(key string) (interface{}, bool) {
	return c.cache.Get(key)
}

func (c *RistrettoCache) Set(key string, value interface{}) {
	c.cache.SetWithTTL(key, value, 1, c.ttl)
}

func (c *RistrettoCache) Clear() {
	c.cache.Clear()
}

// Wait blocks until buffered writes are visible to Get. Used in tests.
func (c *RistrettoCache) Wait() {
	c.cache.Wait()
}

// Close releases cache resources.
func (c *RistrettoCache) Close() {
	c.cache.Close()
}

// Noop is a cache that never stores anything.
type Noop struct{}

func (Noop) Get(string) (interface{}, bool) { return nil, false }
func (Noop) Set(string, interface{})        {}
func (Noop) Clear()                         {}
