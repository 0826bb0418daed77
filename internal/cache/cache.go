// Package cache memoizes hot aggregate reads for a short TTL. Concurrent
// identical reads are coalesced through singleflight so a burst of dashboard
// clients computes each aggregate once.
package cache

import (
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long an aggregate stays hot; the sync engine invalidates
// earlier when fresh data lands.
const (
	DefaultTTL    = 30 * time.Second
	SweepInterval = 60 * time.Second
)

// Cache is a TTL map with request coalescing.
type Cache struct {
	data  *gocache.Cache
	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache with the given default TTL and janitor interval.
func New(ttl, sweep time.Duration) *Cache {
	return &Cache{data: gocache.New(ttl, sweep)}
}

// GetOrCompute returns the cached value for key, computing and storing it on a
// miss. Concurrent callers with the same key share one computation. Errors
// are never cached.
func (c *Cache) GetOrCompute(key string, fn func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.data.Get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have filled the entry while this one
		// waited on the flight group.
		if v, ok := c.data.Get(key); ok {
			return v, nil
		}
		c.misses.Add(1)
		v, err := fn()
		if err != nil {
			return nil, err
		}
		c.data.SetDefault(key, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set stores a value under the default TTL.
func (c *Cache) Set(key string, v interface{}) {
	c.data.SetDefault(key, v)
}

// Get returns a cached value without computing on miss.
func (c *Cache) Get(key string) (interface{}, bool) {
	v, ok := c.data.Get(key)
	if ok {
		c.hits.Add(1)
	}
	return v, ok
}

// Invalidate drops every entry whose key starts with one of the prefixes and
// returns how many were dropped. Called by the sync engine after refreshes.
func (c *Cache) Invalidate(prefixes ...string) int {
	dropped := 0
	for key := range c.data.Items() {
		for _, p := range prefixes {
			if strings.HasPrefix(key, p) {
				c.data.Delete(key)
				dropped++
				break
			}
		}
	}
	return dropped
}

// Flush drops everything.
func (c *Cache) Flush() {
	c.data.Flush()
}

// Stats reports entry count and lifetime hit/miss counters.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

func (c *Cache) Stats() Stats {
	return Stats{
		Entries: c.data.ItemCount(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
