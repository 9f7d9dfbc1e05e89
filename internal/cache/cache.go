// Package cache provides a generic in-memory TTL cache.
//
// The cache is an injected dependency, never a package-level singleton.
// Expired entries are lazily rejected on Get and reclaimed by a periodic
// sweep goroutine; call Stop() to release it.
package cache

import (
	"sync"
	"time"
)

// DefaultSweepInterval is how often the background sweep reclaims expired entries.
const DefaultSweepInterval = time.Minute

// entry holds a value with its expiry deadline.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a mutex-guarded expiring key-value store.
// Safe for concurrent use by multiple goroutines.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]entry[V]
	done    chan struct{}
	once    sync.Once
}

// NewTTL creates a TTL cache and starts its sweep goroutine.
// sweepInterval <= 0 uses DefaultSweepInterval.
func NewTTL[K comparable, V any](sweepInterval time.Duration) *TTL[K, V] {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	c := &TTL[K, V]{
		entries: make(map[K]entry[V]),
		done:    make(chan struct{}),
	}
	go c.sweep(sweepInterval)
	return c
}

// Set stores value under key for the given lifetime.
// A non-positive ttl stores nothing.
func (c *TTL[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
}

// Get returns the value for key if present and not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key from the cache.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of live entries (expired but unswept entries count).
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop terminates the sweep goroutine. Safe to call more than once.
func (c *TTL[K, V]) Stop() {
	c.once.Do(func() { close(c.done) })
}

// sweep periodically removes expired entries so abandoned keys don't
// accumulate between Get calls.
func (c *TTL[K, V]) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
