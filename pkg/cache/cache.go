// Package cache backs the decrypted SenderAccount.EncryptedConfig cache:
// decrypting and re-marshaling a provider config on every send would mean
// touching the secret key on the hot path, so the Account Manager keeps a
// short-TTL cache of already-decrypted configs keyed by account ID.
package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a generic interface for caching operations. Implementations can
// be in-memory, Redis, or any other backing store.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns the value and true if found, nil and false otherwise.
	Get(key string) (interface{}, bool)

	// Set stores a value in the cache with the specified TTL.
	Set(key string, value interface{}, ttl time.Duration)

	// GetOrSet atomically gets a value or computes and caches it if not found.
	// The compute function is only called if the key is not in cache.
	GetOrSet(key string, ttl time.Duration, compute func() (interface{}, error)) (interface{}, error)

	// Delete removes a specific key from the cache.
	Delete(key string)

	// Clear removes all items from the cache.
	Clear()

	// Size returns the number of items currently in the cache.
	Size() int

	// Stop gracefully shuts down the cache.
	Stop()
}

// InMemoryCache wraps patrickmn/go-cache, adding a GetOrSet that serializes
// concurrent computation of the same key so a cache miss on a hot account
// doesn't trigger N parallel decrypts.
type InMemoryCache struct {
	store      *gocache.Cache
	computeMus sync.Map // key -> *sync.Mutex, guards concurrent GetOrSet misses
}

// NewInMemoryCache creates a cache whose expired-entry sweep runs every
// cleanupInterval. Set calls made with ttl <= 0 store the entry without
// expiry; the decrypted-config cache always passes an explicit TTL.
func NewInMemoryCache(cleanupInterval time.Duration) *InMemoryCache {
	return &InMemoryCache{
		store: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func (c *InMemoryCache) Get(key string) (interface{}, bool) {
	return c.store.Get(key)
}

func (c *InMemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	c.store.Set(key, value, ttl)
}

func (c *InMemoryCache) GetOrSet(key string, ttl time.Duration, compute func() (interface{}, error)) (interface{}, error) {
	if value, found := c.store.Get(key); found {
		return value, nil
	}

	muAny, _ := c.computeMus.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if value, found := c.store.Get(key); found {
		return value, nil
	}

	value, err := compute()
	if err != nil {
		return nil, err
	}

	c.store.Set(key, value, ttl)
	return value, nil
}

func (c *InMemoryCache) Delete(key string) {
	c.store.Delete(key)
}

func (c *InMemoryCache) Clear() {
	c.store.Flush()
}

func (c *InMemoryCache) Size() int {
	return c.store.ItemCount()
}

// Stop is a no-op: go-cache's janitor goroutine is tied to the *gocache.Cache
// itself and is garbage collected with it, there is nothing to explicitly
// stop. Kept on the interface so callers don't need a type switch.
func (c *InMemoryCache) Stop() {}
