package querycache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kittclouds/convstore/internal/metrics"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Cache is a scope-keyed read-through cache.
// Loads for the same scope are collapsed; a load that overlaps an
// invalidation returns its result to the caller but is not stored.
type Cache struct {
	items *cache.Cache
	group singleflight.Group

	mu  sync.Mutex
	gen uint64
}

// New creates a cache whose entries expire after ttl and are purged every
// cleanup interval.
func New(ttl, cleanup time.Duration) *Cache {
	return &Cache{items: cache.New(ttl, cleanup)}
}

// Get returns the cached value for scope.
func (c *Cache) Get(scope Scope) (any, bool) {
	return c.items.Get(scope.String())
}

// Len is the number of cached entries, expired ones included until purged.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

func (c *Cache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// storeIfCurrent caches v unless an invalidation happened since gen was read.
func (c *Cache) storeIfCurrent(key string, v any, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.items.SetDefault(key, v)
}

// Invalidate drops every entry covered by the given scopes.
func (c *Cache) Invalidate(scopes ...Scope) {
	if len(scopes) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++

	var keys []string
	for _, s := range scopes {
		metrics.RecordInvalidation(string(s.Kind))
		if s.Key != "" {
			c.items.Delete(s.String())
			continue
		}
		if keys == nil {
			for k := range c.items.Items() {
				keys = append(keys, k)
			}
		}
		prefix := string(s.Kind) + "["
		for _, k := range keys {
			if k == string(s.Kind) || strings.HasPrefix(k, prefix) {
				c.items.Delete(k)
			}
		}
	}
}

// Flush empties the cache.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.items.Flush()
}

// Load returns the cached value for scope or calls loader and caches its
// result. Errors are returned to every waiting caller and never cached.
func Load[T any](ctx context.Context, c *Cache, scope Scope, loader func(ctx context.Context) (T, error)) (T, error) {
	key := scope.String()
	if v, ok := c.items.Get(key); ok {
		if typed, ok := v.(T); ok {
			metrics.RecordCacheLookup(true)
			return typed, nil
		}
	}
	metrics.RecordCacheLookup(false)

	// Callers arriving after an invalidation start a fresh flight.
	gen := c.generation()
	flight := strconv.FormatUint(gen, 10) + ":" + key

	v, err, _ := c.group.Do(flight, func() (any, error) {
		val, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.storeIfCurrent(key, val, gen)
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := v.(T)
	return typed, nil
}
