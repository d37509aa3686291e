package openweather

import (
	"container/list"
	"context"
	"strings"
	"sync"

	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
	"github.com/couchcryptid/feed-ingest-etl/internal/observability"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache keyed by city.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder. metrics may be nil.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

// Geocode returns the cached location for city, asking the wrapped geocoder
// on a miss. Only found locations are cached.
func (c *CachedGeocoder) Geocode(ctx context.Context, city string) (domain.Location, error) {
	key := strings.ToLower(strings.TrimSpace(city))
	if loc, ok := c.cache.get(key); ok {
		c.observe("hit")
		return loc, nil
	}
	c.observe("miss")

	loc, err := c.inner.Geocode(ctx, city)
	if err != nil {
		return loc, err
	}
	if loc.Found() {
		c.cache.put(key, loc)
	}
	return loc, nil
}

func (c *CachedGeocoder) observe(result string) {
	if c.metrics != nil {
		c.metrics.GeocodeCache.WithLabelValues(result).Inc()
	}
}

// lruCache is a thread-safe LRU cache of geocoded cities. The front of order
// is the most recently used key.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	order      *list.List
	items      map[string]*list.Element
}

type cacheItem struct {
	key string
	loc domain.Location
}

func newLRUCache(maxEntries int) *lruCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element, maxEntries),
	}
}

func (c *lruCache) get(key string) (domain.Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return domain.Location{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheItem).loc, true
}

func (c *lruCache) put(key string, loc domain.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheItem).loc = loc
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&cacheItem{key: key, loc: loc})
	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
