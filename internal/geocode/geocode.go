// Package geocode abstracts address<->coordinate resolution so the engine
// is testable without network access. "Not found" is a normal outcome here,
// never an error.
package geocode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Geocoder resolves free-text addresses to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (models.Coord, bool, error)
}

// ReverseGeocoder resolves coordinates to a display address.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, bool, error)
}

// Cache is a tiny in-memory TTL cache for forward geocode lookups.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	coord models.Coord
	found bool
	ts    time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func (c *Cache) get(address string) (models.Coord, bool, bool) {
	c.mu.RLock()
	e, ok := c.store[address]
	c.mu.RUnlock()
	if !ok {
		return models.Coord{}, false, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, address)
		c.mu.Unlock()
		return models.Coord{}, false, false
	}
	return e.coord, e.found, true
}

func (c *Cache) set(address string, coord models.Coord, found bool) {
	c.mu.Lock()
	c.store[address] = cacheEntry{coord: coord, found: found, ts: time.Now()}
	c.mu.Unlock()
}

// CachedGeocoder wraps a Geocoder with the TTL cache. Negative results are
// cached too, so a flood of requests for an unknown address does not hammer
// the upstream service.
type CachedGeocoder struct {
	Inner Geocoder
	Cache *Cache
}

func (g *CachedGeocoder) Geocode(ctx context.Context, address string) (models.Coord, bool, error) {
	if coord, found, hit := g.Cache.get(address); hit {
		return coord, found, nil
	}
	coord, found, err := g.Inner.Geocode(ctx, address)
	if err != nil {
		return models.Coord{}, false, err
	}
	g.Cache.set(address, coord, found)
	return coord, found, nil
}

// Static is a fixture geocoder for tests and local runs without network.
type Static struct {
	Forward map[string]models.Coord
	Reverse map[string]string
}

func (s *Static) Geocode(ctx context.Context, address string) (models.Coord, bool, error) {
	c, ok := s.Forward[address]
	return c, ok, nil
}

func (s *Static) ReverseGeocode(ctx context.Context, lat, lon float64) (string, bool, error) {
	a, ok := s.Reverse[fmt.Sprintf("%.5f,%.5f", lat, lon)]
	return a, ok, nil
}
