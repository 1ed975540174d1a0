package eta

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// defaultSpeedMps is roughly 28.8 km/h, a typical city average.
const defaultSpeedMps = 8.0

// Estimator returns the travel time in seconds between two points.
type Estimator interface {
	EstimateSeconds(ctx context.Context, from, to models.Location) (float64, error)
}

// Naive estimates straight-line distance over a constant speed.
type Naive struct {
	SpeedMps float64
}

func (n Naive) EstimateSeconds(_ context.Context, from, to models.Location) (float64, error) {
	return EstimateSeconds(from, to, n.SpeedMps), nil
}

// EstimateSeconds is the naive distance/speed estimate.
func EstimateSeconds(from, to models.Location, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = defaultSpeedMps
	}
	return models.DistanceKm(from, to) * 1000 / speedMps
}

// Cache is a small in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	nowFn func() time.Time
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl, nowFn: time.Now}
}

func keyFor(a, b models.Location) string {
	return fmt.Sprintf("%.5f,%.5f->%.5f,%.5f", a.Lat, a.Lon, b.Lat, b.Lon)
}

// Get returns the cached value if present and not expired.
func (c *Cache) Get(a, b models.Location) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if c.nowFn().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.Location, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: c.nowFn()}
	c.mu.Unlock()
}

// Routed asks a routing engine first and falls back to the naive estimate
// when the engine fails. Successful answers are cached.
type Routed struct {
	Client   Estimator
	Cache    *Cache
	Fallback Naive
}

func (r *Routed) EstimateSeconds(ctx context.Context, from, to models.Location) (float64, error) {
	if r.Cache != nil {
		if v, ok := r.Cache.Get(from, to); ok {
			return v, nil
		}
	}
	if r.Client != nil {
		v, err := r.Client.EstimateSeconds(ctx, from, to)
		if err == nil {
			if r.Cache != nil {
				r.Cache.Set(from, to, v)
			}
			return v, nil
		}
	}
	return r.Fallback.EstimateSeconds(ctx, from, to)
}
