package geo

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"

	"github.com/example/ride-dispatch/internal/models"
)

// Geo tracks last-known driver positions and answers radius queries
// sorted nearest-first.
type Geo interface {
	UpdateDriverLocation(ctx context.Context, driverID string, loc models.Location) error
	RemoveDriver(ctx context.Context, driverID string) error
	FindNearbyDrivers(ctx context.Context, loc models.Location, radiusKm float64) ([]models.NearbyDriver, error)
}

const (
	// under-estimates a degree so the search box over-covers the radius
	kmPerDegree    = 110.0
	pointTolerance = 1e-9
)

type entry struct {
	id   string
	loc  models.Location
	rect rtreego.Rect
}

func (e *entry) Bounds() rtreego.Rect { return e.rect }

// Index is an in-process Geo backed by an R-tree over (lat, lon). The tree
// prunes by bounding box; exact haversine distance decides membership.
type Index struct {
	mu      sync.RWMutex
	tree    *rtreego.Rtree
	drivers map[string]*entry
}

func NewIndex() *Index {
	return &Index{
		tree:    rtreego.NewTree(2, 25, 50),
		drivers: make(map[string]*entry),
	}
}

func (g *Index) UpdateDriverLocation(_ context.Context, driverID string, loc models.Location) error {
	e := &entry{id: driverID, loc: loc, rect: rtreego.Point{loc.Lat, loc.Lon}.ToRect(pointTolerance)}
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.drivers[driverID]; ok {
		g.tree.Delete(old)
	}
	g.drivers[driverID] = e
	g.tree.Insert(e)
	return nil
}

func (g *Index) RemoveDriver(_ context.Context, driverID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.drivers[driverID]; ok {
		g.tree.Delete(old)
		delete(g.drivers, driverID)
	}
	return nil
}

// FindNearbyDrivers returns drivers within radiusKm ordered by distance,
// ties broken by driver id.
func (g *Index) FindNearbyDrivers(_ context.Context, loc models.Location, radiusKm float64) ([]models.NearbyDriver, error) {
	if radiusKm <= 0 {
		return nil, nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var candidates []*entry
	if bb, ok := boundingBox(loc, radiusKm); ok {
		for _, s := range g.tree.SearchIntersect(bb) {
			candidates = append(candidates, s.(*entry))
		}
	} else {
		// box crosses a pole or the antimeridian
		for _, e := range g.drivers {
			candidates = append(candidates, e)
		}
	}

	out := make([]models.NearbyDriver, 0, len(candidates))
	for _, e := range candidates {
		d := models.DistanceKm(loc, e.loc)
		if d <= radiusKm {
			out = append(out, models.NearbyDriver{DriverID: e.id, DistanceKm: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].DriverID < out[j].DriverID
	})
	return out, nil
}

// Len reports how many drivers are indexed.
func (g *Index) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.drivers)
}

func boundingBox(loc models.Location, radiusKm float64) (rtreego.Rect, bool) {
	dLat := radiusKm / kmPerDegree
	cosLat := math.Cos(loc.Lat * math.Pi / 180)
	if cosLat < 1e-6 {
		return rtreego.Rect{}, false
	}
	dLon := radiusKm / (kmPerDegree * cosLat)
	minLat, maxLat := loc.Lat-dLat, loc.Lat+dLat
	minLon, maxLon := loc.Lon-dLon, loc.Lon+dLon
	if minLat < -90 || maxLat > 90 || minLon < -180 || maxLon > 180 {
		return rtreego.Rect{}, false
	}
	bb, err := rtreego.NewRect(rtreego.Point{minLat, minLon}, []float64{2 * dLat, 2 * dLon})
	if err != nil {
		return rtreego.Rect{}, false
	}
	return bb, true
}
