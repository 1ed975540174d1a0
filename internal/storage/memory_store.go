package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore implements RideStore and DriverStore in process. Records are
// stored and returned by value so callers never share mutable state.
type MemoryStore struct {
	mu      sync.RWMutex
	rides   map[string]models.Ride
	drivers map[string]models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:   make(map[string]models.Ride),
		drivers: make(map[string]models.Driver),
	}
}

func (m *MemoryStore) SaveRide(_ context.Context, r models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r
	return nil
}

func (m *MemoryStore) RideByID(_ context.Context, id string) (models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) RidesByRider(_ context.Context, riderID string) ([]models.Ride, error) {
	return m.filterRides(func(r models.Ride) bool { return r.RiderID == riderID }), nil
}

func (m *MemoryStore) RidesByStatus(_ context.Context, status models.RideStatus) ([]models.Ride, error) {
	return m.filterRides(func(r models.Ride) bool { return r.Status == status }), nil
}

func (m *MemoryStore) filterRides(keep func(models.Ride) bool) []models.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Ride{}
	for _, r := range m.rides {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) SaveDriver(_ context.Context, d models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
	return nil
}

func (m *MemoryStore) DriverByID(_ context.Context, id string) (models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.Driver{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) DriversByStatus(_ context.Context, status models.DriverStatus) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Driver{}
	for _, d := range m.drivers {
		if d.Status == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
