package matcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/lock"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

var pickup = models.Location{Lat: 40.7128, Lon: -74.0060}

// countingStore wraps MemoryStore and records driver reads.
type countingStore struct {
	*storage.MemoryStore
	driverReads   atomic.Int32
	failRideSave  error
	failDriverGet error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: storage.NewMemoryStore()}
}

func (c *countingStore) DriverByID(ctx context.Context, id string) (models.Driver, error) {
	c.driverReads.Add(1)
	if c.failDriverGet != nil {
		return models.Driver{}, c.failDriverGet
	}
	return c.MemoryStore.DriverByID(ctx, id)
}

func (c *countingStore) SaveRide(ctx context.Context, r models.Ride) error {
	if c.failRideSave != nil {
		return c.failRideSave
	}
	return c.MemoryStore.SaveRide(ctx, r)
}

type fakeGeo struct {
	cands []models.NearbyDriver
	err   error
	calls atomic.Int32
}

func (f *fakeGeo) UpdateDriverLocation(context.Context, string, models.Location) error { return nil }
func (f *fakeGeo) RemoveDriver(context.Context, string) error                          { return nil }
func (f *fakeGeo) FindNearbyDrivers(context.Context, models.Location, float64) ([]models.NearbyDriver, error) {
	f.calls.Add(1)
	return f.cands, f.err
}

// countingLocker wraps lock.Memory and counts calls.
type countingLocker struct {
	*lock.Memory
	acquires   atomic.Int32
	releases   atomic.Int32
	acquireErr error
}

func newCountingLocker() *countingLocker {
	return &countingLocker{Memory: lock.NewMemory()}
}

func (c *countingLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	c.acquires.Add(1)
	if c.acquireErr != nil {
		return "", false, c.acquireErr
	}
	return c.Memory.Acquire(ctx, key, ttl)
}

func (c *countingLocker) Release(ctx context.Context, key, token string) error {
	c.releases.Add(1)
	return c.Memory.Release(ctx, key, token)
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []dispatch.Assignment
}

func (r *recordingNotifier) Notify(_ context.Context, a dispatch.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, a)
	return nil
}

type fixture struct {
	store *countingStore
	geo   *fakeGeo
	locks *countingLocker
	svc   *Service
}

func newFixture() *fixture {
	f := &fixture{store: newCountingStore(), geo: &fakeGeo{}, locks: newCountingLocker()}
	f.svc = &Service{Rides: f.store, Drivers: f.store, Geo: f.geo, Locks: f.locks, RadiusKm: 5}
	return f
}

func (f *fixture) addRide(t *testing.T, id string) models.Ride {
	t.Helper()
	r := models.Ride{ID: id, RiderID: "rider-" + id, Pickup: pickup, Dropoff: pickup, Status: models.RideRequested}
	if err := f.store.SaveRide(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r
}

func (f *fixture) addDriver(t *testing.T, id string, status models.DriverStatus) models.Driver {
	t.Helper()
	d := models.Driver{ID: id, Name: id, Location: pickup, Status: status}
	if status == models.DriverBusy {
		d.CurrentRideID = "other-ride"
	}
	if err := f.store.SaveDriver(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestMatchDriverAssignsNearest(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addRide(t, "r1")
	f.addDriver(t, "d1", models.DriverAvailable)
	f.geo.cands = []models.NearbyDriver{{DriverID: "d1", DistanceKm: 1.5}}

	got, err := f.svc.MatchDriver(ctx, "r1")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got != "d1" {
		t.Fatalf("expected d1, got %s", got)
	}

	ride, _ := f.store.RideByID(ctx, "r1")
	if ride.Status != models.RideDriverAssigned || ride.DriverID != "d1" {
		t.Fatalf("ride not assigned: %+v", ride)
	}
	driver, _ := f.store.DriverByID(ctx, "d1")
	if driver.Status != models.DriverBusy || driver.CurrentRideID != "r1" {
		t.Fatalf("driver not busy: %+v", driver)
	}
	if n := f.locks.releases.Load(); n != 1 {
		t.Fatalf("expected exactly one release, got %d", n)
	}
	if f.locks.Held(lock.DriverKey("d1")) {
		t.Fatal("lock must be released")
	}
}

func TestMatchDriverRideNotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.MatchDriver(context.Background(), "missing")
	if !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
	if f.geo.calls.Load() != 0 {
		t.Fatal("geo must not be queried for a missing ride")
	}
}

func TestMatchDriverRideAlreadyAssigned(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	r := f.addRide(t, "r1")
	r, _ = models.AssignDriver(r, "someone")
	_ = f.store.SaveRide(ctx, r)
	f.geo.cands = []models.NearbyDriver{{DriverID: "d1", DistanceKm: 1}}
	f.store.driverReads.Store(0)

	_, err := f.svc.MatchDriver(ctx, "r1")
	if !errors.Is(err, ErrRideNotRequested) {
		t.Fatalf("expected ErrRideNotRequested, got %v", err)
	}
	if f.store.driverReads.Load() != 0 || f.locks.acquires.Load() != 0 {
		t.Fatal("no driver may be touched for a non-requested ride")
	}
}

func TestMatchDriverNoCandidates(t *testing.T) {
	f := newFixture()
	f.addRide(t, "r1")

	_, err := f.svc.MatchDriver(context.Background(), "r1")
	if !errors.Is(err, ErrNoDriversNearby) {
		t.Fatalf("expected ErrNoDriversNearby, got %v", err)
	}
	if f.locks.acquires.Load() != 0 {
		t.Fatal("no locks expected without candidates")
	}
}

func TestMatchDriverSkipsHeldLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addRide(t, "r1")
	f.addDriver(t, "d1", models.DriverAvailable)
	f.addDriver(t, "d2", models.DriverAvailable)
	f.geo.cands = []models.NearbyDriver{{DriverID: "d1", DistanceKm: 0.5}, {DriverID: "d2", DistanceKm: 2}}
	if _, ok, _ := f.locks.Memory.Acquire(ctx, lock.DriverKey("d1"), time.Minute); !ok {
		t.Fatal("setup: pre-claim d1")
	}

	got, err := f.svc.MatchDriver(ctx, "r1")
	if err != nil || got != "d2" {
		t.Fatalf("expected d2, got %q err=%v", got, err)
	}
	d1, _ := f.store.MemoryStore.DriverByID(ctx, "d1")
	if d1.Status != models.DriverAvailable {
		t.Fatalf("held driver must be untouched: %+v", d1)
	}
	if !f.locks.Held(lock.DriverKey("d1")) {
		t.Fatal("someone else's claim must survive")
	}
}

func TestMatchDriverSkipsMissingAndUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addRide(t, "r1")
	f.addDriver(t, "offline", models.DriverOffline)
	f.addDriver(t, "busy", models.DriverBusy)
	f.addDriver(t, "ok", models.DriverAvailable)
	f.geo.cands = []models.NearbyDriver{
		{DriverID: "ghost", DistanceKm: 0.1},
		{DriverID: "offline", DistanceKm: 0.2},
		{DriverID: "busy", DistanceKm: 0.3},
		{DriverID: "ok", DistanceKm: 0.4},
	}

	got, err := f.svc.MatchDriver(ctx, "r1")
	if err != nil || got != "ok" {
		t.Fatalf("expected ok, got %q err=%v", got, err)
	}
	if a, r := f.locks.acquires.Load(), f.locks.releases.Load(); a != 4 || r != 4 {
		t.Fatalf("every claim must be released: acquires=%d releases=%d", a, r)
	}
	off, _ := f.store.MemoryStore.DriverByID(ctx, "offline")
	if off.Status != models.DriverOffline {
		t.Fatalf("offline driver changed: %+v", off)
	}
}

func TestMatchDriverOnlyOfflineExhausts(t *testing.T) {
	f := newFixture()
	f.addRide(t, "r1")
	f.addDriver(t, "d1", models.DriverOffline)
	f.geo.cands = []models.NearbyDriver{{DriverID: "d1", DistanceKm: 1}}

	_, err := f.svc.MatchDriver(context.Background(), "r1")
	if !errors.Is(err, ErrNoDriversNearby) {
		t.Fatalf("expected ErrNoDriversNearby, got %v", err)
	}
	if f.locks.releases.Load() != 1 {
		t.Fatalf("expected one release, got %d", f.locks.releases.Load())
	}
}

func TestMatchDriverFaultsPropagate(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name  string
		setup func(*fixture)
	}{
		{"geo", func(f *fixture) { f.geo.err = boom }},
		{"lock", func(f *fixture) { f.locks.acquireErr = boom }},
		{"driver load", func(f *fixture) { f.store.failDriverGet = boom }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.addRide(t, "r1")
			f.addDriver(t, "d1", models.DriverAvailable)
			f.geo.cands = []models.NearbyDriver{{DriverID: "d1", DistanceKm: 1}}
			tc.setup(f)

			_, err := f.svc.MatchDriver(context.Background(), "r1")
			if !errors.Is(err, boom) {
				t.Fatalf("expected wrapped fault, got %v", err)
			}
			if IsFinal(err) {
				t.Fatal("faults must not be final")
			}
			if f.locks.Held(lock.DriverKey("d1")) {
				t.Fatal("lock leaked")
			}
		})
	}
}

func TestMatchDriverRideSaveFailureRollsBackDriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addRide(t, "r1")
	f.addDriver(t, "d1", models.DriverAvailable)
	f.geo.cands = []models.NearbyDriver{{DriverID: "d1", DistanceKm: 1}}
	f.store.failRideSave = errors.New("disk full")

	if _, err := f.svc.MatchDriver(ctx, "r1"); err == nil {
		t.Fatal("expected error")
	}
	d, _ := f.store.MemoryStore.DriverByID(ctx, "d1")
	if d.Status != models.DriverAvailable || d.CurrentRideID != "" {
		t.Fatalf("driver must be rolled back: %+v", d)
	}
	if f.locks.Held(lock.DriverKey("d1")) {
		t.Fatal("lock leaked")
	}
}

func TestMatchDriverNotifiesAssignment(t *testing.T) {
	f := newFixture()
	n := &recordingNotifier{}
	f.svc.Notifier = n
	f.svc.ETA = eta.Naive{SpeedMps: 10}
	f.addRide(t, "r1")
	f.addDriver(t, "d1", models.DriverAvailable)
	f.geo.cands = []models.NearbyDriver{{DriverID: "d1", DistanceKm: 1.5}}

	if _, err := f.svc.MatchDriver(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	if len(n.got) != 1 {
		t.Fatalf("expected one notification, got %d", len(n.got))
	}
	a := n.got[0]
	if a.RideID != "r1" || a.DriverID != "d1" || a.DistanceKm != 1.5 {
		t.Fatalf("unexpected assignment %+v", a)
	}
}

func TestMatchDriverConcurrentSingleDriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addDriver(t, "d1", models.DriverAvailable)
	f.geo.cands = []models.NearbyDriver{{DriverID: "d1", DistanceKm: 1}}

	const rides = 32
	for i := 0; i < rides; i++ {
		f.addRide(t, fmt.Sprintf("r%02d", i))
	}

	var wg sync.WaitGroup
	var wins atomic.Int32
	start := make(chan struct{})
	errs := make(chan error, rides)
	for i := 0; i < rides; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, err := f.svc.MatchDriver(ctx, id)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrNoDriversNearby):
			default:
				errs <- err
			}
		}(fmt.Sprintf("r%02d", i))
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	if wins.Load() != 1 {
		t.Fatalf("exactly one ride may win the driver, got %d", wins.Load())
	}

	assigned, _ := f.store.RidesByStatus(ctx, models.RideDriverAssigned)
	d, _ := f.store.MemoryStore.DriverByID(ctx, "d1")
	if len(assigned) != 1 || d.CurrentRideID != assigned[0].ID {
		t.Fatalf("driver/ride disagree: driver=%+v assigned=%+v", d, assigned)
	}
}

func TestMatchDriverConcurrentNoDoubleBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	const n = 16
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("d%02d", i)
		f.addDriver(t, id, models.DriverAvailable)
		f.geo.cands = append(f.geo.cands, models.NearbyDriver{DriverID: id, DistanceKm: float64(i)})
		f.addRide(t, fmt.Sprintf("r%02d", i))
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, _ = f.svc.MatchDriver(ctx, id)
		}(fmt.Sprintf("r%02d", i))
	}
	close(start)
	wg.Wait()

	assigned, _ := f.store.RidesByStatus(ctx, models.RideDriverAssigned)
	seen := map[string]string{}
	for _, r := range assigned {
		if prev, dup := seen[r.DriverID]; dup {
			t.Fatalf("driver %s booked for %s and %s", r.DriverID, prev, r.ID)
		}
		seen[r.DriverID] = r.ID
		d, _ := f.store.MemoryStore.DriverByID(ctx, r.DriverID)
		if d.Status != models.DriverBusy || d.CurrentRideID != r.ID {
			t.Fatalf("driver %s disagrees with ride %s: %+v", r.DriverID, r.ID, d)
		}
	}
	if len(assigned) == 0 {
		t.Fatal("at least one ride must be matched")
	}
}

func TestIsFinal(t *testing.T) {
	for _, err := range []error{ErrRideNotFound, ErrRideNotRequested, ErrNoDriversNearby, fmt.Errorf("wrapped: %w", ErrNoDriversNearby)} {
		if !IsFinal(err) {
			t.Errorf("%v should be final", err)
		}
	}
	if IsFinal(errors.New("redis down")) {
		t.Error("faults are not final")
	}
}
