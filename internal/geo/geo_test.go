package geo

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

var origin = models.Location{Lat: 37.7749, Lon: -122.4194}

const kmPerDegreeLat = 111.195

// offsetNorth returns a point roughly km kilometres north of origin.
func offsetNorth(km float64) models.Location {
	return models.Location{Lat: origin.Lat + km/kmPerDegreeLat, Lon: origin.Lon}
}

func TestIndexNearestFirst(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	_ = g.UpdateDriverLocation(ctx, "far", offsetNorth(4))
	_ = g.UpdateDriverLocation(ctx, "near", offsetNorth(1))
	_ = g.UpdateDriverLocation(ctx, "mid", offsetNorth(2.5))
	_ = g.UpdateDriverLocation(ctx, "outside", offsetNorth(9))

	got, err := g.FindNearbyDrivers(ctx, origin, 5)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"near", "mid", "far"}
	if len(got) != len(want) {
		t.Fatalf("expected %d drivers, got %+v", len(want), got)
	}
	for i, id := range want {
		if got[i].DriverID != id {
			t.Fatalf("position %d: got %s want %s (%+v)", i, got[i].DriverID, id, got)
		}
		if got[i].DistanceKm > 5 {
			t.Fatalf("driver %s outside radius: %.3f", id, got[i].DistanceKm)
		}
	}
}

func TestIndexUpdateMovesDriver(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	_ = g.UpdateDriverLocation(ctx, "d1", offsetNorth(1))
	_ = g.UpdateDriverLocation(ctx, "d1", offsetNorth(20))

	got, _ := g.FindNearbyDrivers(ctx, origin, 5)
	if len(got) != 0 {
		t.Fatalf("expected driver to have moved out of range, got %+v", got)
	}
	if g.Len() != 1 {
		t.Fatalf("expected a single indexed driver, got %d", g.Len())
	}
}

func TestIndexRemoveDriver(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	_ = g.UpdateDriverLocation(ctx, "d1", offsetNorth(1))
	_ = g.RemoveDriver(ctx, "d1")
	_ = g.RemoveDriver(ctx, "unknown")

	got, _ := g.FindNearbyDrivers(ctx, origin, 5)
	if len(got) != 0 {
		t.Fatalf("expected no drivers, got %+v", got)
	}
}

func TestIndexTiesBrokenByID(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	loc := offsetNorth(1)
	_ = g.UpdateDriverLocation(ctx, "b", loc)
	_ = g.UpdateDriverLocation(ctx, "a", loc)

	got, _ := g.FindNearbyDrivers(ctx, origin, 5)
	if len(got) != 2 || got[0].DriverID != "a" || got[1].DriverID != "b" {
		t.Fatalf("unexpected tie order: %+v", got)
	}
}

func TestIndexAcrossAntimeridian(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	_ = g.UpdateDriverLocation(ctx, "east", models.Location{Lat: 0, Lon: 179.99})
	_ = g.UpdateDriverLocation(ctx, "west", models.Location{Lat: 0, Lon: -179.99})

	got, _ := g.FindNearbyDrivers(ctx, models.Location{Lat: 0, Lon: 180}, 5)
	if len(got) != 2 {
		t.Fatalf("expected both drivers across the antimeridian, got %+v", got)
	}
}

func TestIndexZeroRadius(t *testing.T) {
	g := NewIndex()
	_ = g.UpdateDriverLocation(context.Background(), "d1", origin)
	got, err := g.FindNearbyDrivers(context.Background(), origin, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %+v err=%v", got, err)
	}
}

func TestIndexConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("d%d", i)
			for j := 0; j < 50; j++ {
				_ = g.UpdateDriverLocation(ctx, id, offsetNorth(float64(j%5)))
				_, _ = g.FindNearbyDrivers(ctx, origin, 3)
			}
		}(i)
	}
	wg.Wait()
	if g.Len() != 16 {
		t.Fatalf("expected 16 drivers, got %d", g.Len())
	}
}
