package models

import (
	"errors"
	"math"
	"testing"
)

func TestNewLocationRoundTrip(t *testing.T) {
	cases := []struct{ lat, lon float64 }{
		{0, 0},
		{-90, -180},
		{90, 180},
		{37.7749, -122.4194},
		{-33.8688, 151.2093},
	}
	for _, c := range cases {
		loc, err := NewLocation(c.lat, c.lon)
		if err != nil {
			t.Fatalf("NewLocation(%v, %v): unexpected err %v", c.lat, c.lon, err)
		}
		if loc.Lat != c.lat || loc.Lon != c.lon {
			t.Fatalf("round trip mismatch: got %+v want (%v, %v)", loc, c.lat, c.lon)
		}
	}
}

func TestNewLocationRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		lat, lon float64
		want     error
	}{
		{90.0001, 0, ErrLatitudeOutOfRange},
		{-91, 0, ErrLatitudeOutOfRange},
		{0, 180.5, ErrLongitudeOutOfRange},
		{0, -181, ErrLongitudeOutOfRange},
		{math.NaN(), 0, ErrLatitudeOutOfRange},
		{0, math.NaN(), ErrLongitudeOutOfRange},
	}
	for _, c := range cases {
		if _, err := NewLocation(c.lat, c.lon); !errors.Is(err, c.want) {
			t.Errorf("NewLocation(%v, %v) err = %v, want %v", c.lat, c.lon, err, c.want)
		}
	}
}

func TestDistanceSymmetricAndZero(t *testing.T) {
	points := []Location{
		{Lat: 0, Lon: 0},
		{Lat: 40.7128, Lon: -74.0060},
		{Lat: 51.5074, Lon: -0.1278},
		{Lat: -33.8688, Lon: 151.2093},
		{Lat: 89.9, Lon: 179.9},
	}
	for _, a := range points {
		if d := DistanceKm(a, a); d != 0 {
			t.Fatalf("distance(%+v, self) = %v, want 0", a, d)
		}
		for _, b := range points {
			if DistanceKm(a, b) != DistanceKm(b, a) {
				t.Fatalf("distance not symmetric for %+v / %+v", a, b)
			}
		}
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// London -> Paris is roughly 344 km.
	london := Location{Lat: 51.5074, Lon: -0.1278}
	paris := Location{Lat: 48.8566, Lon: 2.3522}
	d := DistanceKm(london, paris)
	if d < 340 || d > 348 {
		t.Fatalf("expected ~344km, got %.2f", d)
	}
}
