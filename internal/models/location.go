package models

import (
	"errors"
	"math"
)

var (
	ErrLatitudeOutOfRange  = errors.New("latitude must be between -90 and 90")
	ErrLongitudeOutOfRange = errors.New("longitude must be between -180 and 180")
)

const earthRadiusKm = 6371.0

// Location is an immutable WGS84 coordinate.
type Location struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// NewLocation validates lat/lon bounds. NaN is rejected as out of range.
func NewLocation(lat, lon float64) (Location, error) {
	if !(lat >= -90 && lat <= 90) {
		return Location{}, ErrLatitudeOutOfRange
	}
	if !(lon >= -180 && lon <= 180) {
		return Location{}, ErrLongitudeOutOfRange
	}
	return Location{Lat: lat, Lon: lon}, nil
}

// Validate reports whether an already-built Location (e.g. decoded from JSON) is in range.
func (l Location) Validate() error {
	_, err := NewLocation(l.Lat, l.Lon)
	return err
}

// DistanceKm is the haversine great-circle distance in kilometres.
func DistanceKm(from, to Location) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	lat1 := toRad(from.Lat)
	lat2 := toRad(to.Lat)
	dLat := toRad(to.Lat - from.Lat)
	dLon := toRad(to.Lon - from.Lon)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// NearbyDriver is a geo query hit; it is not persisted.
type NearbyDriver struct {
	DriverID   string  `json:"driver_id"`
	DistanceKm float64 `json:"distance_km"`
}
