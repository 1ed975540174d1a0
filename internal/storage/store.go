package storage

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
)

var ErrNotFound = errors.New("record not found")

// RideStore persists rides. Save is a whole-record upsert; the last writer wins.
type RideStore interface {
	SaveRide(ctx context.Context, r models.Ride) error
	RideByID(ctx context.Context, id string) (models.Ride, error)
	RidesByRider(ctx context.Context, riderID string) ([]models.Ride, error)
	RidesByStatus(ctx context.Context, status models.RideStatus) ([]models.Ride, error)
}

// DriverStore persists drivers with the same whole-record semantics.
type DriverStore interface {
	SaveDriver(ctx context.Context, d models.Driver) error
	DriverByID(ctx context.Context, id string) (models.Driver, error)
	DriversByStatus(ctx context.Context, status models.DriverStatus) ([]models.Driver, error)
}
