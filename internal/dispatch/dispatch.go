// Package dispatch tells a driver which ride they were matched to.
// Delivery is best effort; a failed notification never undoes a match.
package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/ride-dispatch/internal/models"
)

var ErrNoSession = errors.New("no ws session")

// Assignment is the payload pushed to a matched driver.
type Assignment struct {
	RideID     string          `json:"ride_id"`
	DriverID   string          `json:"driver_id"`
	Pickup     models.Location `json:"pickup"`
	Dropoff    models.Location `json:"dropoff"`
	DistanceKm float64         `json:"distance_km"`
	ETASeconds float64         `json:"eta_seconds"`
}

type Notifier interface {
	Notify(ctx context.Context, a Assignment) error
}

// LogNotifier only records the assignment. Used by the consumer, which has
// no driver connections.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, a Assignment) error {
	n.Logger.InfoContext(ctx, "driver assignment",
		"ride_id", a.RideID,
		"driver_id", a.DriverID,
		"distance_km", a.DistanceKm,
		"eta_seconds", a.ETASeconds,
	)
	return nil
}
