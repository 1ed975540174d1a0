package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

var ErrInvalidRequest = errors.New("rider id is required")

// Requester creates rides and hands them to the match queue.
type Requester struct {
	Rides  storage.RideStore
	Queue  ingest.Queue
	Logger *slog.Logger
}

// RequestRide saves a new requested ride and enqueues it for matching. If
// the enqueue fails the ride is still stored and the error is returned with
// it, so the caller can trigger a match directly.
func (q *Requester) RequestRide(ctx context.Context, riderID string, pickup, dropoff models.Location) (models.Ride, error) {
	if riderID == "" {
		return models.Ride{}, ErrInvalidRequest
	}
	if err := pickup.Validate(); err != nil {
		return models.Ride{}, fmt.Errorf("pickup: %w", err)
	}
	if err := dropoff.Validate(); err != nil {
		return models.Ride{}, fmt.Errorf("dropoff: %w", err)
	}

	r := models.NewRide(riderID, pickup, dropoff)
	if err := q.Rides.SaveRide(ctx, r); err != nil {
		return models.Ride{}, fmt.Errorf("save ride: %w", err)
	}
	observability.RidesRequested.Inc()

	if err := q.Queue.Enqueue(ctx, ingest.MatchJob{RideID: r.ID, RequestedAt: time.Now().UTC()}); err != nil {
		if q.Logger != nil {
			q.Logger.ErrorContext(ctx, "enqueue match job failed", "ride_id", r.ID, "error", err)
		}
		return r, fmt.Errorf("enqueue match for ride %s: %w", r.ID, err)
	}
	return r, nil
}
