// Package lifecycle moves rides through pickup, trip and close-out, and
// creates new ride requests.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/lock"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

var (
	ErrRideNotFound   = errors.New("ride not found")
	ErrDriverNotFound = errors.New("driver not found")
)

const (
	freeAttempts = 3
	freeBackoff  = 50 * time.Millisecond
)

type Service struct {
	Rides   storage.RideStore
	Drivers storage.DriverStore
	Locks   lock.Locker
	Logger  *slog.Logger
	LockTTL time.Duration
}

func (s *Service) Ride(ctx context.Context, id string) (models.Ride, error) {
	r, err := s.Rides.RideByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Ride{}, ErrRideNotFound
	}
	return r, err
}

func (s *Service) StartPickup(ctx context.Context, rideID string) (models.Ride, error) {
	return s.transition(ctx, rideID, models.StartPickup)
}

func (s *Service) StartRide(ctx context.Context, rideID string) (models.Ride, error) {
	return s.transition(ctx, rideID, models.StartRide)
}

// CompleteRide closes the ride and makes its driver available again. Both
// writes happen under the driver's claim, and nothing is saved unless the
// driver is busy with this ride.
func (s *Service) CompleteRide(ctx context.Context, rideID string) (models.Ride, error) {
	r, err := s.Ride(ctx, rideID)
	if err != nil {
		return models.Ride{}, err
	}
	next, err := models.CompleteRide(r)
	if err != nil {
		return r, err
	}
	err = lock.Do(ctx, s.Locks, lock.DriverKey(r.DriverID), s.lockTTL(), freeAttempts, freeBackoff, func(ctx context.Context) error {
		d, err := s.Drivers.DriverByID(ctx, r.DriverID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrDriverNotFound
		}
		if err != nil {
			return fmt.Errorf("load driver %s: %w", r.DriverID, err)
		}
		if d.Status != models.DriverBusy || d.CurrentRideID != r.ID {
			return models.ErrDriverNotOnRide
		}
		free, err := models.CompleteDriverRide(d)
		if err != nil {
			return err
		}
		if err := s.Rides.SaveRide(ctx, next); err != nil {
			return fmt.Errorf("save ride %s: %w", rideID, err)
		}
		if err := s.Drivers.SaveDriver(ctx, free); err != nil {
			// the ride is closed; surface the stuck driver to operators
			observability.DriverFreeFailures.Inc()
			s.log().ErrorContext(ctx, "driver not freed", "ride_id", r.ID, "driver_id", r.DriverID, "error", err)
		}
		return nil
	})
	if err != nil {
		return r, err
	}
	s.log().InfoContext(ctx, "ride transition", "ride_id", rideID, "from", r.Status, "to", next.Status)
	return next, nil
}

// CancelRide closes the ride from any open state. A driver already assigned
// is freed if it is still on this ride.
func (s *Service) CancelRide(ctx context.Context, rideID string) (models.Ride, error) {
	r, err := s.transition(ctx, rideID, models.CancelRide)
	if err != nil {
		return r, err
	}
	if r.DriverID != "" {
		s.freeDriver(ctx, r)
	}
	return r, nil
}

func (s *Service) transition(ctx context.Context, rideID string, fn func(models.Ride) (models.Ride, error)) (models.Ride, error) {
	r, err := s.Ride(ctx, rideID)
	if err != nil {
		return models.Ride{}, err
	}
	next, err := fn(r)
	if err != nil {
		return r, err
	}
	if err := s.Rides.SaveRide(ctx, next); err != nil {
		return r, fmt.Errorf("save ride %s: %w", rideID, err)
	}
	s.log().InfoContext(ctx, "ride transition", "ride_id", rideID, "from", r.Status, "to", next.Status)
	return next, nil
}

// freeDriver never fails the caller. The cancelled ride is already saved;
// a driver left busy is logged and counted for operators.
func (s *Service) freeDriver(ctx context.Context, r models.Ride) {
	if err := s.releaseDriver(ctx, r); err != nil {
		observability.DriverFreeFailures.Inc()
		s.log().ErrorContext(ctx, "driver not freed", "ride_id", r.ID, "driver_id", r.DriverID, "error", err)
	}
}

func (s *Service) releaseDriver(ctx context.Context, r models.Ride) error {
	return lock.Do(ctx, s.Locks, lock.DriverKey(r.DriverID), s.lockTTL(), freeAttempts, freeBackoff, func(ctx context.Context) error {
		d, err := s.Drivers.DriverByID(ctx, r.DriverID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrDriverNotFound
		}
		if err != nil {
			return err
		}
		// already moved on; do not clobber a newer assignment
		if d.Status != models.DriverBusy || d.CurrentRideID != r.ID {
			return nil
		}
		free, err := models.CompleteDriverRide(d)
		if err != nil {
			return err
		}
		return s.Drivers.SaveDriver(ctx, free)
	})
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 5 * time.Second
	}
	return s.LockTTL
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return logging.Discard()
	}
	return s.Logger
}
