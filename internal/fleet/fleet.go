// Package fleet manages driver availability and position. Every write to a
// driver record claims the same per-driver lock the matcher uses, so a driver
// cannot go offline halfway through being matched.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/lock"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

var (
	ErrDriverNotFound = errors.New("driver not found")
	ErrInvalidDriver  = errors.New("driver name is required")
)

const (
	lockAttempts = 3
	lockBackoff  = 50 * time.Millisecond
)

type Service struct {
	Drivers storage.DriverStore
	Geo     geo.Geo
	Locks   lock.Locker
	Logger  *slog.Logger
	LockTTL time.Duration
}

// Register creates an available driver and indexes its position.
func (s *Service) Register(ctx context.Context, name string, loc models.Location) (models.Driver, error) {
	if name == "" {
		return models.Driver{}, ErrInvalidDriver
	}
	if err := loc.Validate(); err != nil {
		return models.Driver{}, err
	}
	d := models.NewDriver(name, loc)
	if err := s.Drivers.SaveDriver(ctx, d); err != nil {
		return models.Driver{}, err
	}
	if err := s.Geo.UpdateDriverLocation(ctx, d.ID, d.Location); err != nil {
		return models.Driver{}, fmt.Errorf("index driver %s: %w", d.ID, err)
	}
	observability.DriversOnline.Inc()
	s.log().InfoContext(ctx, "driver registered", "driver_id", d.ID)
	return d, nil
}

func (s *Service) Driver(ctx context.Context, id string) (models.Driver, error) {
	d, err := s.Drivers.DriverByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Driver{}, ErrDriverNotFound
	}
	return d, err
}

func (s *Service) GoOnline(ctx context.Context, id string) (models.Driver, error) {
	return s.mutate(ctx, id, models.GoOnline, func(ctx context.Context, prev, next models.Driver) error {
		if err := s.Geo.UpdateDriverLocation(ctx, next.ID, next.Location); err != nil {
			return fmt.Errorf("index driver %s: %w", next.ID, err)
		}
		if prev.Status == models.DriverOffline {
			observability.DriversOnline.Inc()
		}
		return nil
	})
}

func (s *Service) GoOffline(ctx context.Context, id string) (models.Driver, error) {
	return s.mutate(ctx, id, models.GoOffline, func(ctx context.Context, prev, next models.Driver) error {
		if err := s.Geo.RemoveDriver(ctx, next.ID); err != nil {
			return fmt.Errorf("unindex driver %s: %w", next.ID, err)
		}
		if prev.Status != models.DriverOffline {
			observability.DriversOnline.Dec()
		}
		return nil
	})
}

// UpdateLocation records a new position. Offline drivers are stored but
// kept out of the geo index.
func (s *Service) UpdateLocation(ctx context.Context, id string, loc models.Location) (models.Driver, error) {
	if err := loc.Validate(); err != nil {
		return models.Driver{}, err
	}
	move := func(d models.Driver) (models.Driver, error) { return models.UpdateLocation(d, loc), nil }
	return s.mutate(ctx, id, move, func(ctx context.Context, _, next models.Driver) error {
		if next.Status == models.DriverOffline {
			return nil
		}
		if err := s.Geo.UpdateDriverLocation(ctx, next.ID, next.Location); err != nil {
			return fmt.Errorf("index driver %s: %w", next.ID, err)
		}
		return nil
	})
}

// mutate is load, transition, save, then reindex, all under the driver's
// lock. The index only follows a record that was actually stored.
func (s *Service) mutate(
	ctx context.Context,
	id string,
	transition func(models.Driver) (models.Driver, error),
	reindex func(ctx context.Context, prev, next models.Driver) error,
) (models.Driver, error) {
	var out models.Driver
	err := lock.Do(ctx, s.Locks, lock.DriverKey(id), s.lockTTL(), lockAttempts, lockBackoff, func(ctx context.Context) error {
		d, err := s.Drivers.DriverByID(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrDriverNotFound
		}
		if err != nil {
			return err
		}
		next, err := transition(d)
		if err != nil {
			return err
		}
		if err := s.Drivers.SaveDriver(ctx, next); err != nil {
			return fmt.Errorf("save driver %s: %w", id, err)
		}
		if err := reindex(ctx, d, next); err != nil {
			s.log().ErrorContext(ctx, "geo index out of step with store", "driver_id", id, "status", next.Status, "error", err)
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return models.Driver{}, err
	}
	return out, nil
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
