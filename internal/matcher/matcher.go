// Package matcher assigns the nearest available driver to a requested ride.
//
// Many matches may run at once across processes. The only coordination is a
// short-lived lock per driver: a match claims a candidate, re-reads it, and
// commits both records before releasing the claim. Candidates whose lock is
// held are skipped rather than waited on.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/lock"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

const (
	DefaultRadiusKm = 5.0
	DefaultLockTTL  = 5 * time.Second
)

var (
	ErrRideNotFound     = errors.New("ride not found")
	ErrRideNotRequested = errors.New("ride is not in requested status")
	ErrNoDriversNearby  = errors.New("no available drivers found nearby")
)

type Service struct {
	Rides   storage.RideStore
	Drivers storage.DriverStore
	Geo     geo.Geo
	Locks   lock.Locker

	// Notifier and ETA are optional.
	Notifier dispatch.Notifier
	ETA      eta.Estimator
	Logger   *slog.Logger

	RadiusKm float64
	LockTTL  time.Duration
}

type match struct {
	ride   models.Ride
	driver models.Driver
	distKm float64
}

// MatchDriver assigns the nearest available driver to rideID and returns
// the driver's id. Business failures are ErrRideNotFound,
// ErrRideNotRequested and ErrNoDriversNearby; anything else is a fault.
func (s *Service) MatchDriver(ctx context.Context, rideID string) (string, error) {
	start := time.Now()
	m, err := s.match(ctx, rideID)
	observability.MatchLatency.Observe(time.Since(start).Seconds())
	observability.MatchAttempts.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return "", err
	}
	s.notify(ctx, m)
	return m.driver.ID, nil
}

func (s *Service) match(ctx context.Context, rideID string) (match, error) {
	log := s.log().With("ride_id", rideID)

	ride, err := s.Rides.RideByID(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		return match{}, ErrRideNotFound
	}
	if err != nil {
		log.ErrorContext(ctx, "load ride failed", "error", err)
		return match{}, fmt.Errorf("load ride: %w", err)
	}
	if ride.Status != models.RideRequested {
		return match{}, ErrRideNotRequested
	}

	cands, err := s.Geo.FindNearbyDrivers(ctx, ride.Pickup, s.radiusKm())
	if err != nil {
		log.ErrorContext(ctx, "nearby drivers query failed", "error", err)
		return match{}, fmt.Errorf("find nearby drivers: %w", err)
	}

	for _, c := range cands {
		m, ok, err := s.tryCandidate(ctx, ride, c)
		if err != nil {
			log.ErrorContext(ctx, "candidate failed", "driver_id", c.DriverID, "error", err)
			return match{}, err
		}
		if ok {
			log.InfoContext(ctx, "driver matched", "driver_id", c.DriverID, "distance_km", c.DistanceKm, "candidates", len(cands))
			return m, nil
		}
	}
	log.WarnContext(ctx, "no driver matched", "candidates", len(cands), "radius_km", s.radiusKm())
	return match{}, ErrNoDriversNearby
}

// tryCandidate claims one driver. ok=false with a nil error means skip to
// the next candidate. The claim is released on every path.
func (s *Service) tryCandidate(ctx context.Context, ride models.Ride, c models.NearbyDriver) (match, bool, error) {
	log := s.log().With("ride_id", ride.ID, "driver_id", c.DriverID)
	key := lock.DriverKey(c.DriverID)

	token, acquired, err := s.Locks.Acquire(ctx, key, s.lockTTL())
	if err != nil {
		return match{}, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !acquired {
		s.skip(ctx, log, observability.SkipLockHeld)
		return match{}, false, nil
	}
	defer s.release(ctx, key, token)

	driver, err := s.Drivers.DriverByID(ctx, c.DriverID)
	if errors.Is(err, storage.ErrNotFound) {
		s.skip(ctx, log, observability.SkipDriverMissing)
		return match{}, false, nil
	}
	if err != nil {
		return match{}, false, fmt.Errorf("load driver %s: %w", c.DriverID, err)
	}

	busy, err := models.AssignToRide(driver, ride.ID)
	if err != nil {
		s.skip(ctx, log, observability.SkipDriverUnavailable)
		return match{}, false, nil
	}
	assigned, err := models.AssignDriver(ride, driver.ID)
	if err != nil {
		s.skip(ctx, log, observability.SkipRideTaken)
		return match{}, false, nil
	}

	if err := s.Drivers.SaveDriver(ctx, busy); err != nil {
		return match{}, false, fmt.Errorf("save driver %s: %w", driver.ID, err)
	}
	if err := s.Rides.SaveRide(ctx, assigned); err != nil {
		// put the driver back so it is not stranded busy on an unassigned ride
		if rerr := s.Drivers.SaveDriver(ctx, driver); rerr != nil {
			log.ErrorContext(ctx, "driver rollback failed", "error", rerr)
		}
		return match{}, false, fmt.Errorf("save ride %s: %w", ride.ID, err)
	}
	return match{ride: assigned, driver: busy, distKm: c.DistanceKm}, true, nil
}

func (s *Service) release(ctx context.Context, key, token string) {
	if err := s.Locks.Release(context.WithoutCancel(ctx), key, token); err != nil {
		observability.ReleaseFailures.Inc()
		s.log().WarnContext(ctx, "lock release failed", "key", key, "error", err)
	}
}

func (s *Service) skip(ctx context.Context, log *slog.Logger, reason string) {
	observability.CandidateSkips.WithLabelValues(reason).Inc()
	log.DebugContext(ctx, "candidate skipped", "reason", reason)
}

func (s *Service) notify(ctx context.Context, m match) {
	if s.Notifier == nil {
		return
	}
	a := dispatch.Assignment{
		RideID:     m.ride.ID,
		DriverID:   m.driver.ID,
		Pickup:     m.ride.Pickup,
		Dropoff:    m.ride.Dropoff,
		DistanceKm: m.distKm,
	}
	if s.ETA != nil {
		if secs, err := s.ETA.EstimateSeconds(ctx, m.driver.Location, m.ride.Pickup); err == nil {
			a.ETASeconds = secs
		}
	}
	if err := s.Notifier.Notify(ctx, a); err != nil {
		observability.NotifyFailures.Inc()
		s.log().WarnContext(ctx, "assignment notify failed", "ride_id", a.RideID, "driver_id", a.DriverID, "error", err)
	}
}

func (s *Service) radiusKm() float64 {
	if s.RadiusKm <= 0 {
		return DefaultRadiusKm
	}
	return s.RadiusKm
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return DefaultLockTTL
	}
	return s.LockTTL
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return logging.Discard()
	}
	return s.Logger
}

func outcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeMatched
	case errors.Is(err, ErrRideNotFound):
		return observability.OutcomeRideNotFound
	case errors.Is(err, ErrRideNotRequested):
		return observability.OutcomeRideNotRequested
	case errors.Is(err, ErrNoDriversNearby):
		return observability.OutcomeNoDrivers
	default:
		return observability.OutcomeError
	}
}

// IsFinal reports whether err is a business outcome that retrying cannot
// change.
func IsFinal(err error) bool {
	return errors.Is(err, ErrRideNotFound) || errors.Is(err, ErrRideNotRequested) || errors.Is(err, ErrNoDriversNearby)
}
