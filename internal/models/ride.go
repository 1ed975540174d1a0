package models

import (
	"errors"

	"github.com/google/uuid"
)

type RideStatus string

const (
	RideRequested      RideStatus = "requested"
	RideDriverAssigned RideStatus = "driver_assigned"
	RideDriverEnRoute  RideStatus = "driver_en_route"
	RideInProgress     RideStatus = "in_progress"
	RideCompleted      RideStatus = "completed"
	RideCancelled      RideStatus = "cancelled"
)

var (
	ErrRideNotRequested  = errors.New("cannot assign driver to a ride that is not requested")
	ErrRideNotAssigned   = errors.New("cannot start pickup for a ride without an assigned driver")
	ErrRideNotEnRoute    = errors.New("cannot start a ride before the driver is en route")
	ErrRideNotInProgress = errors.New("cannot complete a ride that is not in progress")
	ErrRideAlreadyClosed = errors.New("ride already completed or cancelled")
	ErrEmptyDriverID     = errors.New("driver id is required")
)

// Ride is passed by value. DriverID is set on assignment and never cleared.
type Ride struct {
	ID       string     `json:"id"`
	RiderID  string     `json:"rider_id"`
	Pickup   Location   `json:"pickup"`
	Dropoff  Location   `json:"dropoff"`
	Status   RideStatus `json:"status"`
	DriverID string     `json:"driver_id,omitempty"`
}

// Terminal reports whether no further transition is defined.
func (s RideStatus) Terminal() bool {
	return s == RideCompleted || s == RideCancelled
}

// NewRide returns a requested ride with a fresh id.
func NewRide(riderID string, pickup, dropoff Location) Ride {
	return Ride{
		ID:      uuid.NewString(),
		RiderID: riderID,
		Pickup:  pickup,
		Dropoff: dropoff,
		Status:  RideRequested,
	}
}

// AssignDriver moves a requested ride to driver_assigned.
func AssignDriver(r Ride, driverID string) (Ride, error) {
	if driverID == "" {
		return r, ErrEmptyDriverID
	}
	if r.Status != RideRequested {
		return r, ErrRideNotRequested
	}
	r.Status = RideDriverAssigned
	r.DriverID = driverID
	return r, nil
}

// StartPickup moves an assigned ride to driver_en_route.
func StartPickup(r Ride) (Ride, error) {
	if r.Status != RideDriverAssigned || r.DriverID == "" {
		return r, ErrRideNotAssigned
	}
	r.Status = RideDriverEnRoute
	return r, nil
}

// StartRide moves an en-route ride to in_progress.
func StartRide(r Ride) (Ride, error) {
	if r.Status != RideDriverEnRoute {
		return r, ErrRideNotEnRoute
	}
	r.Status = RideInProgress
	return r, nil
}

// CompleteRide moves an in-progress ride to completed.
func CompleteRide(r Ride) (Ride, error) {
	if r.Status != RideInProgress {
		return r, ErrRideNotInProgress
	}
	r.Status = RideCompleted
	return r, nil
}

// CancelRide leaves DriverID in place; freeing the driver is the caller's job.
func CancelRide(r Ride) (Ride, error) {
	if r.Status.Terminal() {
		return r, ErrRideAlreadyClosed
	}
	r.Status = RideCancelled
	return r, nil
}
