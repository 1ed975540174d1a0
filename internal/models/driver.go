package models

import (
	"errors"

	"github.com/google/uuid"
)

type DriverStatus string

const (
	DriverAvailable DriverStatus = "available"
	DriverOffline   DriverStatus = "offline"
	DriverBusy      DriverStatus = "busy"
)

var (
	ErrDriverOnRide       = errors.New("cannot go offline while on a ride")
	ErrDriverBusyOnline   = errors.New("cannot go online while on a ride")
	ErrDriverNotAvailable = errors.New("driver not available")
	ErrDriverNotOnRide    = errors.New("driver not on a ride")
	ErrEmptyRideID        = errors.New("ride id is required")
)

// Driver is passed by value; every transition returns a new copy.
// CurrentRideID is non-empty iff Status is DriverBusy.
type Driver struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Location      Location     `json:"location"`
	Status        DriverStatus `json:"status"`
	CurrentRideID string       `json:"current_ride_id,omitempty"`
}

// NewDriver returns an available driver with a fresh id.
func NewDriver(name string, loc Location) Driver {
	return Driver{
		ID:       uuid.NewString(),
		Name:     name,
		Location: loc,
		Status:   DriverAvailable,
	}
}

// GoOffline takes a driver out of matching; busy drivers are refused.
func GoOffline(d Driver) (Driver, error) {
	if d.Status == DriverBusy {
		return d, ErrDriverOnRide
	}
	d.Status = DriverOffline
	return d, nil
}

// GoOnline is allowed from offline and available. A busy driver must finish
// the ride first; forcing it online would orphan CurrentRideID.
func GoOnline(d Driver) (Driver, error) {
	if d.Status == DriverBusy {
		return d, ErrDriverBusyOnline
	}
	d.Status = DriverAvailable
	return d, nil
}

// AssignToRide marks an available driver busy on rideID.
func AssignToRide(d Driver, rideID string) (Driver, error) {
	if rideID == "" {
		return d, ErrEmptyRideID
	}
	if d.Status != DriverAvailable {
		return d, ErrDriverNotAvailable
	}
	d.Status = DriverBusy
	d.CurrentRideID = rideID
	return d, nil
}

// CompleteDriverRide frees a busy driver and clears its ride.
func CompleteDriverRide(d Driver) (Driver, error) {
	if d.Status != DriverBusy {
		return d, ErrDriverNotOnRide
	}
	d.Status = DriverAvailable
	d.CurrentRideID = ""
	return d, nil
}

// UpdateLocation sets the position without touching status.
func UpdateLocation(d Driver, loc Location) Driver {
	d.Location = loc
	return d
}
