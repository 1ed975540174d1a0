package models

import (
	"errors"
	"testing"
)

func TestNewDriverIsAvailable(t *testing.T) {
	a := NewDriver("Jane", Location{Lat: 1, Lon: 2})
	b := NewDriver("Jane", Location{Lat: 1, Lon: 2})
	if a.Status != DriverAvailable {
		t.Fatalf("expected available, got %s", a.Status)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected unique non-empty ids, got %q and %q", a.ID, b.ID)
	}
	if a.CurrentRideID != "" {
		t.Fatalf("new driver must not have a ride")
	}
}

func TestDriverTransitions(t *testing.T) {
	available := Driver{ID: "d1", Status: DriverAvailable}
	offline := Driver{ID: "d1", Status: DriverOffline}
	busy := Driver{ID: "d1", Status: DriverBusy, CurrentRideID: "r1"}

	cases := []struct {
		name       string
		apply      func() (Driver, error)
		wantErr    error
		wantStatus DriverStatus
	}{
		{"offline from available", func() (Driver, error) { return GoOffline(available) }, nil, DriverOffline},
		{"offline from offline", func() (Driver, error) { return GoOffline(offline) }, nil, DriverOffline},
		{"offline while busy", func() (Driver, error) { return GoOffline(busy) }, ErrDriverOnRide, DriverBusy},
		{"online from offline", func() (Driver, error) { return GoOnline(offline) }, nil, DriverAvailable},
		{"online from available", func() (Driver, error) { return GoOnline(available) }, nil, DriverAvailable},
		{"online while busy", func() (Driver, error) { return GoOnline(busy) }, ErrDriverBusyOnline, DriverBusy},
		{"assign available", func() (Driver, error) { return AssignToRide(available, "r2") }, nil, DriverBusy},
		{"assign offline", func() (Driver, error) { return AssignToRide(offline, "r2") }, ErrDriverNotAvailable, DriverOffline},
		{"assign busy", func() (Driver, error) { return AssignToRide(busy, "r2") }, ErrDriverNotAvailable, DriverBusy},
		{"assign empty ride", func() (Driver, error) { return AssignToRide(available, "") }, ErrEmptyRideID, DriverAvailable},
		{"complete busy", func() (Driver, error) { return CompleteDriverRide(busy) }, nil, DriverAvailable},
		{"complete available", func() (Driver, error) { return CompleteDriverRide(available) }, ErrDriverNotOnRide, DriverAvailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.apply()
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if got.Status != tc.wantStatus {
				t.Fatalf("status = %s, want %s", got.Status, tc.wantStatus)
			}
			if (got.Status == DriverBusy) != (got.CurrentRideID != "") {
				t.Fatalf("current ride invariant broken: %+v", got)
			}
		})
	}
}

func TestAssignToRideSetsCurrentRide(t *testing.T) {
	d, err := AssignToRide(Driver{ID: "d1", Status: DriverAvailable}, "r9")
	if err != nil {
		t.Fatal(err)
	}
	if d.CurrentRideID != "r9" {
		t.Fatalf("expected current ride r9, got %q", d.CurrentRideID)
	}
}

func TestTransitionsDoNotMutateInput(t *testing.T) {
	orig := Driver{ID: "d1", Status: DriverAvailable}
	if _, err := AssignToRide(orig, "r1"); err != nil {
		t.Fatal(err)
	}
	if orig.Status != DriverAvailable || orig.CurrentRideID != "" {
		t.Fatalf("input driver mutated: %+v", orig)
	}
}

func TestUpdateLocation(t *testing.T) {
	d := Driver{ID: "d1", Status: DriverBusy, CurrentRideID: "r1"}
	loc := Location{Lat: 10, Lon: 20}
	got := UpdateLocation(d, loc)
	if got.Location != loc || got.Status != DriverBusy {
		t.Fatalf("unexpected driver after update: %+v", got)
	}
}
