package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/mmcloughlin/geohash"

	"github.com/example/ride-dispatch/internal/models"
)

const driverGeohashPrecision = 6

// PostgresStore implements RideStore and DriverStore on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) SaveRide(ctx context.Context, r models.Ride) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rides (id, rider_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, status, driver_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			rider_id = EXCLUDED.rider_id,
			pickup_lat = EXCLUDED.pickup_lat,
			pickup_lon = EXCLUDED.pickup_lon,
			dropoff_lat = EXCLUDED.dropoff_lat,
			dropoff_lon = EXCLUDED.dropoff_lon,
			status = EXCLUDED.status,
			driver_id = EXCLUDED.driver_id,
			updated_at = NOW()`,
		r.ID, r.RiderID, r.Pickup.Lat, r.Pickup.Lon, r.Dropoff.Lat, r.Dropoff.Lon, string(r.Status), nullString(r.DriverID))
	if err != nil {
		return fmt.Errorf("save ride %s: %w", r.ID, err)
	}
	return nil
}

const rideColumns = `id, rider_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, status, driver_id`

func (p *PostgresStore) RideByID(ctx context.Context, id string) (models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ride{}, ErrNotFound
	}
	if err != nil {
		return models.Ride{}, fmt.Errorf("load ride %s: %w", id, err)
	}
	return r, nil
}

func (p *PostgresStore) RidesByRider(ctx context.Context, riderID string) ([]models.Ride, error) {
	return p.queryRides(ctx, `SELECT `+rideColumns+` FROM rides WHERE rider_id = $1 ORDER BY id`, riderID)
}

func (p *PostgresStore) RidesByStatus(ctx context.Context, status models.RideStatus) ([]models.Ride, error) {
	return p.queryRides(ctx, `SELECT `+rideColumns+` FROM rides WHERE status = $1 ORDER BY id`, string(status))
}

func (p *PostgresStore) queryRides(ctx context.Context, query string, arg any) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query rides: %w", err)
	}
	defer rows.Close()
	out := []models.Ride{}
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveDriver(ctx context.Context, d models.Driver) error {
	hash := geohash.EncodeWithPrecision(d.Location.Lat, d.Location.Lon, driverGeohashPrecision)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO drivers (id, name, lat, lon, geohash, status, current_ride_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			geohash = EXCLUDED.geohash,
			status = EXCLUDED.status,
			current_ride_id = EXCLUDED.current_ride_id,
			updated_at = NOW()`,
		d.ID, d.Name, d.Location.Lat, d.Location.Lon, hash, string(d.Status), nullString(d.CurrentRideID))
	if err != nil {
		return fmt.Errorf("save driver %s: %w", d.ID, err)
	}
	return nil
}

const driverColumns = `id, name, lat, lon, status, current_ride_id`

func (p *PostgresStore) DriverByID(ctx context.Context, id string) (models.Driver, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id)
	d, err := scanDriver(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, ErrNotFound
	}
	if err != nil {
		return models.Driver{}, fmt.Errorf("load driver %s: %w", id, err)
	}
	return d, nil
}

func (p *PostgresStore) DriversByStatus(ctx context.Context, status models.DriverStatus) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE status = $1 ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query drivers: %w", err)
	}
	defer rows.Close()
	out := []models.Driver{}
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("scan driver: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (models.Ride, error) {
	var r models.Ride
	var status string
	var driverID sql.NullString
	err := s.Scan(&r.ID, &r.RiderID, &r.Pickup.Lat, &r.Pickup.Lon, &r.Dropoff.Lat, &r.Dropoff.Lon, &status, &driverID)
	if err != nil {
		return models.Ride{}, err
	}
	r.Status = models.RideStatus(status)
	r.DriverID = driverID.String
	return r, nil
}

func scanDriver(s scanner) (models.Driver, error) {
	var d models.Driver
	var status string
	var rideID sql.NullString
	err := s.Scan(&d.ID, &d.Name, &d.Location.Lat, &d.Location.Lon, &status, &rideID)
	if err != nil {
		return models.Driver{}, err
	}
	d.Status = models.DriverStatus(status)
	d.CurrentRideID = rideID.String
	return d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
