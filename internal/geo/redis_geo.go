package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcloughlin/geohash"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

const geohashPrecision = 7

// RedisGeo implements Geo using Redis GEO commands so every dispatcher
// process sees the same driver positions.
type RedisGeo struct {
	client redis.UniversalClient
	key    string
}

func NewRedisGeo(client redis.UniversalClient, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) UpdateDriverLocation(ctx context.Context, driverID string, loc models.Location) error {
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Name: driverID, Longitude: loc.Lon, Latitude: loc.Lat})
		pipe.HSet(ctx, metaKey(driverID), map[string]interface{}{
			"geohash": geohash.EncodeWithPrecision(loc.Lat, loc.Lon, geohashPrecision),
			"updated": time.Now().UTC().Format(time.RFC3339),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("geo update driver %s: %w", driverID, err)
	}
	return nil
}

func (r *RedisGeo) RemoveDriver(ctx context.Context, driverID string) error {
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.key, driverID)
		pipe.Del(ctx, metaKey(driverID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("geo remove driver %s: %w", driverID, err)
	}
	return nil
}

func (r *RedisGeo) FindNearbyDrivers(ctx context.Context, loc models.Location, radiusKm float64) ([]models.NearbyDriver, error) {
	if radiusKm <= 0 {
		return nil, nil
	}
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  loc.Lon,
			Latitude:   loc.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}
	out := make([]models.NearbyDriver, 0, len(res))
	for _, g := range res {
		out = append(out, models.NearbyDriver{DriverID: g.Name, DistanceKm: g.Dist})
	}
	return out, nil
}

func metaKey(id string) string { return "driver:meta:" + id }
