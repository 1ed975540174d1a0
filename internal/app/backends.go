// Package app builds the storage, geo and lock backends shared by both
// binaries from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/lock"
	"github.com/example/ride-dispatch/internal/storage"
)

// Backends holds the stateful dependencies. Without REDIS_ADDR and PG_DSN
// everything falls back to in-process implementations, which only makes
// sense for a single server process.
type Backends struct {
	Rides   storage.RideStore
	Drivers storage.DriverStore
	Geo     geo.Geo
	Locks   lock.Locker
	ETA     eta.Estimator

	redis   *redis.Client
	pg      *storage.PostgresStore
	Durable bool
}

func NewBackends(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}

	if cfg.RedisAddr != "" {
		b.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			_ = b.redis.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		b.Geo = geo.NewRedisGeo(b.redis, cfg.RedisGeoKey)
		b.Locks = lock.NewRedisLocker(b.redis, "")
		logger.Info("using redis geo index and locks", "addr", cfg.RedisAddr)
	} else {
		b.Geo = geo.NewIndex()
		b.Locks = lock.NewMemory()
		logger.Warn("REDIS_ADDR not set; geo index and locks are process local")
	}

	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		b.pg = ps
		if cfg.RunMigrations {
			if err := storage.Migrate(ps.DB()); err != nil {
				_ = b.Close()
				return nil, err
			}
			logger.Info("migrations applied")
		}
		b.Rides, b.Drivers = ps, ps
	} else {
		ms := storage.NewMemoryStore()
		b.Rides, b.Drivers = ms, ms
		logger.Warn("PG_DSN not set; rides and drivers are kept in memory")
	}

	naive := eta.Naive{SpeedMps: cfg.DefaultSpeedMps}
	if cfg.OSRMEndpoint != "" {
		b.ETA = &eta.Routed{Client: eta.NewOSRMClient(cfg.OSRMEndpoint), Cache: eta.NewCache(cfg.ETACacheTTL), Fallback: naive}
	} else {
		b.ETA = naive
	}

	b.Durable = b.redis != nil && b.pg != nil
	return b, nil
}

// Ready pings whichever remote backends are configured.
func (b *Backends) Ready(ctx context.Context) error {
	if b.redis != nil {
		if err := b.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if b.pg != nil {
		if err := b.pg.DB().PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

func (b *Backends) Close() error {
	var errs []error
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.pg != nil {
		errs = append(errs, b.pg.Close())
	}
	return errors.Join(errs...)
}
