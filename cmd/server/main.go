package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ride-dispatch/internal/app"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fleet"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.NewBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("backend setup failed", "error", err)
		os.Exit(1)
	}
	defer backends.Close()

	wsreg := dispatch.NewWSRegistry()
	var notifier dispatch.Notifier = wsreg
	if cfg.WebhookURL != "" {
		notifier = &dispatch.Push{WS: wsreg, Webhook: dispatch.NewWebhook(cfg.WebhookURL)}
	}

	m := &matcher.Service{
		Rides:    backends.Rides,
		Drivers:  backends.Drivers,
		Geo:      backends.Geo,
		Locks:    backends.Locks,
		Notifier: notifier,
		ETA:      backends.ETA,
		Logger:   logger,
		RadiusKm: cfg.MatchRadiusKm,
		LockTTL:  cfg.MatchLockTTL,
	}

	// Kafka hands matching to cmd/consumer; otherwise match in process.
	var queue ingest.Queue
	var closeQueue func() error
	if len(cfg.KafkaBrokers) > 0 {
		kq := ingest.NewKafkaQueue(cfg.KafkaBrokers, cfg.KafkaMatchTopic)
		queue, closeQueue = kq, kq.Close
		logger.Info("match jobs published to kafka", "topic", cfg.KafkaMatchTopic, "brokers", cfg.KafkaBrokers)
	} else {
		lq := ingest.NewLocalQueue(context.WithoutCancel(ctx), cfg.MatchQueueSize, cfg.MatchWorkers, func(ctx context.Context, job ingest.MatchJob) error {
			_, err := m.MatchDriver(ctx, job.RideID)
			if matcher.IsFinal(err) {
				return nil
			}
			return err
		}, logger)
		queue, closeQueue = lq, lq.Close
		logger.Info("match jobs handled in process", "workers", cfg.MatchWorkers)
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Matcher: m,
		Fleet: &fleet.Service{
			Drivers: backends.Drivers,
			Geo:     backends.Geo,
			Locks:   backends.Locks,
			Logger:  logger,
			LockTTL: cfg.MatchLockTTL,
		},
		Rides: &lifecycle.Service{
			Rides:   backends.Rides,
			Drivers: backends.Drivers,
			Locks:   backends.Locks,
			Logger:  logger,
			LockTTL: cfg.MatchLockTTL,
		},
		Requester: &lifecycle.Requester{Rides: backends.Rides, Queue: queue, Logger: logger},
		WSReg:     wsreg,
		Ready:     backends.Ready,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := closeQueue(); err != nil {
		logger.Error("queue close", "error", err)
	}
	logger.Info("ride-dispatch stopped")
}
