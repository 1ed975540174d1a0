package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/app"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/observability"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	metricsAddr := cfg.MetricsAddr
	flag.StringVar(&metricsAddr, "metrics-addr", metricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.NewBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("backend setup failed", "error", err)
		os.Exit(1)
	}
	defer backends.Close()
	if !backends.Durable {
		logger.Warn("consumer running without redis and postgres; matches are not visible to the api")
	}

	var notifier dispatch.Notifier = dispatch.LogNotifier{Logger: logger}
	if cfg.WebhookURL != "" {
		notifier = dispatch.NewWebhook(cfg.WebhookURL)
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

	// metrics and health
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := backends.Ready(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: cfg.KafkaMatchTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaMatchTopic, "brokers", brokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		observability.JobsConsumed.Inc()

		job, err := ingest.DecodeMatchJob(msg.Value)
		if err != nil {
			observability.JobsInvalid.Inc()
			logger.Warn("invalid message", "offset", msg.Offset, "error", err)
			continue
		}

		if err := matchWithRetry(ctx, m, job, cfg.ConsumerRetries, 200*time.Millisecond); err != nil {
			observability.JobFailures.Inc()
			logger.Error("match job abandoned", "ride_id", job.RideID, "error", err)
		}
	}
}

// Matcher is the slice of matcher.Service the consumer needs.
type Matcher interface {
	MatchDriver(ctx context.Context, rideID string) (string, error)
}

// matchWithRetry runs one job. Business outcomes are final and return nil;
// faults are retried with doubling delay.
func matchWithRetry(ctx context.Context, m Matcher, job ingest.MatchJob, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		_, err = m.MatchDriver(ctx, job.RideID)
		if err == nil || matcher.IsFinal(err) {
			return nil
		}
		if i == attempts-1 {
			break
		}
		observability.JobRetries.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
