package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

// Match outcomes used as the "outcome" label.
const (
	OutcomeMatched          = "matched"
	OutcomeRideNotFound     = "ride_not_found"
	OutcomeRideNotRequested = "ride_not_requested"
	OutcomeNoDrivers        = "no_drivers"
	OutcomeError            = "error"
)

// Candidate skip reasons used as the "reason" label.
const (
	SkipLockHeld          = "lock_held"
	SkipDriverMissing     = "driver_missing"
	SkipDriverUnavailable = "driver_unavailable"
	SkipRideTaken         = "ride_taken"
)

var (
	MatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "match_attempts_total", Help: "Driver matching attempts by outcome"},
		[]string{"outcome"},
	)
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_latency_seconds",
		Help:      "Driver matching latency seconds",
		Buckets:   prometheus.DefBuckets,
	})
	CandidateSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "match_candidate_skips_total", Help: "Candidates passed over during matching"},
		[]string{"reason"},
	)
	ReleaseFailures    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "lock_release_failures_total", Help: "Driver lock releases that returned an error"})
	DriverFreeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "driver_free_failures_total",
		Help:      "Rides closed whose driver could not be made available again",
	})
	DriversOnline  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Number of online drivers"})
	RidesRequested = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_requested_total", Help: "Rides created by riders"})
	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "assignment_notify_failures_total", Help: "Assignments that could not be pushed to the driver"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "match_queue_depth", Help: "Match jobs waiting in the in-process queue"})

	JobsConsumed = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "consumer_jobs_consumed_total", Help: "Match jobs read from kafka"})
	JobsInvalid  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "consumer_jobs_invalid_total", Help: "Undecodable match jobs"})
	JobRetries   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "consumer_job_retries_total", Help: "Match job retries after a fault"})
	JobFailures  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "consumer_job_failures_total", Help: "Match jobs abandoned after exhausting retries"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route template"},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route template",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	HTTPPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_panics_total", Help: "Handler panics turned into 500s"},
		[]string{"route"},
	)
)
