// Package ingest carries "match this ride" jobs from the request path to the
// matcher, either in process or through Kafka.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/observability"
)

var (
	ErrQueueClosed = errors.New("match queue closed")
	ErrInvalidJob  = errors.New("invalid match job")
)

type MatchJob struct {
	RideID      string    `json:"ride_id"`
	RequestedAt time.Time `json:"requested_at"`
}

type Queue interface {
	Enqueue(ctx context.Context, job MatchJob) error
}

// Handler processes one job. Returned errors are logged by the queue.
type Handler func(ctx context.Context, job MatchJob) error

// DecodeMatchJob parses a wire payload and rejects jobs without a ride id.
func DecodeMatchJob(b []byte) (MatchJob, error) {
	var j MatchJob
	if err := json.Unmarshal(b, &j); err != nil {
		return MatchJob{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if j.RideID == "" {
		return MatchJob{}, fmt.Errorf("%w: missing ride_id", ErrInvalidJob)
	}
	return j, nil
}

// LocalQueue is a bounded in-process queue drained by a fixed set of
// workers. Enqueue blocks while the buffer is full.
type LocalQueue struct {
	jobs    chan MatchJob
	handler Handler
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewLocalQueue starts workers immediately. Handlers run with ctx.
func NewLocalQueue(ctx context.Context, size, workers int, handler Handler, logger *slog.Logger) *LocalQueue {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	q := &LocalQueue{jobs: make(chan MatchJob, size), handler: handler, logger: logger}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
	return q
}

func (q *LocalQueue) Enqueue(ctx context.Context, job MatchJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		observability.QueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *LocalQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}

func (q *LocalQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for job := range q.jobs {
		observability.QueueDepth.Dec()
		if err := q.handler(ctx, job); err != nil && q.logger != nil {
			q.logger.WarnContext(ctx, "match job failed", "ride_id", job.RideID, "error", err)
		}
	}
}
