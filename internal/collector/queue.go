package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrQueueFull is returned when the queue buffer is at capacity.
	ErrQueueFull = errors.New("processing queue full")
	// ErrQueueClosed is returned after Stop.
	ErrQueueClosed = errors.New("processing queue closed")
)

// Handler processes one captured feedback item.
type Handler func(ctx context.Context, feedbackID uuid.UUID) error

// Queue is a bounded worker pool for post-capture processing. Items that
// do not make it through (full queue, failed handler, shutdown) stay
// unprocessed in the database and are picked up by the reprocess sweep.
type Queue struct {
	jobs    chan uuid.UUID
	done    chan struct{}
	handler Handler
	logger  zerolog.Logger
	wg      sync.WaitGroup
	mu      sync.RWMutex
	workers int

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	closed    bool
	started   bool
}

// NewQueue creates a queue buffering up to size items for workers goroutines.
func NewQueue(size, workers int, handler Handler, logger zerolog.Logger) *Queue {
	if size <= 0 {
		size = 1000
	}
	if workers <= 0 {
		workers = 4
	}
	return &Queue{
		jobs:    make(chan uuid.UUID, size),
		done:    make(chan struct{}),
		handler: handler,
		workers: workers,
		logger:  logger.With().Str("component", "queue").Logger(),
	}
}

// Start launches the workers. Calling it twice has no effect.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.logger.Info().Int("workers", q.workers).Int("capacity", cap(q.jobs)).Msg("Processing queue started")
}

// Enqueue schedules feedbackID without blocking.
func (q *Queue) Enqueue(feedbackID uuid.UUID) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- feedbackID:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Stop refuses new items, lets workers drain what is buffered, and waits.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info().Msg("Processing queue stopped")
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			for {
				select {
				case id := <-q.jobs:
					q.run(ctx, id)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		case id := <-q.jobs:
			q.run(ctx, id)
		}
	}
}

func (q *Queue) run(ctx context.Context, id uuid.UUID) {
	if err := q.handler(ctx, id); err != nil {
		q.failed.Add(1)
		q.logger.Warn().Err(err).Str("feedback_id", id.String()).Msg("Feedback processing failed, left for sweep")
		return
	}
	q.processed.Add(1)
}

// QueueStats is a snapshot of queue activity.
type QueueStats struct {
	Depth     int   `json:"depth"`
	Capacity  int   `json:"capacity"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Stats returns the current queue counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Depth:     len(q.jobs),
		Capacity:  cap(q.jobs),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
	}
}
