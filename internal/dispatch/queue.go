package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hookflow/hookflow/internal/metrics"
)

type job struct {
	orgID     string
	eventType string
	data      any
}

// Queue decouples event sources from delivery: Submit hands the event to a
// background worker and returns immediately, so sources are never blocked on
// subscriber HTTP responses. Dispatch failures are logged by the worker, not
// surfaced to the submitter; submission itself only fails when the buffer is
// full or the queue has stopped.
type Queue struct {
	dispatcher *Dispatcher
	jobs       chan job
	workers    int
	log        zerolog.Logger
	wg         sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewQueue(dispatcher *Dispatcher, size, workers int, log zerolog.Logger) *Queue {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 4
	}
	return &Queue{
		dispatcher: dispatcher,
		jobs:       make(chan job, size),
		workers:    workers,
		log:        log,
	}
}

func (q *Queue) Start(ctx context.Context) {
	q.log.Info().Int("workers", q.workers).Int("buffer", cap(q.jobs)).Msg("starting dispatch queue")
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for j := range q.jobs {
				metrics.QueueDepth.Dec()
				if err := q.dispatcher.Dispatch(ctx, j.orgID, j.eventType, j.data); err != nil {
					q.log.Error().Err(err).
						Str("org_id", j.orgID).
						Str("event_type", j.eventType).
						Msg("dispatch failed")
				}
			}
		}()
	}
}

// Stop drains buffered jobs, then waits for in-flight dispatches.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
	q.log.Info().Msg("dispatch queue stopped")
}

// Submit enqueues a dispatch without blocking.
func (q *Queue) Submit(orgID, eventType string, data any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueStopped
	}
	select {
	case q.jobs <- job{orgID: orgID, eventType: eventType, data: data}:
		metrics.QueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}
