package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/hookflow/hookflow/internal/config"
	"github.com/hookflow/hookflow/internal/storage"
)

// Sweeper periodically re-submits due, under-limit failed attempts through
// the dispatcher's send primitive. The attempt row itself is the queue
// entry: each candidate is claimed (next_retry_at cleared) before its send,
// so overlapping sweeps never double-send a row.
type Sweeper struct {
	store      storage.Storage
	dispatcher *Dispatcher
	interval   time.Duration
	batch      int
	workers    int
	log        zerolog.Logger
	stop       chan struct{}
	wg         sync.WaitGroup
}

func NewSweeper(cfg config.DeliveryConfig, store storage.Storage, dispatcher *Dispatcher, log zerolog.Logger) *Sweeper {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	batch := cfg.SweepBatch
	if batch <= 0 {
		batch = 100
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 10
	}
	return &Sweeper{
		store:      store,
		dispatcher: dispatcher,
		interval:   interval,
		batch:      batch,
		workers:    workers,
		log:        log,
		stop:       make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Int("batch", s.batch).Msg("starting retry sweeper")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.log.Error().Err(err).Msg("sweep failed")
				}
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.log.Info().Msg("retry sweeper stopped")
}

// Sweep claims and re-sends up to the batch limit of due attempts,
// returning how many sends it performed. Safe to call concurrently with
// itself and with live dispatches.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	due, err := s.store.ListDueAttempts(ctx, s.batch, now, s.dispatcher.maxAttempts)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	var mu sync.Mutex
	sent := 0
	p := pool.New().WithMaxGoroutines(s.workers)
	for i := range due {
		a := due[i]
		p.Go(func() {
			sub, err := s.store.GetSubscription(ctx, a.SubscriptionID)
			if err != nil {
				s.log.Error().Err(err).Str("attempt_id", a.ID).Msg("failed to load subscription for retry")
				return
			}
			if sub == nil || !sub.Active {
				// Leave the row due; it becomes deliverable again if the
				// subscription is re-enabled.
				return
			}

			claimed, err := s.store.ClaimAttempt(ctx, a.ID, now, s.dispatcher.maxAttempts)
			if err != nil {
				s.log.Error().Err(err).Str("attempt_id", a.ID).Msg("failed to claim attempt")
				return
			}
			if !claimed {
				return
			}
			a.NextRetryAt = nil
			s.dispatcher.send(ctx, &a, sub)

			mu.Lock()
			sent++
			mu.Unlock()
		})
	}
	p.Wait()

	if sent > 0 {
		s.log.Info().Int("sent", sent).Int("due", len(due)).Msg("sweep completed")
	}
	return sent, nil
}
