package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/hookflow/hookflow/internal/config"
	"github.com/hookflow/hookflow/internal/metrics"
	"github.com/hookflow/hookflow/internal/models"
	"github.com/hookflow/hookflow/internal/signing"
	"github.com/hookflow/hookflow/internal/storage"
)

// Dispatcher fans an event out to every matching subscription: one pending
// DeliveryAttempt row per match, sent concurrently through the shared send
// primitive. The sweeper reuses the same primitive for retries.
type Dispatcher struct {
	store         storage.Storage
	sender        *Sender
	maxAttempts   int
	retrySchedule []time.Duration
	maxParallel   int
	log           zerolog.Logger
}

func NewDispatcher(cfg config.DeliveryConfig, store storage.Storage, log zerolog.Logger) *Dispatcher {
	schedule := cfg.RetrySchedule
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	maxParallel := cfg.Workers
	if maxParallel <= 0 {
		maxParallel = 10
	}
	return &Dispatcher{
		store:         store,
		sender:        NewSender(cfg.Timeout),
		maxAttempts:   maxAttempts,
		retrySchedule: schedule,
		maxParallel:   maxParallel,
		log:           log,
	}
}

// eventPayload builds the canonical body delivered to subscribers. It is
// snapshotted onto the attempt row at dispatch time; retries reuse the
// stored bytes so the signature never drifts.
func eventPayload(eventType string, data any, at time.Time) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	return signing.CanonicalJSON(map[string]any{
		"event":     eventType,
		"timestamp": at.UTC().Format(time.RFC3339),
		"data":      data,
	})
}

// Dispatch matches active subscriptions for the org and event type, creates
// one pending attempt per match, and sends them concurrently. A store
// failure before fan-out is returned as a *DispatchError; zero matches is
// not an error. The call returns once every first send has completed, so
// event sources should invoke it through the Queue.
func (d *Dispatcher) Dispatch(ctx context.Context, orgID, eventType string, data any) error {
	subs, err := d.store.MatchSubscriptions(ctx, orgID, eventType)
	if err != nil {
		return &DispatchError{OrgID: orgID, EventType: eventType, Err: err}
	}
	if len(subs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	body, err := eventPayload(eventType, data, now)
	if err != nil {
		return &DispatchError{OrgID: orgID, EventType: eventType, Err: err}
	}

	attempts := make([]*models.DeliveryAttempt, 0, len(subs))
	for i := range subs {
		due := now
		a := &models.DeliveryAttempt{
			ID:             models.NewID("att"),
			SubscriptionID: subs[i].ID,
			EventType:      eventType,
			Payload:        body,
			Status:         models.AttemptPending,
			NextRetryAt:    &due,
			CreatedAt:      now,
		}
		if err := d.store.CreateAttempt(ctx, a); err != nil {
			// Rows already created stay due; the sweeper picks them up.
			return &DispatchError{OrgID: orgID, EventType: eventType, Err: err}
		}
		attempts = append(attempts, a)
	}

	p := pool.New().WithMaxGoroutines(d.maxParallel)
	for i := range attempts {
		a, sub := attempts[i], subs[i]
		p.Go(func() {
			d.Deliver(ctx, a, &sub)
		})
	}
	p.Wait()
	return nil
}

// Deliver claims the attempt row and, if the claim wins, performs the send.
// A lost claim means a concurrent sweeper already owns the row.
func (d *Dispatcher) Deliver(ctx context.Context, a *models.DeliveryAttempt, sub *models.Subscription) {
	claimed, err := d.store.ClaimAttempt(ctx, a.ID, time.Now().UTC(), d.maxAttempts)
	if err != nil {
		d.log.Error().Err(err).Str("attempt_id", a.ID).Msg("failed to claim attempt")
		return
	}
	if !claimed {
		return
	}
	a.NextRetryAt = nil
	d.send(ctx, a, sub)
}

// send issues the POST and records the outcome. The caller must hold the
// claim on the attempt row.
func (d *Dispatcher) send(ctx context.Context, a *models.DeliveryAttempt, sub *models.Subscription) *SendResult {
	result := d.sender.Send(ctx, sub.URL, sub.Secret, a.EventType, a.ID, a.Payload)

	now := time.Now().UTC()
	countBefore := a.AttemptCount
	a.AttemptCount++
	a.NextRetryAt = nil
	a.CompletedAt = nil

	outcome := "failed"
	if result.Delivered() {
		outcome = "success"
		a.Status = models.AttemptSuccess
		code := result.StatusCode
		a.ResponseCode = &code
		a.ResponseBody = result.ResponseBody
		a.CompletedAt = &now

		if err := d.store.TouchSubscription(ctx, sub.ID, now); err != nil {
			d.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("failed to update last_triggered_at")
		}
		d.log.Info().
			Str("attempt_id", a.ID).
			Str("event_type", a.EventType).
			Int("status_code", result.StatusCode).
			Int64("latency_ms", result.LatencyMs).
			Msg("delivery succeeded")
	} else {
		a.Status = models.AttemptFailed
		if result.Error != "" {
			a.ResponseCode = nil
			a.ResponseBody = result.Error
		} else {
			code := result.StatusCode
			a.ResponseCode = &code
			a.ResponseBody = result.ResponseBody
		}
		a.NextRetryAt = NextRetryTime(countBefore, d.retrySchedule, d.maxAttempts, now)
		if a.NextRetryAt == nil {
			a.CompletedAt = &now
			metrics.DeadLetters.WithLabelValues(a.EventType).Inc()
			d.log.Warn().
				Str("attempt_id", a.ID).
				Str("subscription_id", sub.ID).
				Int("attempts", a.AttemptCount).
				Str("error", result.Error).
				Msg("delivery dead-lettered after exhausting retries")
		} else {
			d.log.Info().
				Str("attempt_id", a.ID).
				Int("attempt", a.AttemptCount).
				Time("next_retry", *a.NextRetryAt).
				Msg("delivery scheduled for retry")
		}
	}

	metrics.Deliveries.WithLabelValues(a.EventType, outcome).Inc()
	metrics.DeliveryLatency.WithLabelValues(a.EventType, outcome).Observe(float64(result.LatencyMs))

	if err := d.store.UpdateAttempt(ctx, a); err != nil {
		d.log.Error().Err(err).Str("attempt_id", a.ID).Msg("failed to record attempt outcome")
	}
	return result
}

// TestResult is the synchronous outcome of a manual test delivery.
type TestResult struct {
	Success             bool   `json:"success"`
	StatusCode          int    `json:"status_code,omitempty"`
	ResponseBodyExcerpt string `json:"response_body_excerpt,omitempty"`
	Error               string `json:"error,omitempty"`
}

// TestDelivery sends a synthetic test.webhook event through the same signing
// and HTTP path as a real delivery, but persists no attempt row: a failed
// test is never retried.
func (d *Dispatcher) TestDelivery(ctx context.Context, subscriptionID string) (*TestResult, error) {
	sub, err := d.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}

	now := time.Now().UTC()
	body, err := eventPayload(models.EventTestWebhook, map[string]any{"subscription_id": sub.ID}, now)
	if err != nil {
		return nil, err
	}

	result := d.sender.Send(ctx, sub.URL, sub.Secret, models.EventTestWebhook, models.NewID("att"), body)
	if result.Error != "" {
		return &TestResult{Success: false, Error: result.Error}, nil
	}
	return &TestResult{
		Success:             result.Delivered(),
		StatusCode:          result.StatusCode,
		ResponseBodyExcerpt: result.ResponseBody,
	}, nil
}
