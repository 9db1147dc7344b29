package models

import (
	"encoding/json"
	"time"
)

type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
)

// DeliveryAttempt is the durable record of one event-delivery target. The
// payload is snapshotted at dispatch time so retries always send (and sign)
// the same bytes. A failed attempt with a non-nil NextRetryAt is retryable;
// once AttemptCount reaches the maximum, NextRetryAt is cleared and the row
// is terminal.
type DeliveryAttempt struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         AttemptStatus   `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	ResponseCode   *int            `json:"response_code,omitempty"`
	ResponseBody   string          `json:"response_body,omitempty"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the attempt will never be sent again.
func (a *DeliveryAttempt) Terminal() bool {
	return a.Status == AttemptSuccess || (a.Status == AttemptFailed && a.NextRetryAt == nil)
}
