package dispatch

import (
	"errors"
	"fmt"
)

// ErrQueueFull is returned by Queue.Submit when the dispatch buffer is at
// capacity; the caller decides whether to drop or retry the submission.
var ErrQueueFull = errors.New("dispatch queue is full")

// ErrQueueStopped is returned by Queue.Submit after shutdown began.
var ErrQueueStopped = errors.New("dispatch queue is stopped")

// ErrSubscriptionNotFound is returned by TestDelivery for an unknown id.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// DispatchError reports that a dispatch call failed before any delivery was
// attempted, e.g. the subscription store was unreachable. The event was not
// fanned out; the caller may retry the whole dispatch.
type DispatchError struct {
	OrgID     string
	EventType string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s for org %s: %v", e.EventType, e.OrgID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
