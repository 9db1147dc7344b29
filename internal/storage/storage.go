package storage

import (
	"context"
	"time"

	"github.com/hookflow/hookflow/internal/models"
)

// Storage is the persistence boundary for the dispatch core and the API.
// Lookups return (nil, nil) when the row does not exist.
type Storage interface {
	// Organizations
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	GetOrganizationByAPIKey(ctx context.Context, apiKey string) (*models.Organization, error)
	ListOrganizations(ctx context.Context) ([]models.Organization, error)
	DeleteOrganization(ctx context.Context, id string) error
	UpdateOrganizationAPIKey(ctx context.Context, id, newKey string) error

	// Subscriptions
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, orgID string) ([]models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	ToggleSubscription(ctx context.Context, id string, active bool) error
	// MatchSubscriptions returns the org's active subscriptions whose event
	// set contains eventType. No ordering guarantee.
	MatchSubscriptions(ctx context.Context, orgID, eventType string) ([]models.Subscription, error)
	// TouchSubscription records the last successful delivery time.
	// Last-writer-wins; lost updates are tolerated.
	TouchSubscription(ctx context.Context, id string, at time.Time) error

	// Delivery attempts
	CreateAttempt(ctx context.Context, a *models.DeliveryAttempt) error
	GetAttempt(ctx context.Context, id string) (*models.DeliveryAttempt, error)
	UpdateAttempt(ctx context.Context, a *models.DeliveryAttempt) error
	ListAttemptsBySubscription(ctx context.Context, subID string, limit, offset int) ([]models.DeliveryAttempt, error)
	// ListDueAttempts returns candidate rows: pending or retryable-failed
	// with next_retry_at <= now and attempt_count below max.
	ListDueAttempts(ctx context.Context, limit int, now time.Time, maxAttempts int) ([]models.DeliveryAttempt, error)
	// ClaimAttempt atomically takes ownership of a due row by clearing
	// next_retry_at, removing it from the due window. Returns false if the
	// row was already claimed, completed, or out of retry budget.
	ClaimAttempt(ctx context.Context, id string, now time.Time, maxAttempts int) (bool, error)
	// ListDeadLetters returns terminally failed attempts for an org.
	ListDeadLetters(ctx context.Context, orgID string, limit int) ([]models.DeliveryAttempt, error)

	// Stats
	GetStats(ctx context.Context, orgID string) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	TotalAttempts       int64   `json:"total_attempts"`
	SuccessCount        int64   `json:"success_count"`
	FailedCount         int64   `json:"failed_count"`
	PendingCount        int64   `json:"pending_count"`
	DeadLetterCount     int64   `json:"dead_letter_count"`
	SuccessRate         float64 `json:"success_rate"`
	TotalSubscriptions  int64   `json:"total_subscriptions"`
	ActiveSubscriptions int64   `json:"active_subscriptions"`
}
