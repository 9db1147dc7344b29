package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hookflow/hookflow/internal/models"
)

// Memory is an in-memory Storage used by tests. It mirrors the SQLite
// claim semantics: ClaimAttempt is atomic under the store mutex.
type Memory struct {
	mu       sync.Mutex
	orgs     map[string]models.Organization
	subs     map[string]models.Subscription
	attempts map[string]models.DeliveryAttempt
}

var _ Storage = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		orgs:     make(map[string]models.Organization),
		subs:     make(map[string]models.Subscription),
		attempts: make(map[string]models.DeliveryAttempt),
	}
}

func (m *Memory) Migrate(ctx context.Context) error { return nil }
func (m *Memory) Close() error                      { return nil }

// --- Organizations ---

func (m *Memory) CreateOrganization(ctx context.Context, org *models.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[org.ID] = *org
	return nil
}

func (m *Memory) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if org, ok := m.orgs[id]; ok {
		return &org, nil
	}
	return nil, nil
}

func (m *Memory) GetOrganizationByAPIKey(ctx context.Context, apiKey string) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, org := range m.orgs {
		if org.APIKey == apiKey {
			org := org
			return &org, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Organization, 0, len(m.orgs))
	for _, org := range m.orgs {
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteOrganization(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orgs, id)
	return nil
}

func (m *Memory) UpdateOrganizationAPIKey(ctx context.Context, id, newKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if org, ok := m.orgs[id]; ok {
		org.APIKey = newKey
		org.UpdatedAt = time.Now().UTC()
		m.orgs[id] = org
	}
	return nil
}

// --- Subscriptions ---

func (m *Memory) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = *sub
	return nil
}

func (m *Memory) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[id]; ok {
		return &sub, nil
	}
	return nil, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, orgID string) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscription
	for _, sub := range m.subs {
		if sub.OrgID == orgID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.subs[sub.ID]; ok {
		// Secret is immutable.
		sub.Secret = cur.Secret
		sub.UpdatedAt = time.Now().UTC()
		m.subs[sub.ID] = *sub
	}
	return nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}

func (m *Memory) ToggleSubscription(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[id]; ok {
		sub.Active = active
		sub.UpdatedAt = time.Now().UTC()
		m.subs[id] = sub
	}
	return nil
}

func (m *Memory) MatchSubscriptions(ctx context.Context, orgID, eventType string) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscription
	for _, sub := range m.subs {
		if sub.OrgID == orgID && sub.Matches(eventType) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *Memory) TouchSubscription(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[id]; ok {
		sub.LastTriggeredAt = &at
		m.subs[id] = sub
	}
	return nil
}

// --- Delivery attempts ---

func (m *Memory) CreateAttempt(ctx context.Context, a *models.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.ID] = *a
	return nil
}

func (m *Memory) GetAttempt(ctx context.Context, id string) (*models.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.attempts[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *Memory) UpdateAttempt(ctx context.Context, a *models.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.attempts[a.ID]; ok {
		a.CreatedAt = cur.CreatedAt
		m.attempts[a.ID] = *a
	}
	return nil
}

func (m *Memory) ListAttemptsBySubscription(ctx context.Context, subID string, limit, offset int) ([]models.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeliveryAttempt
	for _, a := range m.attempts {
		if a.SubscriptionID == subID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListDueAttempts(ctx context.Context, limit int, now time.Time, maxAttempts int) ([]models.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeliveryAttempt
	for _, a := range m.attempts {
		if due(a, now, maxAttempts) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ClaimAttempt(ctx context.Context, id string, now time.Time, maxAttempts int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok || !due(a, now, maxAttempts) {
		return false, nil
	}
	a.NextRetryAt = nil
	m.attempts[id] = a
	return true, nil
}

func due(a models.DeliveryAttempt, now time.Time, maxAttempts int) bool {
	if a.Status != models.AttemptPending && a.Status != models.AttemptFailed {
		return false
	}
	return a.NextRetryAt != nil && !a.NextRetryAt.After(now) && a.AttemptCount < maxAttempts
}

func (m *Memory) ListDeadLetters(ctx context.Context, orgID string, limit int) ([]models.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeliveryAttempt
	for _, a := range m.attempts {
		if a.Status != models.AttemptFailed || a.NextRetryAt != nil {
			continue
		}
		if sub, ok := m.subs[a.SubscriptionID]; !ok || sub.OrgID != orgID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Stats ---

func (m *Memory) GetStats(ctx context.Context, orgID string) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &Stats{}
	for _, sub := range m.subs {
		if sub.OrgID != orgID {
			continue
		}
		stats.TotalSubscriptions++
		if sub.Active {
			stats.ActiveSubscriptions++
		}
	}
	for _, a := range m.attempts {
		sub, ok := m.subs[a.SubscriptionID]
		if !ok || sub.OrgID != orgID {
			continue
		}
		stats.TotalAttempts++
		switch a.Status {
		case models.AttemptSuccess:
			stats.SuccessCount++
		case models.AttemptFailed:
			stats.FailedCount++
			if a.NextRetryAt == nil {
				stats.DeadLetterCount++
			}
		case models.AttemptPending:
			stats.PendingCount++
		}
	}
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalAttempts) * 100
	}
	return stats, nil
}
