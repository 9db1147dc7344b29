package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/hookflow/hookflow/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "hookflow.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return store
}

func createOrg(t *testing.T, store *SQLiteStorage, name string) *models.Organization {
	t.Helper()
	now := time.Now().UTC()
	org := &models.Organization{
		ID:        models.NewID("org"),
		Name:      name,
		APIKey:    models.NewAPIKey(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateOrganization(context.Background(), org); err != nil {
		t.Fatal(err)
	}
	return org
}

func createSub(t *testing.T, store *SQLiteStorage, orgID string, active bool, eventTypes ...string) *models.Subscription {
	t.Helper()
	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:         models.NewID("sub"),
		OrgID:      orgID,
		URL:        "https://example.com/hooks",
		Secret:     models.NewSecret(),
		EventTypes: eventTypes,
		Active:     active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatal(err)
	}
	return sub
}

func createFailedAttempt(t *testing.T, store *SQLiteStorage, subID string, count int, nextRetryAt *time.Time) *models.DeliveryAttempt {
	t.Helper()
	now := time.Now().UTC()
	a := &models.DeliveryAttempt{
		ID:             models.NewID("att"),
		SubscriptionID: subID,
		EventType:      "task.completed",
		Payload:        json.RawMessage(`{"event":"task.completed","data":{}}`),
		Status:         models.AttemptFailed,
		AttemptCount:   count,
		NextRetryAt:    nextRetryAt,
		CreatedAt:      now,
	}
	if err := store.CreateAttempt(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestOrganizationLifecycle(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	org := createOrg(t, store, "acme")

	got, err := store.GetOrganization(ctx, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "acme" || got.APIKey != org.APIKey {
		t.Errorf("got %+v", got)
	}

	byKey, err := store.GetOrganizationByAPIKey(ctx, org.APIKey)
	if err != nil {
		t.Fatal(err)
	}
	if byKey == nil || byKey.ID != org.ID {
		t.Errorf("lookup by api key = %+v", byKey)
	}

	if missing, err := store.GetOrganization(ctx, "org_missing"); err != nil || missing != nil {
		t.Errorf("missing org: got %+v, err %v", missing, err)
	}

	newKey := models.NewAPIKey()
	if err := store.UpdateOrganizationAPIKey(ctx, org.ID, newKey); err != nil {
		t.Fatal(err)
	}
	if stale, _ := store.GetOrganizationByAPIKey(ctx, org.APIKey); stale != nil {
		t.Error("old api key still resolves after rotation")
	}
	if fresh, _ := store.GetOrganizationByAPIKey(ctx, newKey); fresh == nil {
		t.Error("rotated api key does not resolve")
	}

	if err := store.DeleteOrganization(ctx, org.ID); err != nil {
		t.Fatal(err)
	}
	if gone, _ := store.GetOrganization(ctx, org.ID); gone != nil {
		t.Error("organization still present after delete")
	}
}

func TestMatchSubscriptions(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	orgA := createOrg(t, store, "a")
	orgB := createOrg(t, store, "b")

	match := createSub(t, store, orgA.ID, true, "task.completed", "task.created")
	createSub(t, store, orgA.ID, true, "email.received")           // wrong event
	createSub(t, store, orgA.ID, false, "task.completed")          // inactive
	createSub(t, store, orgB.ID, true, "task.completed")           // other org

	subs, err := store.MatchSubscriptions(ctx, orgA.ID, "task.completed")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].ID != match.ID {
		t.Errorf("matched %d subscriptions, want only %s", len(subs), match.ID)
	}
}

func TestUpdateSubscriptionKeepsSecret(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	org := createOrg(t, store, "acme")
	sub := createSub(t, store, org.ID, true, "task.created")

	sub.URL = "https://example.com/v2/hooks"
	sub.EventTypes = []string{"task.created", "task.updated"}
	sub.Secret = "whsec_attacker_controlled"
	if err := store.UpdateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetSubscription(ctx, sub.ID)
	if got.URL != "https://example.com/v2/hooks" {
		t.Errorf("url = %s", got.URL)
	}
	if len(got.EventTypes) != 2 {
		t.Errorf("event_types = %v", got.EventTypes)
	}
	if got.Secret == "whsec_attacker_controlled" {
		t.Error("update must not overwrite the signing secret")
	}
}

func TestToggleAndTouchSubscription(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	org := createOrg(t, store, "acme")
	sub := createSub(t, store, org.ID, true, "task.created")

	if err := store.ToggleSubscription(ctx, sub.ID, false); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetSubscription(ctx, sub.ID)
	if got.Active {
		t.Error("subscription still active after toggle off")
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := store.TouchSubscription(ctx, sub.ID, at); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetSubscription(ctx, sub.ID)
	if got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(at) {
		t.Errorf("last_triggered_at = %v, want %v", got.LastTriggeredAt, at)
	}
}

func TestListDueAttempts(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	org := createOrg(t, store, "acme")
	sub := createSub(t, store, org.ID, true, "task.completed")

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := createFailedAttempt(t, store, sub.ID, 1, &past)
	createFailedAttempt(t, store, sub.ID, 1, &future) // not yet due
	createFailedAttempt(t, store, sub.ID, 3, &past)   // out of budget
	createFailedAttempt(t, store, sub.ID, 2, nil)     // dead letter

	got, err := store.ListDueAttempts(ctx, 10, now, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("due = %d rows, want only %s", len(got), due.ID)
	}
}

func TestClaimAttemptOnce(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	org := createOrg(t, store, "acme")
	sub := createSub(t, store, org.ID, true, "task.completed")

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	a := createFailedAttempt(t, store, sub.ID, 1, &past)

	claimed, err := store.ClaimAttempt(ctx, a.ID, now, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed {
		t.Fatal("first claim should succeed")
	}

	// The claim cleared next_retry_at, so a second claim finds nothing.
	claimed, err = store.ClaimAttempt(ctx, a.ID, now, 3)
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Error("second claim should fail")
	}

	got, _ := store.GetAttempt(ctx, a.ID)
	if got.NextRetryAt != nil {
		t.Errorf("claimed row kept next_retry_at = %v", got.NextRetryAt)
	}

	if rows, _ := store.ListDueAttempts(ctx, 10, now, 3); len(rows) != 0 {
		t.Errorf("claimed row still listed as due")
	}
}

func TestClaimAttemptRespectsBudgetAndDueTime(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	org := createOrg(t, store, "acme")
	sub := createSub(t, store, org.ID, true, "task.completed")

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	exhausted := createFailedAttempt(t, store, sub.ID, 3, &past)
	if claimed, _ := store.ClaimAttempt(ctx, exhausted.ID, now, 3); claimed {
		t.Error("claimed a row that is out of retry budget")
	}

	notDue := createFailedAttempt(t, store, sub.ID, 1, &future)
	if claimed, _ := store.ClaimAttempt(ctx, notDue.ID, now, 3); claimed {
		t.Error("claimed a row before its retry time")
	}
}

func TestListDeadLetters(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	orgA := createOrg(t, store, "a")
	orgB := createOrg(t, store, "b")
	subA := createSub(t, store, orgA.ID, true, "task.completed")
	subB := createSub(t, store, orgB.ID, true, "task.completed")

	past := time.Now().UTC().Add(-time.Minute)
	dead := createFailedAttempt(t, store, subA.ID, 3, nil)
	createFailedAttempt(t, store, subA.ID, 1, &past) // retryable, not dead
	createFailedAttempt(t, store, subB.ID, 3, nil)   // other org

	got, err := store.ListDeadLetters(ctx, orgA.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != dead.ID {
		t.Fatalf("dead letters = %d rows, want only %s", len(got), dead.ID)
	}
}

func TestGetStats(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	org := createOrg(t, store, "acme")
	sub := createSub(t, store, org.ID, true, "task.completed")
	createSub(t, store, org.ID, false, "email.sent")

	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	success := createFailedAttempt(t, store, sub.ID, 1, &past)
	success.Status = models.AttemptSuccess
	success.NextRetryAt = nil
	success.CompletedAt = &now
	if err := store.UpdateAttempt(ctx, success); err != nil {
		t.Fatal(err)
	}
	createFailedAttempt(t, store, sub.ID, 1, &past) // retryable failure
	createFailedAttempt(t, store, sub.ID, 3, nil)   // dead letter

	stats, err := store.GetStats(ctx, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalAttempts != 3 {
		t.Errorf("total = %d, want 3", stats.TotalAttempts)
	}
	if stats.SuccessCount != 1 || stats.FailedCount != 2 {
		t.Errorf("success = %d failed = %d", stats.SuccessCount, stats.FailedCount)
	}
	if stats.DeadLetterCount != 1 {
		t.Errorf("dead letters = %d, want 1", stats.DeadLetterCount)
	}
	if stats.TotalSubscriptions != 2 || stats.ActiveSubscriptions != 1 {
		t.Errorf("subscriptions = %d/%d, want 2 total 1 active", stats.TotalSubscriptions, stats.ActiveSubscriptions)
	}
	if stats.SuccessRate < 33.0 || stats.SuccessRate > 34.0 {
		t.Errorf("success rate = %f", stats.SuccessRate)
	}
}

func TestDeleteOrganizationCascades(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	org := createOrg(t, store, "acme")
	sub := createSub(t, store, org.ID, true, "task.completed")
	past := time.Now().UTC().Add(-time.Minute)
	a := createFailedAttempt(t, store, sub.ID, 1, &past)

	if err := store.DeleteOrganization(ctx, org.ID); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.GetSubscription(ctx, sub.ID); got != nil {
		t.Error("subscription survived organization delete")
	}
	if got, _ := store.GetAttempt(ctx, a.ID); got != nil {
		t.Error("attempt survived organization delete")
	}
}
