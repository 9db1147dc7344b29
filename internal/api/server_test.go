package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hookflow/hookflow/internal/config"
	"github.com/hookflow/hookflow/internal/dispatch"
	"github.com/hookflow/hookflow/internal/models"
	"github.com/hookflow/hookflow/internal/storage"
)

func newTestServer(t *testing.T) (http.Handler, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	cfg := config.DeliveryConfig{
		Workers:       4,
		Timeout:       2 * time.Second,
		MaxAttempts:   3,
		RetrySchedule: []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute},
	}
	dispatcher := dispatch.NewDispatcher(cfg, store, zerolog.Nop())
	queue := dispatch.NewQueue(dispatcher, 16, 2, zerolog.Nop())
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)

	srv := NewServer(config.ServerConfig{}, store, queue, dispatcher, zerolog.Nop())
	return srv.Handler(), store
}

func seedOrg(t *testing.T, store *storage.Memory, name string) *models.Organization {
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

func doRequest(t *testing.T, h http.Handler, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doRequest(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "ok" || body["service"] != "hookflow" {
		t.Errorf("body = %v", body)
	}
}

func TestCreateOrganizationIssuesKey(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/organizations", "", map[string]string{"name": "acme"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	org := decode[models.Organization](t, rec)
	if !strings.HasPrefix(org.APIKey, "hk_") {
		t.Errorf("api_key = %q, want hk_ prefix", org.APIKey)
	}

	// The key is only shown at creation time.
	rec = doRequest(t, h, http.MethodGet, "/api/v1/organizations/"+org.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[models.Organization](t, rec)
	if got.APIKey != "" {
		t.Error("api_key must be redacted on read")
	}
}

func TestAuthRequired(t *testing.T) {
	h, store := newTestServer(t)
	org := seedOrg(t, store, "acme")

	cases := []struct {
		name string
		key  string
		want int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "hk_nope", http.StatusUnauthorized},
		{"valid key", org.APIKey, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, "/api/v1/subscriptions", tc.key, nil)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestCreateSubscription(t *testing.T) {
	h, store := newTestServer(t)
	org := seedOrg(t, store, "acme")

	rec := doRequest(t, h, http.MethodPost, "/api/v1/subscriptions", org.APIKey, map[string]any{
		"url":         "https://example.com/hooks",
		"event_types": []string{"task.completed", "email.received"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	sub := decode[models.Subscription](t, rec)
	if !strings.HasPrefix(sub.Secret, "whsec_") {
		t.Errorf("secret = %q, want whsec_ prefix", sub.Secret)
	}
	if !sub.Active {
		t.Error("new subscription should start active")
	}

	// Secret appears exactly once, at creation.
	rec = doRequest(t, h, http.MethodGet, "/api/v1/subscriptions/"+sub.ID, org.APIKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[models.Subscription](t, rec)
	if got.Secret != "" {
		t.Error("secret must be redacted on read")
	}
}

func TestCreateSubscriptionValidation(t *testing.T) {
	h, store := newTestServer(t)
	org := seedOrg(t, store, "acme")

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing url", map[string]any{"event_types": []string{"task.created"}}},
		{"bad scheme", map[string]any{"url": "ftp://example.com", "event_types": []string{"task.created"}}},
		{"not a url", map[string]any{"url": "::::", "event_types": []string{"task.created"}}},
		{"empty event types", map[string]any{"url": "https://example.com", "event_types": []string{}}},
		{"unknown event type", map[string]any{"url": "https://example.com", "event_types": []string{"task.exploded"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/v1/subscriptions", org.APIKey, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body: %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSubscriptionTenantIsolation(t *testing.T) {
	h, store := newTestServer(t)
	orgA := seedOrg(t, store, "a")
	orgB := seedOrg(t, store, "b")

	rec := doRequest(t, h, http.MethodPost, "/api/v1/subscriptions", orgA.APIKey, map[string]any{
		"url":         "https://example.com/hooks",
		"event_types": []string{"task.created"},
	})
	sub := decode[models.Subscription](t, rec)

	// Another tenant sees 404, not 403, so subscription IDs don't leak.
	rec = doRequest(t, h, http.MethodGet, "/api/v1/subscriptions/"+sub.ID, orgB.APIKey, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-tenant get: status = %d, want 404", rec.Code)
	}
	rec = doRequest(t, h, http.MethodDelete, "/api/v1/subscriptions/"+sub.ID, orgB.APIKey, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-tenant delete: status = %d, want 404", rec.Code)
	}
}

func TestUpdateSubscriptionSecretImmutable(t *testing.T) {
	h, store := newTestServer(t)
	org := seedOrg(t, store, "acme")

	rec := doRequest(t, h, http.MethodPost, "/api/v1/subscriptions", org.APIKey, map[string]any{
		"url":         "https://example.com/hooks",
		"event_types": []string{"task.created"},
	})
	created := decode[models.Subscription](t, rec)

	rec = doRequest(t, h, http.MethodPut, "/api/v1/subscriptions/"+created.ID, org.APIKey, map[string]any{
		"url":         "https://example.com/v2",
		"event_types": []string{"task.updated"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	stored, _ := store.GetSubscription(context.Background(), created.ID)
	if stored.URL != "https://example.com/v2" {
		t.Errorf("url = %s", stored.URL)
	}
	if stored.Secret != created.Secret {
		t.Error("secret changed on update")
	}
}

func TestToggleSubscription(t *testing.T) {
	h, store := newTestServer(t)
	org := seedOrg(t, store, "acme")

	rec := doRequest(t, h, http.MethodPost, "/api/v1/subscriptions", org.APIKey, map[string]any{
		"url":         "https://example.com/hooks",
		"event_types": []string{"task.created"},
	})
	sub := decode[models.Subscription](t, rec)

	rec = doRequest(t, h, http.MethodPatch, "/api/v1/subscriptions/"+sub.ID+"/toggle", org.APIKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[models.Subscription](t, rec); got.Active {
		t.Error("expected subscription to be paused after toggle")
	}
}

func TestEventIngress(t *testing.T) {
	delivered := make(chan string, 1)
	subscriber := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- r.Header.Get("X-Hookflow-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer subscriber.Close()

	h, store := newTestServer(t)
	org := seedOrg(t, store, "acme")

	rec := doRequest(t, h, http.MethodPost, "/api/v1/subscriptions", org.APIKey, map[string]any{
		"url":         subscriber.URL,
		"event_types": []string{"automation.completed"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscription create: %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/events", org.APIKey, map[string]any{
		"event_type": "automation.completed",
		"data":       map[string]any{"automation_id": "auto_1"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "accepted" {
		t.Errorf("body = %v", body)
	}

	select {
	case event := <-delivered:
		if event != "automation.completed" {
			t.Errorf("delivered event = %q", event)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("accepted event was never delivered")
	}
}

func TestEventIngressRejectsUnknownType(t *testing.T) {
	h, store := newTestServer(t)
	org := seedOrg(t, store, "acme")

	rec := doRequest(t, h, http.MethodPost, "/api/v1/events", org.APIKey, map[string]any{
		"event_type": "task.exploded",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/events", "", map[string]any{
		"event_type": "task.created",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}
}

func TestSubscriptionTestEndpoint(t *testing.T) {
	subscriber := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer subscriber.Close()

	h, store := newTestServer(t)
	org := seedOrg(t, store, "acme")

	rec := doRequest(t, h, http.MethodPost, "/api/v1/subscriptions", org.APIKey, map[string]any{
		"url":         subscriber.URL,
		"event_types": []string{"task.created"},
	})
	sub := decode[models.Subscription](t, rec)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/test", org.APIKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	result := decode[dispatch.TestResult](t, rec)
	if !result.Success || result.StatusCode != http.StatusOK {
		t.Errorf("result = %+v", result)
	}
}

func TestDeadLettersEndpoint(t *testing.T) {
	h, store := newTestServer(t)
	org := seedOrg(t, store, "acme")

	rec := doRequest(t, h, http.MethodPost, "/api/v1/subscriptions", org.APIKey, map[string]any{
		"url":         "https://example.com/hooks",
		"event_types": []string{"task.completed"},
	})
	sub := decode[models.Subscription](t, rec)

	now := time.Now().UTC()
	dead := &models.DeliveryAttempt{
		ID:             models.NewID("att"),
		SubscriptionID: sub.ID,
		EventType:      "task.completed",
		Payload:        json.RawMessage(`{}`),
		Status:         models.AttemptFailed,
		AttemptCount:   3,
		CreatedAt:      now,
		CompletedAt:    &now,
	}
	if err := store.CreateAttempt(context.Background(), dead); err != nil {
		t.Fatal(err)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/dead-letters", org.APIKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	attempts := decode[[]models.DeliveryAttempt](t, rec)
	if len(attempts) != 1 || attempts[0].ID != dead.ID {
		t.Errorf("dead letters = %+v", attempts)
	}
}

func TestStatsEndpoint(t *testing.T) {
	h, store := newTestServer(t)
	org := seedOrg(t, store, "acme")

	rec := doRequest(t, h, http.MethodPost, "/api/v1/subscriptions", org.APIKey, map[string]any{
		"url":         "https://example.com/hooks",
		"event_types": []string{"task.completed"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/stats", org.APIKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	stats := decode[storage.Stats](t, rec)
	if stats.TotalSubscriptions != 1 || stats.ActiveSubscriptions != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
