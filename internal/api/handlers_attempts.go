package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hookflow/hookflow/internal/models"
	"github.com/hookflow/hookflow/internal/storage"
)

// AttemptHandler exposes the delivery audit log. Attempt rows are owned by
// the dispatcher and sweeper; everything here is read-only.
type AttemptHandler struct {
	store storage.Storage
}

func NewAttemptHandler(store storage.Storage) *AttemptHandler {
	return &AttemptHandler{store: store}
}

func (h *AttemptHandler) Get(w http.ResponseWriter, r *http.Request) {
	org := OrgFromContext(r.Context())
	if org == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	a, err := h.store.GetAttempt(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get attempt")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "attempt not found")
		return
	}
	sub, err := h.store.GetSubscription(r.Context(), a.SubscriptionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get attempt")
		return
	}
	if sub == nil || sub.OrgID != org.ID {
		writeError(w, http.StatusNotFound, "attempt not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AttemptHandler) ListBySubscription(w http.ResponseWriter, r *http.Request) {
	org := OrgFromContext(r.Context())
	if org == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil || sub.OrgID != org.ID {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	attempts, err := h.store.ListAttemptsBySubscription(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []models.DeliveryAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

// ListDeadLetters surfaces terminally failed deliveries so operators can
// see what was lost after retries ran out.
func (h *AttemptHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	org := OrgFromContext(r.Context())
	if org == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	attempts, err := h.store.ListDeadLetters(r.Context(), org.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if attempts == nil {
		attempts = []models.DeliveryAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}
