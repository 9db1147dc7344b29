package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hookflow/hookflow/internal/dispatch"
	"github.com/hookflow/hookflow/internal/models"
	"github.com/hookflow/hookflow/internal/storage"
)

type SubscriptionHandler struct {
	store      storage.Storage
	dispatcher *dispatch.Dispatcher
}

func NewSubscriptionHandler(store storage.Storage, dispatcher *dispatch.Dispatcher) *SubscriptionHandler {
	return &SubscriptionHandler{store: store, dispatcher: dispatcher}
}

type createSubscriptionRequest struct {
	URL         string   `json:"url"`
	Description string   `json:"description"`
	EventTypes  []string `json:"event_types"`
}

func validDestinationURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	org := OrgFromContext(r.Context())
	if org == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if !validDestinationURL(req.URL) {
		writeError(w, http.StatusBadRequest, "url must be a valid HTTP or HTTPS URL")
		return
	}
	if !models.ValidEventTypes(req.EventTypes) {
		writeError(w, http.StatusBadRequest, "event_types must be a non-empty list of known event types")
		return
	}

	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:          models.NewID("sub"),
		OrgID:       org.ID,
		URL:         req.URL,
		Description: req.Description,
		Secret:      models.NewSecret(),
		EventTypes:  req.EventTypes,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.store.CreateSubscription(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}

	// The secret is shown exactly once, in this response.
	writeJSON(w, http.StatusCreated, sub)
}

// loadOwned fetches a subscription and enforces org ownership.
func (h *SubscriptionHandler) loadOwned(w http.ResponseWriter, r *http.Request) *models.Subscription {
	org := OrgFromContext(r.Context())
	if org == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	id := chi.URLParam(r, "id")
	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get subscription")
		return nil
	}
	if sub == nil || sub.OrgID != org.ID {
		writeError(w, http.StatusNotFound, "subscription not found")
		return nil
	}
	return sub
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub := h.loadOwned(w, r)
	if sub == nil {
		return
	}
	sub.Secret = "" // never re-displayed
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	org := OrgFromContext(r.Context())
	if org == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	subs, err := h.store.ListSubscriptions(r.Context(), org.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	for i := range subs {
		subs[i].Secret = ""
	}
	if subs == nil {
		subs = []models.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

type updateSubscriptionRequest struct {
	URL         string   `json:"url"`
	Description string   `json:"description"`
	EventTypes  []string `json:"event_types"`
}

func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	sub := h.loadOwned(w, r)
	if sub == nil {
		return
	}

	var req updateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL != "" {
		if !validDestinationURL(req.URL) {
			writeError(w, http.StatusBadRequest, "url must be a valid HTTP or HTTPS URL")
			return
		}
		sub.URL = req.URL
	}
	sub.Description = req.Description
	if req.EventTypes != nil {
		if !models.ValidEventTypes(req.EventTypes) {
			writeError(w, http.StatusBadRequest, "event_types must be a non-empty list of known event types")
			return
		}
		sub.EventTypes = req.EventTypes
	}

	if err := h.store.UpdateSubscription(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update subscription")
		return
	}

	sub.Secret = ""
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sub := h.loadOwned(w, r)
	if sub == nil {
		return
	}

	if err := h.store.DeleteSubscription(r.Context(), sub.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	sub := h.loadOwned(w, r)
	if sub == nil {
		return
	}

	newActive := !sub.Active
	if err := h.store.ToggleSubscription(r.Context(), sub.ID, newActive); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to toggle subscription")
		return
	}

	sub.Active = newActive
	sub.Secret = ""
	writeJSON(w, http.StatusOK, sub)
}

// Test triggers a synchronous test delivery so an operator can see
// "succeeded/failed" without waiting for a retry cycle.
func (h *SubscriptionHandler) Test(w http.ResponseWriter, r *http.Request) {
	sub := h.loadOwned(w, r)
	if sub == nil {
		return
	}

	result, err := h.dispatcher.TestDelivery(r.Context(), sub.ID)
	if err != nil {
		if errors.Is(err, dispatch.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to run test delivery")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
