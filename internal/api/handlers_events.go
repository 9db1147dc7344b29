package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hookflow/hookflow/internal/dispatch"
	"github.com/hookflow/hookflow/internal/models"
)

// EventHandler is the dispatch ingress: platform event sources post events
// here and get a 202 back immediately; delivery happens in the background.
type EventHandler struct {
	queue *dispatch.Queue
}

func NewEventHandler(queue *dispatch.Queue) *EventHandler {
	return &EventHandler{queue: queue}
}

type dispatchEventRequest struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

const maxEventSize = 256 * 1024 // 256KB

func (h *EventHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	org := OrgFromContext(r.Context())
	if org == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxEventSize)
	var req dispatchEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !models.ValidEventType(req.EventType) {
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}

	var data any
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &data); err != nil {
			writeError(w, http.StatusBadRequest, "data must be valid JSON")
			return
		}
	}

	if err := h.queue.Submit(org.ID, req.EventType, data); err != nil {
		if errors.Is(err, dispatch.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "dispatch queue is full, retry later")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "dispatch queue unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"event_type": req.EventType,
	})
}
