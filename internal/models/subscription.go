package models

import "time"

// Subscription registers a destination URL for a set of event types owned by
// one organization. The secret is generated at creation and never changes;
// API responses redact it after the initial create.
type Subscription struct {
	ID              string     `json:"id"`
	OrgID           string     `json:"org_id"`
	URL             string     `json:"url"`
	Description     string     `json:"description"`
	Secret          string     `json:"secret,omitempty"`
	EventTypes      []string   `json:"event_types"`
	Active          bool       `json:"active"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Matches reports whether the subscription should receive the given event type.
func (s *Subscription) Matches(eventType string) bool {
	if !s.Active {
		return false
	}
	for _, et := range s.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}
