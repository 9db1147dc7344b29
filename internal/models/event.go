package models

// EventTestWebhook is the synthetic type used by manual test deliveries.
// It is send-only: subscriptions cannot register for it.
const EventTestWebhook = "test.webhook"

// EventTypes is the closed vocabulary of deliverable platform events.
var EventTypes = []string{
	"automation.created",
	"automation.completed",
	"automation.failed",
	"email.received",
	"email.sent",
	"task.created",
	"task.completed",
	"task.updated",
	"integration.connected",
	"integration.disconnected",
}

func ValidEventType(s string) bool {
	for _, et := range EventTypes {
		if et == s {
			return true
		}
	}
	return false
}

// ValidEventTypes reports whether every entry names a known event type and
// the set is non-empty.
func ValidEventTypes(types []string) bool {
	if len(types) == 0 {
		return false
	}
	for _, et := range types {
		if !ValidEventType(et) {
			return false
		}
	}
	return true
}
