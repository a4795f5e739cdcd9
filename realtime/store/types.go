package store

import (
	"encoding/json"
	"time"
)

// Message is one row of the durable message log. Rows are append-only:
// nothing in this service updates or deletes them after insert.
type Message struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload"`
	Event      string          `json:"event"`
	Extension  *string         `json:"extension,omitempty"`
	Private    bool            `json:"private"`
	InsertedAt time.Time       `json:"inserted_at"`
}

// Subscription is a durable hint for external realtime integrations.
// Local fan-out never reads it.
type Subscription struct {
	SubscriptionID string          `json:"subscription_id"`
	Entity         string          `json:"entity"`
	Filters        json.RawMessage `json:"filters"`
	Claims         json.RawMessage `json:"claims"`
	ClaimsRole     string          `json:"claims_role"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewSubscription builds the canonical row for a (principal, topic) pair.
// The ID is principal:topic, so at most one row can exist per pair.
func NewSubscription(topic, principal string) *Subscription {
	filters, _ := json.Marshal(map[string]string{"topic": topic})
	claims, _ := json.Marshal(map[string]string{"user_id": principal})
	return &Subscription{
		SubscriptionID: SubscriptionID(topic, principal),
		Entity:         "messages",
		Filters:        filters,
		Claims:         claims,
		ClaimsRole:     "authenticated",
	}
}

// SubscriptionID derives the registry key for a (principal, topic) pair.
func SubscriptionID(topic, principal string) string {
	return principal + ":" + topic
}
