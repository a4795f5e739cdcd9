// Package subscription keeps the durable subscription registry in step with
// local connection lifecycle. Rows are a hint for external realtime
// integrations; local fan-out never reads them.
package subscription

import (
	"context"
	"log"

	"github.com/gigstream/gigstream/realtime/store"
)

// Manager creates and removes registry rows as connections join and leave.
type Manager struct {
	store store.SubscriptionStore
}

// NewManager creates a Manager over the given registry.
func NewManager(s store.SubscriptionStore) *Manager {
	return &Manager{store: s}
}

// EnsureSubscribed idempotently records interest for (principal, topic).
// Two near-simultaneous joins for the same pair may both reach the insert;
// the loser's duplicate-key error is swallowed and treated as subscribed.
func (m *Manager) EnsureSubscribed(ctx context.Context, topic, principal string) error {
	id := store.SubscriptionID(topic, principal)

	existing, err := m.store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	if err := m.store.InsertSubscription(ctx, store.NewSubscription(topic, principal)); err != nil {
		if store.IsDuplicateKey(err) {
			return nil
		}
		return err
	}
	return nil
}

// MaybeUnsubscribe removes the registry row for (principal, topic) once the
// last local connection for the pair is gone. remainingLocal must be the
// count the hub reported from inside its leave critical section, so a join
// racing the disconnect is never stripped of its row. Deletion failures are
// logged, never surfaced to the closing transport.
func (m *Manager) MaybeUnsubscribe(ctx context.Context, topic, principal string, remainingLocal int) {
	if remainingLocal > 0 {
		return
	}
	id := store.SubscriptionID(topic, principal)
	if err := m.store.DeleteSubscription(ctx, id); err != nil {
		log.Printf("subscription: delete %s failed: %v", id, err)
	}
}
