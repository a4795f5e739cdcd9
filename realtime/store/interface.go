package store

import "context"

// MessageStore is the durable message log.
//
// InsertViaSend is the preferred path: it calls the server-side send()
// function, which carries richer trigger semantics on the backing store.
// InsertMessage is the plain fallback insert with the same field set.
// Lookups return nil (not an error) when nothing matches.
type MessageStore interface {
	InsertViaSend(ctx context.Context, m *Message) (*Message, error)
	InsertMessage(ctx context.Context, m *Message) (*Message, error)
	MessagesByTopic(ctx context.Context, topic string) ([]*Message, error)
	DistinctTopics(ctx context.Context) ([]string, error)
}

// SubscriptionStore is the durable subscription registry.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	InsertSubscription(ctx context.Context, sub *Subscription) error
	DeleteSubscription(ctx context.Context, subscriptionID string) error
}

// Store combines both backends; PostgresStore and MemoryStore implement it.
type Store interface {
	MessageStore
	SubscriptionStore
}
