package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDuplicate is returned by MemoryStore on a subscription key collision.
// IsDuplicateKey recognizes it alongside the Postgres 23505 error.
var ErrDuplicate = errors.New("duplicate key")

// MemoryStore is an in-memory Store used by tests and single-node dev mode.
type MemoryStore struct {
	mu            sync.Mutex
	messages      []*Message
	subscriptions map[string]*Subscription
	nextID        int

	// SendUnavailable simulates the send() function being absent: the
	// preferred insert path fails and callers must fall back.
	SendUnavailable bool
	// FailInserts makes both insert paths fail.
	FailInserts bool
}

// NewMemoryStore initializes an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[string]*Subscription),
	}
}

func (s *MemoryStore) insert(m *Message) *Message {
	s.nextID++
	out := *m
	out.ID = fmt.Sprintf("mem-%d", s.nextID)
	if out.Event == "" {
		out.Event = "message"
	}
	out.InsertedAt = time.Now()
	// Guarantee strictly increasing timestamps even within one clock tick.
	if n := len(s.messages); n > 0 && !out.InsertedAt.After(s.messages[n-1].InsertedAt) {
		out.InsertedAt = s.messages[n-1].InsertedAt.Add(time.Microsecond)
	}
	s.messages = append(s.messages, &out)
	return &out
}

func (s *MemoryStore) InsertViaSend(ctx context.Context, m *Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendUnavailable || s.FailInserts {
		return nil, errors.New("function send() does not exist")
	}
	return s.insert(m), nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, m *Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInserts {
		return nil, errors.New("insert failed")
	}
	return s.insert(m), nil
}

func (s *MemoryStore) MessagesByTopic(ctx context.Context, topic string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, m := range s.messages {
		if m.Topic == topic && !m.Private {
			msg := *m
			out = append(out, &msg)
		}
	}
	return out, nil
}

func (s *MemoryStore) DistinctTopics(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, m := range s.messages {
		if !seen[m.Topic] {
			seen[m.Topic] = true
			out = append(out, m.Topic)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return nil, nil
	}
	out := *sub
	return &out, nil
}

func (s *MemoryStore) InsertSubscription(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.SubscriptionID]; ok {
		return ErrDuplicate
	}
	out := *sub
	out.CreatedAt = time.Now()
	s.subscriptions[sub.SubscriptionID] = &out
	return nil
}

func (s *MemoryStore) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, subscriptionID)
	return nil
}

// SubscriptionCount reports the number of registry rows. Test helper.
func (s *MemoryStore) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscriptions)
}

// MessageCount reports the number of persisted messages. Test helper.
func (s *MemoryStore) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
