package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gigstream/gigstream/realtime/observability"
	"github.com/gigstream/gigstream/realtime/store"
)

// Publisher implements the message delivery protocol: persist first (preferred
// path, then one fallback attempt), then fan out to local connections. The two
// steps never share a lock; persistence is awaited before Broadcast runs.
type Publisher struct {
	store store.MessageStore
	hub   *Hub
}

// NewPublisher creates a Publisher over the given log and hub.
func NewPublisher(s store.MessageStore, hub *Hub) *Publisher {
	return &Publisher{store: s, hub: hub}
}

// Publish persists a message and fans it out to local peers, excluding the
// sender so their immediate echo stays the only direct copy. An error is
// returned only when both insert paths fail; no fan-out happens then.
func (p *Publisher) Publish(ctx context.Context, topic string, payload interface{}, event, extension string, private bool, sender string) (*store.Message, error) {
	persisted, err := p.persist(ctx, topic, payload, event, extension, private)
	if err != nil {
		return nil, err
	}

	delivered := p.hub.Broadcast(topic, persisted, sender)
	observability.BroadcastFrames.WithLabelValues("publish").Add(float64(delivered))
	return persisted, nil
}

// PublishSystem sends a best-effort join/leave presence frame. Persistence
// failures are logged and swallowed; the live broadcast to already-connected
// peers proceeds either way since it does not depend on the insert.
func (p *Publisher) PublishSystem(ctx context.Context, topic, event, principal string) {
	payload := map[string]interface{}{
		"type":      "system",
		"content":   fmt.Sprintf("User %s has %s the chat", principal, presenceVerb(event)),
		"user_id":   principal,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	msg, err := p.persist(ctx, topic, payload, event, "", false)
	if err != nil {
		log.Printf("delivery: %s notification for %s on %q not persisted: %v", event, principal, topic, err)
		raw, _ := json.Marshal(payload)
		msg = &store.Message{Topic: topic, Payload: raw, Event: event}
	}

	delivered := p.hub.Broadcast(topic, msg, principal)
	observability.BroadcastFrames.WithLabelValues("publish").Add(float64(delivered))
}

// persist runs the two-step insert: the send() function once, then the plain
// insert once. No retries beyond that; a second failure surfaces to the caller.
func (p *Publisher) persist(ctx context.Context, topic string, payload interface{}, event, extension string, private bool) (*store.Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if event == "" {
		event = "message"
	}
	msg := &store.Message{
		Topic:   topic,
		Payload: raw,
		Event:   event,
		Private: private,
	}
	if extension != "" {
		msg.Extension = &extension
	}

	start := time.Now()
	defer func() {
		observability.PersistLatency.Observe(time.Since(start).Seconds())
	}()

	persisted, err := p.store.InsertViaSend(ctx, msg)
	if err == nil {
		observability.MessagesPersisted.WithLabelValues("rpc").Inc()
		return persisted, nil
	}
	observability.PersistFailures.WithLabelValues("rpc").Inc()
	log.Printf("delivery: send() insert failed on %q, falling back to direct insert: %v", topic, err)

	persisted, err = p.store.InsertMessage(ctx, msg)
	if err != nil {
		observability.PersistFailures.WithLabelValues("direct").Inc()
		return nil, fmt.Errorf("persist message on %q: %w", topic, err)
	}
	observability.MessagesPersisted.WithLabelValues("direct").Inc()
	return persisted, nil
}

func presenceVerb(event string) string {
	if event == "leave" {
		return "left"
	}
	return "joined"
}
