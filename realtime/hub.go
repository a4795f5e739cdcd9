package main

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gigstream/gigstream/realtime/observability"
	"github.com/gigstream/gigstream/realtime/store"
)

const (
	maxConnections = 2000
	writeTimeout   = 5 * time.Second
)

// ErrHubFull is returned by Join when the connection cap is reached.
var ErrHubFull = errors.New("connection limit reached")

// transport is the write side of a client connection. *websocket.Conn
// satisfies it; tests substitute fakes.
type transport interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
}

// Conn is one live connection registered under a topic. Owned exclusively by
// the Hub and never persisted.
type Conn struct {
	transport transport
	topic     string
	principal string

	// wmu serializes data writes. Broadcasts arrive from the publisher and
	// the feed bridge while the connection's own goroutine echoes sends.
	wmu sync.Mutex
}

// Principal returns the verified identity behind the connection.
func (c *Conn) Principal() string { return c.principal }

// Topic returns the topic the connection joined.
func (c *Conn) Topic() string { return c.topic }

func (c *Conn) send(v interface{}) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.transport.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.transport.WriteJSON(v)
}

// Hub is the in-process connection registry, grouped by topic. It is the one
// piece of shared mutable state in the process; a single instance is built in
// main and handed to every connection handler.
type Hub struct {
	mu     sync.RWMutex
	topics map[string][]*Conn
	total  int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string][]*Conn)}
}

// Join registers a connection under topic. Duplicate (topic, principal)
// pairs are permitted and tracked independently.
func (h *Hub) Join(t transport, topic, principal string) (*Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.total >= maxConnections {
		return nil, ErrHubFull
	}

	c := &Conn{transport: t, topic: topic, principal: principal}
	h.topics[topic] = append(h.topics[topic], c)
	h.total++
	observability.ConnectedClients.Set(float64(h.total))
	return c, nil
}

// Leave removes the connection from its topic bucket, discarding the bucket
// when it empties. It returns the number of local connections still mapped to
// the same (topic, principal) pair, counted inside the same critical section
// so a concurrent Join for that pair is never missed by the
// unsubscribe-if-last check.
func (h *Hub) Leave(c *Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	bucket := h.topics[c.topic]
	remaining := 0
	kept := bucket[:0]
	for _, other := range bucket {
		if other == c {
			h.total--
			continue
		}
		kept = append(kept, other)
		if other.principal == c.principal {
			remaining++
		}
	}

	if len(kept) == 0 {
		delete(h.topics, c.topic)
	} else {
		h.topics[c.topic] = kept
	}
	observability.ConnectedClients.Set(float64(h.total))
	return remaining
}

// Broadcast delivers msg to every connection on topic except those belonging
// to excludePrincipal. Per-connection send failures are logged and skipped;
// a failing transport is cleaned up by its own handler on close. Returns the
// number of frames delivered.
func (h *Hub) Broadcast(topic string, msg *store.Message, excludePrincipal string) int {
	h.mu.RLock()
	recipients := make([]*Conn, 0, len(h.topics[topic]))
	for _, c := range h.topics[topic] {
		if excludePrincipal != "" && c.principal == excludePrincipal {
			continue
		}
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range recipients {
		if err := c.send(msg); err != nil {
			observability.BroadcastErrors.Inc()
			log.Printf("broadcast: send to %s on %q failed: %v", c.principal, topic, err)
			continue
		}
		delivered++
	}
	return delivered
}

// HasTopic reports whether any local connection is registered under topic.
func (h *Hub) HasTopic(topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic]) > 0
}

// PrincipalConnections counts local connections for a (topic, principal) pair.
func (h *Hub) PrincipalConnections(topic, principal string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.topics[topic] {
		if c.principal == principal {
			n++
		}
	}
	return n
}

// ClientCount returns the total number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}
