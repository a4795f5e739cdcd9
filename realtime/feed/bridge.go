// Package feed bridges the durable message log's row-insert notifications
// back into local fan-out. It is the second delivery path: rows inserted by
// other replicas (or by anything else writing the log) reach local
// connections through it. Clients deduplicate by message identity.
package feed

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gigstream/gigstream/realtime/observability"
	"github.com/gigstream/gigstream/realtime/store"
)

const (
	channelName    = "messages_insert"
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	queueSize      = 256
)

// Broadcaster is the slice of the connection registry the bridge needs.
type Broadcaster interface {
	HasTopic(topic string) bool
	Broadcast(topic string, msg *store.Message, excludePrincipal string) int
}

// Bridge holds one LISTEN connection on the message log's notification
// channel and redrives inserted rows into local broadcast. If the connection
// drops it resubscribes with capped exponential backoff until stopped.
type Bridge struct {
	connString string
	hub        Broadcaster

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBridge creates a Bridge. Start must be called before any rows flow.
func NewBridge(connString string, hub Broadcaster) *Bridge {
	return &Bridge{connString: connString, hub: hub}
}

// Start establishes the subscription and begins redriving rows. Calling it
// twice is a no-op.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	// The listen loop hands payloads to a separate dispatch goroutine so a
	// slow local send never blocks the notification wait.
	events := make(chan []byte, queueSize)
	go b.dispatch(events)
	go b.listen(runCtx, events)
}

// Stop tears the subscription down. Idempotent, safe to call before Start.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}
	b.started = false
	b.cancel()
	<-b.done
}

func (b *Bridge) listen(ctx context.Context, events chan<- []byte) {
	defer close(events)

	backoff := initialBackoff
	for {
		conn, err := pgx.Connect(ctx, b.connString)
		if err != nil {
			if !b.sleep(ctx, backoff, err) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		if _, err := conn.Exec(ctx, "LISTEN "+channelName); err != nil {
			conn.Close(context.Background())
			if !b.sleep(ctx, backoff, err) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		log.Printf("feed: listening on %s", channelName)
		backoff = initialBackoff

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				conn.Close(context.Background())
				if ctx.Err() != nil {
					return
				}
				log.Printf("feed: notification stream dropped, resubscribing: %v", err)
				break
			}

			select {
			case events <- []byte(n.Payload):
			default:
				// Dispatch queue is full; dropping is safe because the row
				// is durable and readable through the topic directory.
				log.Printf("feed: dispatch queue full, dropping event on %s", channelName)
			}
		}
	}
}

// sleep waits out the backoff, returning false when the context is done.
func (b *Bridge) sleep(ctx context.Context, d time.Duration, cause error) bool {
	if ctx.Err() != nil {
		return false
	}
	observability.FeedReconnects.Inc()
	log.Printf("feed: subscribe failed, retrying in %v: %v", d, cause)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (b *Bridge) dispatch(events <-chan []byte) {
	defer close(b.done)
	for payload := range events {
		b.redrive(payload)
	}
}

// redrive decodes one inserted row and broadcasts it to local connections on
// its topic. This path does not know the original sender, so nobody is
// excluded; duplicate delivery relative to the direct path is expected.
func (b *Bridge) redrive(payload []byte) {
	var msg store.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		observability.FeedEvents.WithLabelValues("decode_error").Inc()
		log.Printf("feed: undecodable row event: %v", err)
		return
	}
	if msg.Topic == "" {
		observability.FeedEvents.WithLabelValues("decode_error").Inc()
		return
	}

	if !b.hub.HasTopic(msg.Topic) {
		observability.FeedEvents.WithLabelValues("no_listeners").Inc()
		return
	}

	delivered := b.hub.Broadcast(msg.Topic, &msg, "")
	observability.FeedEvents.WithLabelValues("delivered").Inc()
	observability.BroadcastFrames.WithLabelValues("feed").Add(float64(delivered))
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
