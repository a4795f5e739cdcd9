package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gigstream/gigstream/realtime/observability"
)

const (
	// closeAuthRequired is sent when the token is missing or rejected.
	closeAuthRequired = 4001

	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin filtering is handled by the frontend deployment.
		return true
	},
}

// inboundFrame is one client message. Everything beyond content is optional.
type inboundFrame struct {
	Content   string `json:"content"`
	Event     string `json:"event"`
	Extension string `json:"extension"`
}

// handleTopicSocket serves GET /ws/{topic}. The connection joins the topic
// after token verification, then every inbound frame is persisted and fanned
// out. Disconnect cleanup always runs to completion.
func (a *API) handleTopicSocket(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	if topic == "" {
		http.Error(w, "Missing topic", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		closeWith(conn, closeAuthRequired, "authentication required")
		return
	}

	principal, err := a.verifier.Verify(r.Context(), token)
	if err != nil {
		closeWith(conn, closeAuthRequired, "invalid token")
		return
	}

	c, err := a.hub.Join(conn, topic, principal)
	if err != nil {
		closeWith(conn, websocket.CloseTryAgainLater, err.Error())
		return
	}
	log.Printf("ws: %s joined %q. Total: %d", principal, topic, a.hub.ClientCount())

	if err := a.subs.EnsureSubscribed(r.Context(), topic, principal); err != nil {
		// The row is a hint for external integrations; local delivery
		// works without it.
		log.Printf("ws: ensure subscription for %s on %q: %v", principal, topic, err)
	}

	a.publisher.PublishSystem(r.Context(), topic, "join", principal)

	defer func() {
		// Cleanup runs on a fresh context so the dying request cannot
		// cancel it mid-way.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		remaining := a.hub.Leave(c)
		a.subs.MaybeUnsubscribe(ctx, topic, principal, remaining)
		a.publisher.PublishSystem(ctx, topic, "leave", principal)
		conn.Close()
		log.Printf("ws: %s left %q. Total: %d", principal, topic, a.hub.ClientCount())
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// WriteControl is safe alongside concurrent data writes.
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read from %s on %q: %v", principal, topic, err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("ws: bad frame from %s on %q: %v", principal, topic, err)
			continue
		}

		if !a.limiter.Allow(principal) {
			observability.RateLimitedFrames.Inc()
			continue
		}

		payload := map[string]interface{}{
			"content":   frame.Content,
			"sender_id": principal,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}

		msg, err := a.publisher.Publish(r.Context(), topic, payload, frame.Event, frame.Extension, false, principal)
		if err != nil {
			log.Printf("ws: publish from %s on %q failed: %v", principal, topic, err)
			if err := c.send(map[string]string{"event": "error", "error": "message could not be delivered"}); err != nil {
				return
			}
			continue
		}

		// Immediate echo: the sender's confirmation comes from here, not
		// from fan-out, which excludes them.
		if err := c.send(msg); err != nil {
			log.Printf("ws: echo to %s on %q failed: %v", principal, topic, err)
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}
