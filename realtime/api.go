package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gigstream/gigstream/realtime/auth"
	"github.com/gigstream/gigstream/realtime/middleware"
	"github.com/gigstream/gigstream/realtime/store"
	"github.com/gigstream/gigstream/realtime/subscription"
)

// API holds the request handlers and their collaborators. One instance is
// built in main; tests build their own with a MemoryStore.
type API struct {
	store     store.Store
	hub       *Hub
	publisher *Publisher
	subs      *subscription.Manager
	verifier  auth.Verifier
	limiter   *principalLimiter
}

// NewAPI wires the handler set.
func NewAPI(s store.Store, hub *Hub, publisher *Publisher, subs *subscription.Manager, verifier auth.Verifier) *API {
	return &API{
		store:     s,
		hub:       hub,
		publisher: publisher,
		subs:      subs,
		verifier:  verifier,
		limiter:   newPrincipalLimiter(20, 40),
	}
}

// Routes registers every endpoint on mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)

	mux.HandleFunc("GET /ws/{topic}", a.handleTopicSocket)

	mux.HandleFunc("GET /messaging/topics", a.handleListTopics)
	mux.HandleFunc("GET /messaging/topics/{topic}/messages", a.handleTopicMessages)
	mux.Handle("POST /messaging/messages", middleware.Auth(a.verifier, http.HandlerFunc(a.handleSendMessage)))
	mux.Handle("POST /messaging/subscriptions", middleware.Auth(a.verifier, http.HandlerFunc(a.handleCreateSubscription)))
	mux.Handle("DELETE /messaging/subscriptions/{topic}/{principal}", middleware.Auth(a.verifier, http.HandlerFunc(a.handleRemoveSubscription)))
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "realtime"})
}

// handleListTopics returns every topic with at least one message.
func (a *API) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := a.store.DistinctTopics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if topics == nil {
		topics = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"topics": topics})
}

// handleTopicMessages returns the non-private messages of a topic, oldest first.
func (a *API) handleTopicMessages(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	msgs, err := a.store.MessagesByTopic(r.Context(), topic)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Event     string          `json:"event"`
	Extension string          `json:"extension"`
	Private   bool            `json:"private"`
}

// handleSendMessage persists a message through the delivery protocol and
// returns the stored row. Local fan-out excludes the caller, matching the
// websocket path's echo suppression.
func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.GetPrincipalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	msg, err := a.publisher.Publish(r.Context(), req.Topic, req.Payload, req.Event, req.Extension, req.Private, principal)
	if err != nil {
		log.Printf("api: send on %q failed: %v", req.Topic, err)
		writeError(w, http.StatusInternalServerError, "message could not be delivered")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type subscriptionRequest struct {
	Topic  string `json:"topic"`
	UserID string `json:"user_id"`
}

// handleCreateSubscription registers durable interest for a principal/topic
// pair. Idempotent: repeat calls return the same subscription ID.
func (a *API) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Topic == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "topic and user_id are required")
		return
	}

	if err := a.subs.EnsureSubscribed(r.Context(), req.Topic, req.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":          "success",
		"subscription_id": store.SubscriptionID(req.Topic, req.UserID),
	})
}

func (a *API) handleRemoveSubscription(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	principal := r.PathValue("principal")

	if err := a.store.DeleteSubscription(r.Context(), store.SubscriptionID(topic, principal)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
