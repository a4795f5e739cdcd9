package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gigstream/gigstream/realtime/auth"
	"github.com/gigstream/gigstream/realtime/store"
	"github.com/gigstream/gigstream/realtime/subscription"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestAPI(t *testing.T) (*API, *store.MemoryStore, *auth.JWTVerifier) {
	t.Helper()
	mem := store.NewMemoryStore()
	hub := NewHub()
	verifier, err := auth.NewJWTVerifier([]byte(testSecret), "")
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	api := NewAPI(mem, hub, NewPublisher(mem, hub), subscription.NewManager(mem), verifier)
	return api, mem, verifier
}

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore, *auth.JWTVerifier) {
	t.Helper()
	api, mem, verifier := newTestAPI(t)
	mux := http.NewServeMux()
	api.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mem, verifier
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestListTopicsReflectsMessages(t *testing.T) {
	srv, mem, verifier := newTestServer(t)

	var listing struct {
		Topics []string `json:"topics"`
	}
	getJSON(t, srv.URL+"/messaging/topics", &listing)
	if len(listing.Topics) != 0 {
		t.Fatalf("expected no topics before any send, got %v", listing.Topics)
	}

	token := verifier.Sign("u1", time.Hour)
	postMessage(t, srv, token, `{"topic":"support","payload":{"content":"hi"}}`, http.StatusCreated)

	getJSON(t, srv.URL+"/messaging/topics", &listing)
	if len(listing.Topics) != 1 || listing.Topics[0] != "support" {
		t.Errorf("expected [support], got %v", listing.Topics)
	}
	if mem.MessageCount() != 1 {
		t.Errorf("expected 1 persisted row, got %d", mem.MessageCount())
	}
}

func TestTopicMessagesFiltersPrivateAndOrders(t *testing.T) {
	srv, _, verifier := newTestServer(t)
	token := verifier.Sign("u1", time.Hour)

	postMessage(t, srv, token, `{"topic":"support","payload":{"content":"first"}}`, http.StatusCreated)
	postMessage(t, srv, token, `{"topic":"support","payload":{"content":"secret"},"private":true}`, http.StatusCreated)
	postMessage(t, srv, token, `{"topic":"support","payload":{"content":"second"}}`, http.StatusCreated)

	var msgs []*store.Message
	getJSON(t, srv.URL+"/messaging/topics/support/messages", &msgs)

	if len(msgs) != 2 {
		t.Fatalf("expected 2 public messages, got %d", len(msgs))
	}
	if !strings.Contains(string(msgs[0].Payload), "first") || !strings.Contains(string(msgs[1].Payload), "second") {
		t.Errorf("messages out of insertion order: %s, %s", msgs[0].Payload, msgs[1].Payload)
	}
	for _, m := range msgs {
		if m.Private {
			t.Error("private message leaked into listing")
		}
		if m.InsertedAt.IsZero() {
			t.Error("expected server-assigned inserted_at")
		}
	}
	if msgs[1].InsertedAt.Before(msgs[0].InsertedAt) {
		t.Error("expected non-decreasing insertion order")
	}
}

func TestSendMessageRequiresAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/messaging/messages", "application/json",
		strings.NewReader(`{"topic":"support","payload":{}}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without bearer token, got %d", resp.StatusCode)
	}
}

func TestSendMessageFailsWhenStoreDown(t *testing.T) {
	srv, mem, verifier := newTestServer(t)
	mem.FailInserts = true
	token := verifier.Sign("u1", time.Hour)

	postMessage(t, srv, token, `{"topic":"support","payload":{"content":"hi"}}`, http.StatusInternalServerError)
}

func TestSubscriptionEndpoints(t *testing.T) {
	srv, mem, verifier := newTestServer(t)
	token := verifier.Sign("u1", time.Hour)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/messaging/subscriptions",
		strings.NewReader(`{"topic":"chat","user_id":"u1"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST subscription: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if mem.SubscriptionCount() != 1 {
		t.Fatalf("expected 1 row, got %d", mem.SubscriptionCount())
	}

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/messaging/subscriptions/chat/u1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE subscription: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if mem.SubscriptionCount() != 0 {
		t.Errorf("expected row deleted, got %d", mem.SubscriptionCount())
	}
}

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func postMessage(t *testing.T, srv *httptest.Server, token, body string, wantStatus int) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/messaging/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST message: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("expected status %d, got %d", wantStatus, resp.StatusCode)
	}
}
