package main

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gigstream/gigstream/realtime/store"
)

// fakeTransport records delivered frames; optionally fails every write.
type fakeTransport struct {
	mu       sync.Mutex
	frames   []interface{}
	failSend bool
}

func (f *fakeTransport) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("simulated send failure")
	}
	f.frames = append(f.frames, v)
	return nil
}

func (f *fakeTransport) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeTransport) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func TestJoinLeaveRemovesEmptyBucket(t *testing.T) {
	hub := NewHub()

	c, err := hub.Join(&fakeTransport{}, "support", "u1")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if !hub.HasTopic("support") {
		t.Fatal("expected topic to be active after join")
	}

	remaining := hub.Leave(c)
	if remaining != 0 {
		t.Errorf("expected 0 remaining connections, got %d", remaining)
	}
	if hub.HasTopic("support") {
		t.Error("expected topic bucket to be removed after last leave")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestLeaveCountsRemainingForPrincipal(t *testing.T) {
	hub := NewHub()

	c1, _ := hub.Join(&fakeTransport{}, "chat", "u1")
	c2, _ := hub.Join(&fakeTransport{}, "chat", "u1")
	c3, _ := hub.Join(&fakeTransport{}, "chat", "u2")

	if got := hub.Leave(c1); got != 1 {
		t.Errorf("expected 1 remaining u1 connection, got %d", got)
	}
	if got := hub.Leave(c2); got != 0 {
		t.Errorf("expected 0 remaining u1 connections, got %d", got)
	}
	if !hub.HasTopic("chat") {
		t.Error("u2 still connected, topic must stay active")
	}
	if got := hub.PrincipalConnections("chat", "u2"); got != 1 {
		t.Errorf("expected 1 u2 connection, got %d", got)
	}
	hub.Leave(c3)
	if hub.HasTopic("chat") {
		t.Error("expected topic bucket removed after all leaves")
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	hub := NewHub()

	sender := &fakeTransport{}
	peer := &fakeTransport{}
	hub.Join(sender, "support", "u1")
	hub.Join(peer, "support", "u2")

	msg := &store.Message{Topic: "support", Event: "message"}
	delivered := hub.Broadcast("support", msg, "u1")

	if delivered != 1 {
		t.Errorf("expected 1 delivery, got %d", delivered)
	}
	if sender.frameCount() != 0 {
		t.Error("sender must not receive its own message via fan-out")
	}
	if peer.frameCount() != 1 {
		t.Errorf("expected peer to receive 1 frame, got %d", peer.frameCount())
	}
}

func TestBroadcastSurvivesSendFailure(t *testing.T) {
	hub := NewHub()

	broken := &fakeTransport{failSend: true}
	healthy := &fakeTransport{}
	hub.Join(broken, "support", "u1")
	hub.Join(healthy, "support", "u2")

	delivered := hub.Broadcast("support", &store.Message{Topic: "support"}, "")

	if delivered != 1 {
		t.Errorf("expected 1 successful delivery, got %d", delivered)
	}
	if healthy.frameCount() != 1 {
		t.Error("failure on one recipient must not abort delivery to the rest")
	}
	// The failing connection stays registered; its own handler removes it.
	if got := hub.PrincipalConnections("support", "u1"); got != 1 {
		t.Errorf("expected failing connection to remain registered, got %d", got)
	}
}

func TestConcurrentJoinLeaveBroadcast(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			principal := fmt.Sprintf("u%d", i%5)
			c, err := hub.Join(&fakeTransport{}, "load", principal)
			if err != nil {
				t.Errorf("Join failed: %v", err)
				return
			}
			hub.Broadcast("load", &store.Message{Topic: "load"}, principal)
			hub.Leave(c)
		}(i)
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after churn, got %d", hub.ClientCount())
	}
	if hub.HasTopic("load") {
		t.Error("expected no active topics after churn")
	}
}
