package subscription

import (
	"context"
	"sync"
	"testing"

	"github.com/gigstream/gigstream/realtime/store"
)

func TestEnsureSubscribedIsIdempotent(t *testing.T) {
	mem := store.NewMemoryStore()
	m := NewManager(mem)
	ctx := context.Background()

	if err := m.EnsureSubscribed(ctx, "support", "u1"); err != nil {
		t.Fatalf("first EnsureSubscribed failed: %v", err)
	}
	if err := m.EnsureSubscribed(ctx, "support", "u1"); err != nil {
		t.Fatalf("second EnsureSubscribed failed: %v", err)
	}

	if got := mem.SubscriptionCount(); got != 1 {
		t.Errorf("expected exactly 1 subscription row, got %d", got)
	}

	sub, err := mem.GetSubscription(ctx, store.SubscriptionID("support", "u1"))
	if err != nil || sub == nil {
		t.Fatalf("expected subscription row, got %v, %v", sub, err)
	}
	if sub.Entity != "messages" || sub.ClaimsRole != "authenticated" {
		t.Errorf("unexpected row contents: %+v", sub)
	}
}

func TestEnsureSubscribedUnderRace(t *testing.T) {
	mem := store.NewMemoryStore()
	m := NewManager(mem)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.EnsureSubscribed(context.Background(), "chat", "u1"); err != nil {
				t.Errorf("EnsureSubscribed must swallow the duplicate race: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := mem.SubscriptionCount(); got != 1 {
		t.Errorf("expected exactly 1 row after concurrent joins, got %d", got)
	}
}

func TestMaybeUnsubscribeKeepsRowWhileConnected(t *testing.T) {
	mem := store.NewMemoryStore()
	m := NewManager(mem)
	ctx := context.Background()

	m.EnsureSubscribed(ctx, "chat", "u1")
	m.MaybeUnsubscribe(ctx, "chat", "u1", 1)

	if got := mem.SubscriptionCount(); got != 1 {
		t.Errorf("row must survive while other local connections remain, got %d", got)
	}
}

func TestMaybeUnsubscribeRemovesLastRow(t *testing.T) {
	mem := store.NewMemoryStore()
	m := NewManager(mem)
	ctx := context.Background()

	m.EnsureSubscribed(ctx, "chat", "u1")
	m.EnsureSubscribed(ctx, "chat", "u2")

	// u1 disconnects with no remaining connections; u2 stays untouched.
	m.MaybeUnsubscribe(ctx, "chat", "u1", 0)

	if sub, _ := mem.GetSubscription(ctx, store.SubscriptionID("chat", "u1")); sub != nil {
		t.Error("expected u1 subscription to be deleted")
	}
	if sub, _ := mem.GetSubscription(ctx, store.SubscriptionID("chat", "u2")); sub == nil {
		t.Error("u2 subscription must remain untouched")
	}
}
