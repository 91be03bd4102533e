package realtime

import (
	"context"
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func subscriberCount(h *Hub, programID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[programID])
}

func TestHubDeliversInPublishOrder(t *testing.T) {
	hub := NewHub(64)
	sub, err := hub.Subscribe(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	for i := int64(1); i <= 10; i++ {
		if err := hub.Publish(context.Background(), Event{ProgramID: "p1", TotalScans: i}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	for i := int64(1); i <= 10; i++ {
		if ev := receive(t, sub); ev.TotalScans != i {
			t.Fatalf("event %d: TotalScans = %d", i, ev.TotalScans)
		}
	}
}

func TestHubScopesByProgram(t *testing.T) {
	hub := NewHub(4)
	a, _ := hub.Subscribe(context.Background(), "a")
	b, _ := hub.Subscribe(context.Background(), "b")
	defer a.Close()
	defer b.Close()

	_ = hub.Publish(context.Background(), Event{ProgramID: "a", TotalScans: 1})
	if ev := receive(t, a); ev.ProgramID != "a" {
		t.Fatalf("got event for %q", ev.ProgramID)
	}
	select {
	case ev := <-b.C:
		t.Fatalf("subscriber of b received %+v", ev)
	default:
	}
}

func TestHubSkipsStaleTotals(t *testing.T) {
	hub := NewHub(4)
	sub, _ := hub.Subscribe(context.Background(), "p")
	defer sub.Close()

	_ = hub.Publish(context.Background(), Event{ProgramID: "p", TotalScans: 5})
	_ = hub.Publish(context.Background(), Event{ProgramID: "p", TotalScans: 4})
	_ = hub.Publish(context.Background(), Event{ProgramID: "p", TotalScans: 6})

	if got := receive(t, sub).TotalScans; got != 5 {
		t.Fatalf("first = %d, want 5", got)
	}
	if got := receive(t, sub).TotalScans; got != 6 {
		t.Fatalf("second = %d, want 6", got)
	}
}

func TestHubAdvanceRaisesFloor(t *testing.T) {
	hub := NewHub(4)
	sub, _ := hub.Subscribe(context.Background(), "p")
	defer sub.Close()

	// 订阅者已从快照看到6，之前提交的5不应再送达
	sub.Advance(6)
	sub.Advance(3)
	_ = hub.Publish(context.Background(), Event{ProgramID: "p", TotalScans: 5})
	_ = hub.Publish(context.Background(), Event{ProgramID: "p", TotalScans: 7})

	if got := receive(t, sub).TotalScans; got != 7 {
		t.Fatalf("first delivered total = %d, want 7", got)
	}
}

func TestHubFullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(1)
	sub, _ := hub.Subscribe(context.Background(), "p")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := int64(1); i <= 100; i++ {
			_ = hub.Publish(context.Background(), Event{ProgramID: "p", TotalScans: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestHubUnsubscribeOnContextCancel(t *testing.T) {
	hub := NewHub(1)
	ctx, cancel := context.WithCancel(context.Background())
	sub, _ := hub.Subscribe(ctx, "p")
	cancel()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("received event after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
	if n := subscriberCount(hub, "p"); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
	sub.Close() // 重复关闭无副作用
}

func TestHubConcurrentPublishers(t *testing.T) {
	hub := NewHub(1024)
	sub, _ := hub.Subscribe(context.Background(), "p")
	defer sub.Close()

	var wg sync.WaitGroup
	for i := int64(1); i <= 50; i++ {
		wg.Add(1)
		go func(total int64) {
			defer wg.Done()
			_ = hub.Publish(context.Background(), Event{ProgramID: "p", TotalScans: total})
		}(i)
	}
	wg.Wait()

	var last int64
	for {
		select {
		case ev := <-sub.C:
			if ev.TotalScans < last {
				t.Fatalf("total went backwards: %d after %d", ev.TotalScans, last)
			}
			last = ev.TotalScans
		default:
			return
		}
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub(1)
	sub, _ := hub.Subscribe(context.Background(), "p")
	hub.Close()

	if _, ok := <-sub.C; ok {
		t.Fatal("channel still open after Close")
	}
	if err := hub.Publish(context.Background(), Event{ProgramID: "p"}); err != ErrHubClosed {
		t.Fatalf("Publish after Close = %v", err)
	}
	if _, err := hub.Subscribe(context.Background(), "p"); err != ErrHubClosed {
		t.Fatalf("Subscribe after Close = %v", err)
	}
	sub.Close()
}
