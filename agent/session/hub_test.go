package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHubBroadcastIsolatedByRoom(t *testing.T) {
	t.Parallel()

	h := NewHub()
	a1 := h.Join("room-a")
	a2 := h.Join("room-a")
	b1 := h.Join("room-b")

	if n := h.Broadcast("room-a", []byte("hello a")); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	for _, m := range []*Member{a1, a2} {
		if got := string(<-m.Outbox()); got != "hello a" {
			t.Fatalf("member got %q", got)
		}
	}
	select {
	case msg := <-b1.Outbox():
		t.Fatalf("room-b received %q", msg)
	default:
	}
}

func TestHubLeaveClosesOutbox(t *testing.T) {
	t.Parallel()

	var active atomic.Int64
	h := NewHub(WithRoomGauge(func(n int) { active.Store(int64(n)) }))
	m := h.Join("room")
	if active.Load() != 1 {
		t.Fatalf("active rooms = %d", active.Load())
	}

	h.Leave(m)
	h.Leave(m)
	if _, ok := <-m.Outbox(); ok {
		t.Fatal("outbox must be closed after leave")
	}
	if h.Rooms() != 0 || active.Load() != 0 {
		t.Fatalf("rooms = %d active = %d", h.Rooms(), active.Load())
	}
}

func TestHubEvictsSlowMember(t *testing.T) {
	t.Parallel()

	h := NewHub(WithSendBuffer(1))
	slow := h.Join("room")
	fast := h.Join("room")

	h.Broadcast("room", []byte("1"))
	<-fast.Outbox()
	if n := h.Broadcast("room", []byte("2")); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if h.Members("room") != 1 {
		t.Fatalf("members = %d, want 1", h.Members("room"))
	}
	if got := string(<-slow.Outbox()); got != "1" {
		t.Fatalf("slow member first message = %q", got)
	}
	if _, ok := <-slow.Outbox(); ok {
		t.Fatal("evicted member outbox must be closed")
	}
}

func TestHubConcurrentJoinLeaveBroadcast(t *testing.T) {
	t.Parallel()

	h := NewHub(WithSendBuffer(256))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		room := fmt.Sprintf("room-%d", i%4)
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := h.Join(room)
			for j := 0; j < 10; j++ {
				h.Broadcast(room, []byte("x"))
			}
			h.Leave(m)
		}()
	}
	wg.Wait()
	if h.Rooms() != 0 {
		t.Fatalf("rooms = %d, want 0", h.Rooms())
	}
}

func TestLockTurnSerialisesSession(t *testing.T) {
	t.Parallel()

	h := NewHub()
	unlock := h.LockTurn("s1")

	acquired := make(chan struct{})
	go func() {
		release := h.LockTurn("s1")
		close(acquired)
		release()
	}()

	other := h.LockTurn("s2")
	other()

	select {
	case <-acquired:
		t.Fatal("second turn on the same session must wait")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second turn never acquired the lock")
	}
}
