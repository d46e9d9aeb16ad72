package rooms

import (
	"sync"
	"testing"
)

// recHandle records every payload written to it.
type recHandle struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (h *recHandle) WriteMessage(data []byte) error {
	h.mu.Lock()
	h.msgs = append(h.msgs, data)
	h.mu.Unlock()
	return nil
}

func (h *recHandle) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func TestBroadcastExcludesSender(t *testing.T) {
	r := NewRouter()
	sender := &recHandle{}
	other := &recHandle{}

	r.Join("chat-1", "c-sender", sender)
	r.Join("chat-1", "c-other", other)

	n := r.Broadcast("chat-1", []byte("payload"), "c-sender")
	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if sender.count() != 0 {
		t.Errorf("sender should not receive its own broadcast")
	}
	if other.count() != 1 {
		t.Errorf("other member should receive exactly one payload, got %d", other.count())
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	r := NewRouter()
	h := &recHandle{}

	r.Join("chat-1", "c1", h)
	r.Join("chat-1", "c1", h)

	if r.Members("chat-1") != 1 {
		t.Fatalf("double join should leave one member, got %d", r.Members("chat-1"))
	}

	r.Broadcast("chat-1", []byte("x"), "")
	if h.count() != 1 {
		t.Fatalf("member should receive one payload, got %d", h.count())
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	r := NewRouter()
	h := &recHandle{}

	r.Join("chat-1", "c1", h)
	r.Leave("chat-1", "c1")
	r.Leave("chat-1", "c1")
	r.Leave("chat-2", "c1") // never joined

	if r.Members("chat-1") != 0 {
		t.Fatalf("expected empty room, got %d members", r.Members("chat-1"))
	}
}

func TestBroadcastToEmptyRoom(t *testing.T) {
	r := NewRouter()

	if n := r.Broadcast("nobody-home", []byte("x"), ""); n != 0 {
		t.Fatalf("expected 0 deliveries, got %d", n)
	}
}

func TestLeaveAllPrunesEveryRoom(t *testing.T) {
	r := NewRouter()
	h := &recHandle{}
	stay := &recHandle{}

	r.Join("chat-1", "c1", h)
	r.Join("chat-2", "c1", h)
	r.Join("chat-1", "c2", stay)

	r.LeaveAll("c1")

	if r.Members("chat-2") != 0 {
		t.Errorf("chat-2 should be empty after LeaveAll")
	}
	if r.Members("chat-1") != 1 {
		t.Errorf("chat-1 should retain the other connection")
	}

	r.Broadcast("chat-1", []byte("x"), "")
	if h.count() != 0 {
		t.Errorf("departed connection must not receive broadcasts")
	}
	if stay.count() != 1 {
		t.Errorf("remaining connection should receive the broadcast")
	}
}

func TestNoReplayForLateJoiners(t *testing.T) {
	r := NewRouter()
	early := &recHandle{}
	late := &recHandle{}

	r.Join("chat-1", "c-early", early)
	r.Broadcast("chat-1", []byte("in-flight"), "")

	r.Join("chat-1", "c-late", late)

	if early.count() != 1 {
		t.Errorf("member at broadcast time should have received the payload")
	}
	if late.count() != 0 {
		t.Errorf("late joiner must not receive an earlier broadcast")
	}
}
