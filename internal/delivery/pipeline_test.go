package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/linkhub/realtime/internal/chat"
	"github.com/linkhub/realtime/internal/errs"
	"github.com/linkhub/realtime/internal/registry"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeStore is an in-memory Store with the same contracts as the Postgres
// implementation: newest-first ListMessages, idempotent MarkRead.
type fakeStore struct {
	mu        sync.Mutex
	chats     map[string]*chat.Chat
	messages  map[string]*chat.Message
	reads     map[string]map[string]time.Time // messageID -> readerID -> readAt
	failWrite bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats:    make(map[string]*chat.Chat),
		messages: make(map[string]*chat.Message),
		reads:    make(map[string]map[string]time.Time),
	}
}

func (s *fakeStore) addChat(id, a, b string) *chat.Chat {
	c := &chat.Chat{ID: id, ParticipantA: a, ParticipantB: b, Participants: []string{a, b}}
	s.chats[id] = c
	return c
}

func (s *fakeStore) GetChat(_ context.Context, chatID string) (*chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, errs.NotFoundf("chat %s", chatID)
	}
	return c, nil
}

func (s *fakeStore) InsertMessage(_ context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return errs.Transientf("insert failed")
	}
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *fakeStore) TouchLastMessage(_ context.Context, chatID, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return errs.NotFoundf("chat %s", chatID)
	}
	c.LastMessageID = messageID
	c.LastMessageTime = &at
	return nil
}

func (s *fakeStore) GetMessage(_ context.Context, messageID string) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, errs.NotFoundf("message %s", messageID)
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) ListMessages(_ context.Context, chatID string, page, limit int) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []chat.Message
	for _, m := range s.messages {
		if m.ChatID != chatID || m.IsDeleted {
			continue
		}
		cp := *m
		for reader, at := range s.reads[m.ID] {
			cp.ReadBy = append(cp.ReadBy, chat.ReadReceipt{UserID: reader, ReadAt: at})
		}
		all = append(all, cp)
	}
	// Newest first, like the Postgres index.
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := (page - 1) * limit
	if start >= len(all) {
		return nil, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (s *fakeStore) MarkRead(_ context.Context, chatID, readerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added int64
	for _, m := range s.messages {
		if m.ChatID != chatID || m.SenderID == readerID || m.IsDeleted {
			continue
		}
		readers, ok := s.reads[m.ID]
		if !ok {
			readers = make(map[string]time.Time)
			s.reads[m.ID] = readers
		}
		if _, seen := readers[readerID]; seen {
			continue
		}
		readers[readerID] = time.Now()
		added++
	}
	return added, nil
}

func (s *fakeStore) SoftDelete(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return errs.NotFoundf("message %s", messageID)
	}
	m.IsDeleted = true
	return nil
}

func (s *fakeStore) receiptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, readers := range s.reads {
		n += len(readers)
	}
	return n
}

// fakeHandle records written payloads; dead simulates a closed connection.
type fakeHandle struct {
	mu   sync.Mutex
	msgs [][]byte
	dead bool
}

func (h *fakeHandle) WriteMessage(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dead {
		return errors.New("connection closed")
	}
	h.msgs = append(h.msgs, data)
	return nil
}

func (h *fakeHandle) events(t *testing.T) []map[string]interface{} {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(h.msgs))
	for _, raw := range h.msgs {
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("undecodable payload: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func countType(t *testing.T, h *fakeHandle, typ string) int {
	t.Helper()
	n := 0
	for _, ev := range h.events(t) {
		if ev["type"] == typ {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestSendDeliversToEveryRecipientHandle(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-1", "alice", "bob")
	reg := registry.New()
	p := NewPipeline(store, reg, nil)

	aliceH := &fakeHandle{}
	bobH1 := &fakeHandle{}
	bobH2 := &fakeHandle{}
	reg.Register("alice", "a1", aliceH)
	reg.Register("bob", "b1", bobH1)
	reg.Register("bob", "b2", bobH2)

	m, err := p.Send(context.Background(), "alice", "chat-1", "hi", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Content != "hi" {
		t.Errorf("expected content %q, got %q", "hi", m.Content)
	}
	if m.MessageType != "text" {
		t.Errorf("expected default messageType text, got %q", m.MessageType)
	}

	// Exactly one persisted message, chat pointer moved.
	if len(store.messages) != 1 {
		t.Fatalf("expected 1 persisted message, got %d", len(store.messages))
	}
	if store.chats["chat-1"].LastMessageID != m.ID {
		t.Errorf("chat last-message pointer not updated")
	}

	// Each of bob's handles gets exactly one newMessage with the content.
	for name, h := range map[string]*fakeHandle{"b1": bobH1, "b2": bobH2} {
		if got := countType(t, h, "newMessage"); got != 1 {
			t.Errorf("%s: expected 1 newMessage, got %d", name, got)
		}
		ev := h.events(t)[0]
		msg := ev["message"].(map[string]interface{})
		if msg["content"] != "hi" {
			t.Errorf("%s: expected content hi, got %v", name, msg["content"])
		}
		if got := countType(t, h, "messageSent"); got != 0 {
			t.Errorf("%s: recipient must not get messageSent", name)
		}
	}

	// The sender's handle gets exactly one messageSent and no newMessage.
	if got := countType(t, aliceH, "messageSent"); got != 1 {
		t.Errorf("sender: expected 1 messageSent, got %d", got)
	}
	if got := countType(t, aliceH, "newMessage"); got != 0 {
		t.Errorf("sender must not receive newMessage for own send")
	}
}

func TestSendRejectsNonParticipant(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-1", "alice", "bob")
	reg := registry.New()
	bobH := &fakeHandle{}
	reg.Register("bob", "b1", bobH)
	p := NewPipeline(store, reg, nil)

	_, err := p.Send(context.Background(), "mallory", "chat-1", "hi", "text")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if len(store.messages) != 0 {
		t.Errorf("rejected send must not persist a message")
	}
	if len(bobH.msgs) != 0 {
		t.Errorf("rejected send must not deliver anything")
	}
}

func TestSendRejectsWhitespaceContent(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-1", "alice", "bob")
	p := NewPipeline(store, registry.New(), nil)

	_, err := p.Send(context.Background(), "alice", "chat-1", "   \n\t ", "text")
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(store.messages) != 0 {
		t.Errorf("rejected send must not persist a message")
	}
}

func TestSendTrimsContent(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-1", "alice", "bob")
	p := NewPipeline(store, registry.New(), nil)

	m, err := p.Send(context.Background(), "alice", "chat-1", "  hello  ", "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Content != "hello" {
		t.Errorf("expected trimmed content, got %q", m.Content)
	}
}

func TestSendToUnknownChat(t *testing.T) {
	p := NewPipeline(newFakeStore(), registry.New(), nil)

	_, err := p.Send(context.Background(), "alice", "nope", "hi", "text")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestSendOfflineRecipientGetsNothing(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-1", "alice", "bob")
	reg := registry.New()
	p := NewPipeline(store, reg, nil)

	// Bob has no live handles; the send still succeeds and persists.
	m, err := p.Send(context.Background(), "alice", "chat-1", "hi", "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.messages[m.ID] == nil {
		t.Errorf("message should be persisted for offline recipient")
	}
}

func TestSendPersistFailureAbortsFanOut(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-1", "alice", "bob")
	store.failWrite = true
	reg := registry.New()
	bobH := &fakeHandle{}
	reg.Register("bob", "b1", bobH)
	p := NewPipeline(store, reg, nil)

	_, err := p.Send(context.Background(), "alice", "chat-1", "hi", "text")
	if !errors.Is(err, errs.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if len(bobH.msgs) != 0 {
		t.Errorf("failed persistence must not produce partial fan-out")
	}
}

func TestSendSkipsDeadHandles(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-1", "alice", "bob")
	reg := registry.New()
	deadH := &fakeHandle{dead: true}
	liveH := &fakeHandle{}
	reg.Register("bob", "b1", deadH)
	reg.Register("bob", "b2", liveH)
	p := NewPipeline(store, reg, nil)

	if _, err := p.Send(context.Background(), "alice", "chat-1", "hi", "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := countType(t, liveH, "newMessage"); got != 1 {
		t.Errorf("live handle should still get the message, got %d deliveries", got)
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func seedMessage(store *fakeStore, id, chatID, senderID, content string, at time.Time) {
	store.messages[id] = &chat.Message{
		ID: id, ChatID: chatID, SenderID: senderID,
		Content: content, MessageType: "text", CreatedAt: at,
	}
}

func TestDeleteRequiresSender(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-1", "alice", "bob")
	seedMessage(store, "m1", "chat-1", "alice", "hi", time.Now())
	p := NewPipeline(store, registry.New(), nil)

	err := p.Delete(context.Background(), "bob", "m1")
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
	if store.messages["m1"].IsDeleted {
		t.Errorf("unauthorized delete must leave isDeleted false")
	}
}

func TestDeleteBroadcastsToAllParticipants(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-1", "alice", "bob")
	seedMessage(store, "m1", "chat-1", "alice", "hi", time.Now())
	reg := registry.New()
	aliceH := &fakeHandle{}
	bobH := &fakeHandle{}
	reg.Register("alice", "a1", aliceH)
	reg.Register("bob", "b1", bobH)
	p := NewPipeline(store, reg, nil)

	if err := p.Delete(context.Background(), "alice", "m1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.messages["m1"].IsDeleted {
		t.Fatalf("message should be soft-deleted")
	}

	// Every participant handle, including the requester's, gets exactly one
	// messageDeleted carrying the chat and message ids.
	for name, h := range map[string]*fakeHandle{"alice": aliceH, "bob": bobH} {
		if got := countType(t, h, "messageDeleted"); got != 1 {
			t.Errorf("%s: expected 1 messageDeleted, got %d", name, got)
		}
		ev := h.events(t)[0]
		if ev["messageId"] != "m1" || ev["chatId"] != "chat-1" {
			t.Errorf("%s: unexpected payload %v", name, ev)
		}
	}
}

func TestDeleteAlreadyDeletedIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-1", "alice", "bob")
	seedMessage(store, "m1", "chat-1", "alice", "hi", time.Now())
	reg := registry.New()
	bobH := &fakeHandle{}
	reg.Register("bob", "b1", bobH)
	p := NewPipeline(store, reg, nil)

	if err := p.Delete(context.Background(), "alice", "m1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Delete(context.Background(), "alice", "m1"); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
	if got := countType(t, bobH, "messageDeleted"); got != 1 {
		t.Errorf("expected exactly one broadcast across repeated deletes, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func TestHistoryOldestFirstWithPagination(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-1", "alice", "bob")
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedMessage(store, string(rune('a'+i)), "chat-1", "bob", string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
	}
	p := NewPipeline(store, registry.New(), nil)

	// Page 1 of size 2 holds the two newest messages, presented oldest-first.
	msgs, hasMore, err := p.History(context.Background(), "alice", "chat-1", 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasMore {
		t.Errorf("full page should report hasMore")
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !msgs[0].CreatedAt.Before(msgs[1].CreatedAt) {
		t.Errorf("page must be ascending by createdAt: %v then %v", msgs[0].CreatedAt, msgs[1].CreatedAt)
	}
	if msgs[0].Content != "d" || msgs[1].Content != "e" {
		t.Errorf("expected newest page [d e], got [%s %s]", msgs[0].Content, msgs[1].Content)
	}

	// The final partial page reports no more.
	msgs, hasMore, err = p.History(context.Background(), "alice", "chat-1", 3, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hasMore {
		t.Errorf("partial page must report hasMore=false")
	}
	if len(msgs) != 1 || msgs[0].Content != "a" {
		t.Errorf("expected oldest message on last page, got %v", msgs)
	}
}

func TestHistoryRequiresParticipant(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-1", "alice", "bob")
	p := NewPipeline(store, registry.New(), nil)

	_, _, err := p.History(context.Background(), "mallory", "chat-1", 1, 10)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestHistoryMarksReadIdempotently(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-1", "alice", "bob")
	now := time.Now()
	seedMessage(store, "m1", "chat-1", "bob", "one", now)
	seedMessage(store, "m2", "chat-1", "bob", "two", now.Add(time.Second))
	seedMessage(store, "m3", "chat-1", "alice", "mine", now.Add(2*time.Second))
	p := NewPipeline(store, registry.New(), nil)

	msgs, _, err := p.History(context.Background(), "alice", "chat-1", 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One receipt per message authored by someone else, none for alice's own.
	if got := store.receiptCount(); got != 2 {
		t.Fatalf("expected 2 receipts after first fetch, got %d", got)
	}

	// The returned page already shows alice's receipts on bob's messages.
	for _, m := range msgs {
		if m.SenderID != "bob" {
			continue
		}
		if len(m.ReadBy) != 1 || m.ReadBy[0].UserID != "alice" {
			t.Errorf("message %s should carry alice's receipt, got %v", m.ID, m.ReadBy)
		}
	}

	// Fetching again does not duplicate receipts.
	if _, _, err := p.History(context.Background(), "alice", "chat-1", 1, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.receiptCount(); got != 2 {
		t.Fatalf("repeat fetch duplicated receipts: %d", got)
	}
}

func TestHistoryExcludesDeletedMessages(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-1", "alice", "bob")
	now := time.Now()
	seedMessage(store, "m1", "chat-1", "bob", "kept", now)
	seedMessage(store, "m2", "chat-1", "bob", "gone", now.Add(time.Second))
	store.messages["m2"].IsDeleted = true
	p := NewPipeline(store, registry.New(), nil)

	msgs, _, err := p.History(context.Background(), "alice", "chat-1", 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "kept" {
		t.Errorf("deleted messages must be excluded from reads, got %v", msgs)
	}
}
