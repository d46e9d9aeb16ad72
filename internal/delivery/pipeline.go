// Package delivery implements the send-message use case: persist the
// message, move the chat's last-message pointer, then fan the message out to
// every live handle of each participant. Persistence is authoritative;
// realtime fan-out is fire-and-forget, at-most-once per handle, and offline
// participants receive nothing.
package delivery

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linkhub/realtime/internal/chat"
	"github.com/linkhub/realtime/internal/errs"
	"github.com/linkhub/realtime/internal/metrics"
	"github.com/linkhub/realtime/internal/protocol"
	"github.com/linkhub/realtime/internal/registry"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// Store is the persistence surface the pipeline drives. *chat.Store
// implements it; tests substitute an in-memory fake.
type Store interface {
	GetChat(ctx context.Context, chatID string) (*chat.Chat, error)
	InsertMessage(ctx context.Context, m *chat.Message) error
	TouchLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error
	GetMessage(ctx context.Context, messageID string) (*chat.Message, error)
	ListMessages(ctx context.Context, chatID string, page, limit int) ([]chat.Message, error)
	MarkRead(ctx context.Context, chatID, readerID string) (int64, error)
	SoftDelete(ctx context.Context, messageID string) error
}

// EventSink receives authoritative message events for downstream consumers.
// May be nil when the event feed is disabled.
type EventSink interface {
	MessageCreated(m *chat.Message)
	MessageDeleted(chatID, messageID string)
}

// Pipeline orchestrates message persistence and realtime fan-out.
type Pipeline struct {
	store  Store
	reg    *registry.Registry
	events EventSink
}

// NewPipeline wires the pipeline to its store, the connection registry, and
// an optional event sink.
func NewPipeline(store Store, reg *registry.Registry, events EventSink) *Pipeline {
	return &Pipeline{store: store, reg: reg, events: events}
}

// Send validates, persists, and fans out a message. The returned message is
// the persisted record. Ordering guarantee: the message is durable before
// any handle sees it; a persistence failure aborts with no partial fan-out.
func (p *Pipeline) Send(ctx context.Context, senderID, chatID, content, messageType string) (*chat.Message, error) {
	start := time.Now()

	content = strings.TrimSpace(content)
	if err := chat.ValidateContent(content); err != nil {
		return nil, err
	}
	if messageType == "" {
		messageType = "text"
	}

	c, err := p.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(senderID) {
		return nil, errs.NotFoundf("user %s is not a participant of chat %s", senderID, chatID)
	}

	m := &chat.Message{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     content,
		MessageType: messageType,
		ReadBy:      []chat.ReadReceipt{},
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.store.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	metrics.MessagesPersisted.Inc()

	// The pointer update is allowed to lag the insert; a failure here must
	// not fail the send, or a client retry would duplicate the message.
	if err := p.store.TouchLastMessage(ctx, chatID, m.ID, m.CreatedAt); err != nil {
		log.Printf("delivery: last-message pointer update failed chat=%s msg=%s: %v", chatID, m.ID, err)
	}

	p.fanOut(c, senderID, m)

	if p.events != nil {
		p.events.MessageCreated(m)
	}
	metrics.SendLatency.Observe(time.Since(start).Seconds())
	return m, nil
}

// fanOut pushes newMessage to every live handle of each other participant
// and messageSent to the sender's own handles. Write errors on individual
// dead handles are skipped; they never abort delivery to the rest.
func (p *Pipeline) fanOut(c *chat.Chat, senderID string, m *chat.Message) {
	newMsg, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		ChatID:  m.ChatID,
		Message: *m,
	})
	if err != nil {
		log.Printf("delivery: failed to build newMessage for %s: %v", m.ID, err)
		return
	}

	for _, participant := range c.Participants {
		if participant == senderID {
			continue
		}
		for _, h := range p.reg.HandlesFor(participant) {
			if err := h.WriteMessage(newMsg); err != nil {
				continue
			}
			metrics.EventsDelivered.WithLabelValues(protocol.TypeNewMessage).Inc()
		}
	}

	sent, err := protocol.NewServerMessage(protocol.TypeMessageSent, protocol.MessageSentMsg{
		ChatID:  m.ChatID,
		Message: *m,
	})
	if err != nil {
		log.Printf("delivery: failed to build messageSent for %s: %v", m.ID, err)
		return
	}
	for _, h := range p.reg.HandlesFor(senderID) {
		if err := h.WriteMessage(sent); err != nil {
			continue
		}
		metrics.EventsDelivered.WithLabelValues(protocol.TypeMessageSent).Inc()
	}
}

// Delete soft-deletes a message. Only the original sender may delete; on
// success every participant's live handles receive one messageDeleted event,
// whether or not they have the room open.
func (p *Pipeline) Delete(ctx context.Context, requesterID, messageID string) error {
	m, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != requesterID {
		return errs.Forbiddenf("only the sender can delete message %s", messageID)
	}
	if m.IsDeleted {
		return nil // already deleted, nothing to broadcast
	}

	if err := p.store.SoftDelete(ctx, messageID); err != nil {
		return err
	}

	c, err := p.store.GetChat(ctx, m.ChatID)
	if err != nil {
		log.Printf("delivery: chat lookup for delete broadcast failed chat=%s: %v", m.ChatID, err)
		return nil // the delete itself succeeded
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessageDeleted, protocol.MessageDeletedMsg{
		ChatID:    m.ChatID,
		MessageID: messageID,
	})
	if err != nil {
		log.Printf("delivery: failed to build messageDeleted for %s: %v", messageID, err)
		return nil
	}
	for _, participant := range c.Participants {
		for _, h := range p.reg.HandlesFor(participant) {
			if err := h.WriteMessage(data); err != nil {
				continue
			}
			metrics.EventsDelivered.WithLabelValues(protocol.TypeMessageDeleted).Inc()
		}
	}

	if p.events != nil {
		p.events.MessageDeleted(m.ChatID, messageID)
	}
	return nil
}

// History returns one page of a chat's messages oldest-first, plus whether
// more pages exist. As a side effect it appends a read receipt for the
// requester to every unread message authored by someone else; the append is
// idempotent, so repeated fetches never duplicate receipts.
func (p *Pipeline) History(ctx context.Context, requesterID, chatID string, page, limit int) ([]chat.Message, bool, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	c, err := p.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, false, err
	}
	if !c.HasParticipant(requesterID) {
		return nil, false, errs.NotFoundf("user %s is not a participant of chat %s", requesterID, chatID)
	}

	// Mark first so the returned page reflects the requester's own receipts.
	// Read-state is best-effort on fetch; a failure must not hide history.
	if _, err := p.store.MarkRead(ctx, chatID, requesterID); err != nil {
		log.Printf("delivery: mark read failed chat=%s user=%s: %v", chatID, requesterID, err)
	}

	msgs, err := p.store.ListMessages(ctx, chatID, page, limit)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(msgs) == limit

	// Storage order is newest-first; the contract to callers is oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, hasMore, nil
}
