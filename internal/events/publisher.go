// Package events publishes the realtime core's authoritative events to NATS
// for downstream consumers (notification fan-out, search indexing, analytics).
// Publishing is best-effort: a failed publish is logged and never fails the
// user-visible operation that produced it.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/linkhub/realtime/internal/chat"
)

// NATS subjects carrying the core's event feed.
const (
	SubjectPresenceOnline  = "presence.online"
	SubjectPresenceOffline = "presence.offline"
	SubjectMessageCreated  = "chat.message.created"
	SubjectMessageDeleted  = "chat.message.deleted"
)

// PresenceEvent is the payload for presence.online / presence.offline.
type PresenceEvent struct {
	UserID string `json:"userId"`
	At     int64  `json:"at"` // unix timestamp
}

// MessageEvent is the payload for chat.message.created.
type MessageEvent struct {
	ChatID  string       `json:"chatId"`
	Message chat.Message `json:"message"`
}

// DeletionEvent is the payload for chat.message.deleted.
type DeletionEvent struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	At        int64  `json:"at"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "linkhub-realtime",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Publisher wraps the NATS connection behind the event-feed methods the
// presence and delivery layers call.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS with the given config and returns a ready
// publisher. It returns an error if the initial connection fails.
func NewPublisher(config Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return &Publisher{conn: nc}, nil
}

// UserOnline publishes a presence.online event.
func (p *Publisher) UserOnline(userID string) {
	p.publish(SubjectPresenceOnline, PresenceEvent{UserID: userID, At: time.Now().Unix()})
}

// UserOffline publishes a presence.offline event.
func (p *Publisher) UserOffline(userID string) {
	p.publish(SubjectPresenceOffline, PresenceEvent{UserID: userID, At: time.Now().Unix()})
}

// MessageCreated publishes a chat.message.created event.
func (p *Publisher) MessageCreated(m *chat.Message) {
	p.publish(SubjectMessageCreated, MessageEvent{ChatID: m.ChatID, Message: *m})
}

// MessageDeleted publishes a chat.message.deleted event.
func (p *Publisher) MessageDeleted(chatID, messageID string) {
	p.publish(SubjectMessageDeleted, DeletionEvent{
		ChatID:    chatID,
		MessageID: messageID,
		At:        time.Now().Unix(),
	})
}

// publish marshals and sends one event. Failures are logged and swallowed.
func (p *Publisher) publish(subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[nats] marshal %s: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("[nats] publish %s: %v", subject, err)
	}
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] publisher closed")
}
