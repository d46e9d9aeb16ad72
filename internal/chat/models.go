// Package chat holds the persisted conversation entities (Chat, Message,
// read receipts) and their PostgreSQL store. The realtime delivery layer
// reads and writes these records; it never caches them.
package chat

import (
	"time"

	"github.com/linkhub/realtime/internal/errs"
)

// Chat is a one-to-one conversation. Exactly one row exists per unordered
// participant pair; ParticipantA sorts lexicographically before ParticipantB
// so the pair doubles as the uniqueness key.
type Chat struct {
	ID              string     `json:"id"`
	ParticipantA    string     `json:"-"`
	ParticipantB    string     `json:"-"`
	Participants    []string   `json:"participants"`
	LastMessageID   string     `json:"lastMessage,omitempty"`
	LastMessageTime *time.Time `json:"lastMessageTime,omitempty"`
	LastMessage     *Message   `json:"lastMessagePreview,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// HasParticipant reports whether userID is a member of this chat.
func (c *Chat) HasParticipant(userID string) bool {
	return userID == c.ParticipantA || userID == c.ParticipantB
}

// OtherParticipant returns the participant that is not userID, or "" if
// userID is not a member.
func (c *Chat) OtherParticipant(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}

// ReadReceipt records that a user has seen a message.
type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is a single chat message. IsDeleted is a soft-delete flag: deleted
// messages are excluded from reads but stay in storage for read-state and
// audit purposes.
type Message struct {
	ID          string        `json:"id"`
	ChatID      string        `json:"chatId"`
	SenderID    string        `json:"senderId"`
	Content     string        `json:"content"`
	MessageType string        `json:"messageType"`
	ReadBy      []ReadReceipt `json:"readBy"`
	IsDeleted   bool          `json:"isDeleted"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// SortPair orders two participant ids deterministically so that every caller
// derives the same (a, b) key for the same unordered pair. It rejects a
// self-chat and blank ids.
func SortPair(x, y string) (string, string, error) {
	if x == "" || y == "" {
		return "", "", errs.Validationf("chat requires two participant ids")
	}
	if x == y {
		return "", "", errs.Validationf("chat requires two distinct participants")
	}
	if x < y {
		return x, y, nil
	}
	return y, x, nil
}
