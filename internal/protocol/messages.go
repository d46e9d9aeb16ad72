// Package protocol defines the WebSocket message types and structures
// exchanged between clients and the realtime server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator. Field names are camelCase to match the platform's public
// wire contract.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/linkhub/realtime/internal/chat"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeRegister     = "register"
	TypeUserActivity = "userActivity"
	TypeJoinChat     = "joinChat"
	TypeLeaveChat    = "leaveChat"
	TypeTyping       = "typing"
	TypeStopTyping   = "stopTyping"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeInitialOnlineUsers = "initialOnlineUsers"
	TypeUserOnline         = "userOnline"
	TypeUserOffline        = "userOffline"
	TypeUserTyping         = "userTyping"
	TypeUserStoppedTyping  = "userStoppedTyping"
	TypeNewMessage         = "newMessage"
	TypeMessageSent        = "messageSent"
	TypeMessageDeleted     = "messageDeleted"
	TypeError              = "error"
	TypePong               = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// RegisterMsg binds the connection to a logical user identity. It must be the
// first message a client sends after the WebSocket upgrade.
type RegisterMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// UserActivityMsg refreshes the user's activity timestamp. It never triggers
// a presence broadcast.
type UserActivityMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// JoinChatMsg subscribes the connection to a chat room.
type JoinChatMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
}

// LeaveChatMsg unsubscribes the connection from a chat room.
type LeaveChatMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
}

// TypingMsg signals that the user started typing in a chat.
type TypingMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// StopTypingMsg signals that the user stopped typing in a chat. The client is
// responsible for emitting it after an inactivity timeout; the server never
// synthesizes one.
type StopTypingMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// InitialOnlineUsersMsg is unicast to a freshly registered client with a
// snapshot of every currently online user, so the client never has to poll.
type InitialOnlineUsersMsg struct {
	Type    string   `json:"type"`
	UserIDs []string `json:"userIds"`
}

// UserOnlineMsg is broadcast when a user's first connection registers.
type UserOnlineMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// UserOfflineMsg is broadcast when a user's last connection goes away.
type UserOfflineMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// UserTypingMsg relays a typing signal to the other members of a chat room.
type UserTypingMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
}

// UserStoppedTypingMsg relays a stopped-typing signal to the other members of
// a chat room.
type UserStoppedTypingMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
}

// NewMessageMsg delivers a freshly persisted message to a recipient handle.
type NewMessageMsg struct {
	Type    string       `json:"type"`
	ChatID  string       `json:"chatId"`
	Message chat.Message `json:"message"`
}

// MessageSentMsg confirms a send to the sender's own handles so that a sender
// with multiple open sessions stays in sync.
type MessageSentMsg struct {
	Type    string       `json:"type"`
	ChatID  string       `json:"chatId"`
	Message chat.Message `json:"message"`
}

// MessageDeletedMsg notifies every participant handle that a message was
// soft-deleted.
type MessageDeletedMsg struct {
	Type      string `json:"type"`
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeRegister:
		var m RegisterMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUserActivity:
		var m UserActivityMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinChat:
		var m JoinChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChat:
		var m LeaveChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopTyping:
		var m StopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs above.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
