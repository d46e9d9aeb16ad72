// Package typing relays ephemeral typing indicators between the members of a
// chat room. Nothing here is persisted or guaranteed: a dropped signal
// self-heals on the next keystroke, and the sending client clears its own
// indicator after an inactivity timeout.
package typing

import (
	"log"

	"github.com/linkhub/realtime/internal/metrics"
	"github.com/linkhub/realtime/internal/protocol"
	"github.com/linkhub/realtime/internal/rooms"
)

// Relay fans typing signals out to room members, excluding the sender's own
// connection.
type Relay struct {
	rooms *rooms.Router
}

// NewRelay creates a Relay over the given room router.
func NewRelay(r *rooms.Router) *Relay {
	return &Relay{rooms: r}
}

// Typing broadcasts userTyping to everyone in the chat room except the
// sending connection.
func (r *Relay) Typing(chatID, userID, senderConnID string) {
	data, err := protocol.NewServerMessage(protocol.TypeUserTyping, protocol.UserTypingMsg{
		UserID: userID,
		ChatID: chatID,
	})
	if err != nil {
		log.Printf("typing: failed to build userTyping chat=%s: %v", chatID, err)
		return
	}
	r.rooms.Broadcast(chatID, data, senderConnID)
	metrics.TypingSignals.WithLabelValues("typing").Inc()
}

// StopTyping broadcasts userStoppedTyping to everyone in the chat room
// except the sending connection.
func (r *Relay) StopTyping(chatID, userID, senderConnID string) {
	data, err := protocol.NewServerMessage(protocol.TypeUserStoppedTyping, protocol.UserStoppedTypingMsg{
		UserID: userID,
		ChatID: chatID,
	})
	if err != nil {
		log.Printf("typing: failed to build userStoppedTyping chat=%s: %v", chatID, err)
		return
	}
	r.rooms.Broadcast(chatID, data, senderConnID)
	metrics.TypingSignals.WithLabelValues("stopTyping").Inc()
}
