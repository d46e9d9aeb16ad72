package presence

import (
	"context"
	"log"
	"time"

	"github.com/linkhub/realtime/internal/metrics"
	"github.com/linkhub/realtime/internal/protocol"
	"github.com/linkhub/realtime/internal/registry"
)

// mirrorTimeout bounds the best-effort presence writes so a slow Redis never
// stalls a connect/disconnect handler.
const mirrorTimeout = 3 * time.Second

// Caster is the broadcast surface of the transport layer. BroadcastExcept
// delivers a payload to every connected client except one connection.
type Caster interface {
	BroadcastExcept(excludeConnID string, data []byte)
}

// Mirror is the persisted presence record store. Writes to it are advisory:
// failures are logged and never fail the broadcast.
type Mirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	RefreshActivity(ctx context.Context, userID string) error
}

// EventSink receives presence transitions for downstream consumers. May be
// nil when the event feed is disabled.
type EventSink interface {
	UserOnline(userID string)
	UserOffline(userID string)
}

// Broadcaster converts registry transitions into userOnline/userOffline
// broadcasts, bootstraps newly registered clients with the online-set
// snapshot, and writes through to the presence mirror.
type Broadcaster struct {
	reg    *registry.Registry
	caster Caster
	mirror Mirror
	events EventSink
}

// NewBroadcaster wires a Broadcaster to the registry, the transport
// broadcast surface, the presence mirror, and an optional event sink.
func NewBroadcaster(reg *registry.Registry, caster Caster, mirror Mirror, events EventSink) *Broadcaster {
	return &Broadcaster{
		reg:    reg,
		caster: caster,
		mirror: mirror,
		events: events,
	}
}

// HandleRegister binds a connection to a user. If this is the user's first
// live handle, a userOnline broadcast goes to every other connected client
// exactly once and the mirror is updated. Regardless of whether a transition
// fired, the registering connection receives the current online-set snapshot
// so it never has to poll.
func (b *Broadcaster) HandleRegister(connID string, h registry.Handle, userID string) {
	first, displacedUser, displacedOffline := b.reg.Register(userID, connID, h)

	// A reused connection id can evict another user's last handle; that user
	// still owes the rest of the network exactly one offline transition.
	if displacedOffline {
		b.broadcastOffline(displacedUser, connID)
	}

	if first {
		data, err := protocol.NewServerMessage(protocol.TypeUserOnline, protocol.UserOnlineMsg{
			UserID: userID,
		})
		if err != nil {
			log.Printf("presence: failed to build userOnline for user=%s: %v", userID, err)
		} else {
			b.caster.BroadcastExcept(connID, data)
		}
		metrics.PresenceTransitions.WithLabelValues("online").Inc()

		b.mirrorWrite(userID, "online", b.mirror.SetOnline)
		if b.events != nil {
			b.events.UserOnline(userID)
		}
	}

	snapshot, err := protocol.NewServerMessage(protocol.TypeInitialOnlineUsers, protocol.InitialOnlineUsersMsg{
		UserIDs: b.reg.OnlineUserIDs(),
	})
	if err != nil {
		log.Printf("presence: failed to build initialOnlineUsers for user=%s: %v", userID, err)
		return
	}
	if err := h.WriteMessage(snapshot); err != nil {
		log.Printf("presence: failed to send initialOnlineUsers conn=%s: %v", connID, err)
	}

	metrics.OnlineUsers.Set(float64(b.reg.OnlineCount()))
}

// HandleActivity refreshes the user's activity timestamp. Activity pings
// never generate a broadcast; only true online/offline transitions do.
func (b *Broadcaster) HandleActivity(userID string) {
	b.mirrorWrite(userID, "activity", b.mirror.RefreshActivity)
}

// HandleDisconnect unbinds a connection. If it was the user's last handle, a
// userOffline broadcast fires exactly once and the mirror records lastSeen.
// Returns the owning user id, if the connection was registered.
func (b *Broadcaster) HandleDisconnect(connID string) (string, bool) {
	userID, wentOffline, found := b.reg.Unregister(connID)
	if !found {
		return "", false
	}

	if wentOffline {
		b.broadcastOffline(userID, connID)
	}

	metrics.OnlineUsers.Set(float64(b.reg.OnlineCount()))
	return userID, true
}

// broadcastOffline fires the one offline transition for a user whose last
// handle just went away: the userOffline broadcast, the mirror write, and the
// event feed.
func (b *Broadcaster) broadcastOffline(userID, excludeConnID string) {
	data, err := protocol.NewServerMessage(protocol.TypeUserOffline, protocol.UserOfflineMsg{
		UserID: userID,
	})
	if err != nil {
		log.Printf("presence: failed to build userOffline for user=%s: %v", userID, err)
	} else {
		b.caster.BroadcastExcept(excludeConnID, data)
	}
	metrics.PresenceTransitions.WithLabelValues("offline").Inc()

	b.mirrorWrite(userID, "offline", b.mirror.SetOffline)
	if b.events != nil {
		b.events.UserOffline(userID)
	}
}

// mirrorWrite performs one best-effort mirror update. The broadcast is the
// primary contract; a failed mirror write is logged and swallowed.
func (b *Broadcaster) mirrorWrite(userID, op string, fn func(context.Context, string) error) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := fn(ctx, userID); err != nil {
		log.Printf("presence: mirror %s failed for user=%s: %v", op, userID, err)
	}
}
