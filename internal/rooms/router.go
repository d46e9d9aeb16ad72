// Package rooms implements per-chat subscription groups. A room is a purely
// in-memory targeting optimization for audience-scoped ephemeral signals
// (typing indicators); it holds no authority over message persistence and is
// never written to storage.
package rooms

import "sync"

// Handle is the writable side of a live connection, as registered by the
// transport layer.
type Handle interface {
	WriteMessage(data []byte) error
}

// Router tracks which connections are subscribed to which chat rooms.
// Membership is keyed by connection id, so multiple tabs of the same user
// can be in a room independently. A reverse index supports pruning all of a
// connection's memberships on disconnect without scanning every room.
type Router struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Handle   // chatID -> connID -> handle
	byConn map[string]map[string]struct{} // connID -> set of chatIDs
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{
		rooms:  make(map[string]map[string]Handle),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join subscribes a connection to a chat room. Joining a room the connection
// is already in is a no-op.
func (r *Router) Join(chatID, connID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[chatID]
	if !ok {
		members = make(map[string]Handle)
		r.rooms[chatID] = members
	}
	members[connID] = h

	chats, ok := r.byConn[connID]
	if !ok {
		chats = make(map[string]struct{})
		r.byConn[connID] = chats
	}
	chats[chatID] = struct{}{}
}

// Leave unsubscribes a connection from a chat room. Leaving a room the
// connection is not in is a no-op.
func (r *Router) Leave(chatID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(chatID, connID)
}

// LeaveAll removes a connection from every room it joined. Called on
// disconnect.
func (r *Router) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for chatID := range r.byConn[connID] {
		r.leaveLocked(chatID, connID)
	}
}

func (r *Router) leaveLocked(chatID, connID string) {
	if members, ok := r.rooms[chatID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, chatID)
		}
	}
	if chats, ok := r.byConn[connID]; ok {
		delete(chats, chatID)
		if len(chats) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// Broadcast delivers a payload to every current member of a room, optionally
// excluding one connection (the sender). Delivery is best-effort: write
// errors on individual handles are ignored, dead connections are cleaned up
// by the transport's own read/heartbeat paths. Returns the number of handles
// written to.
func (r *Router) Broadcast(chatID string, data []byte, excludeConnID string) int {
	r.mu.RLock()
	targets := make([]Handle, 0, len(r.rooms[chatID]))
	for connID, h := range r.rooms[chatID] {
		if connID == excludeConnID {
			continue
		}
		targets = append(targets, h)
	}
	r.mu.RUnlock()

	for _, h := range targets {
		_ = h.WriteMessage(data)
	}
	return len(targets)
}

// Members returns the current size of a room.
func (r *Router) Members(chatID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[chatID])
}
