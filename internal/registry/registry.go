// Package registry is the single source of truth for which users currently
// have live connections. It keeps a bidirectional index between user ids and
// connection ids so that delivery fan-out and disconnect cleanup are both
// O(1) lookups, never reverse scans.
package registry

import "sync"

// Handle is the writable side of a live connection. The transport layer's
// connection type satisfies it.
type Handle interface {
	WriteMessage(data []byte) error
}

// Registry maps a logical user identity to zero or more live connection
// handles. A user is online iff their handle set is non-empty. All mutations
// are serialized by a single mutex, which is the coarse single-writer
// discipline the expected load calls for.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Handle // userID -> connID -> handle
	byConn map[string]string            // connID -> userID
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]Handle),
		byConn: make(map[string]string),
	}
}

// Register binds a connection to a user. first is true iff this is the
// user's first live handle, i.e. the user just came online. Re-registering
// the same connection id is a no-op for the same user; if the connection was
// previously bound to a different user (rapid reconnect reusing an id), the
// old binding is removed first so no dangling handle survives. When that
// removal drops the displaced user's last handle, displacedUser names them
// and displacedOffline is true so the caller can fire the offline transition
// the displaced user never got to send.
func (r *Registry) Register(userID, connID string, h Handle) (first bool, displacedUser string, displacedOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok {
		if prev == userID {
			r.byUser[userID][connID] = h
			return false, "", false
		}
		if r.removeLocked(prev, connID) {
			displacedUser = prev
			displacedOffline = true
		}
	}

	handles, ok := r.byUser[userID]
	if !ok {
		handles = make(map[string]Handle)
		r.byUser[userID] = handles
	}
	first = len(handles) == 0
	handles[connID] = h
	r.byConn[connID] = userID
	return first, displacedUser, displacedOffline
}

// Unregister removes a connection and returns the owning user id, whether
// the user just went offline (last handle removed), and whether the
// connection was known at all.
func (r *Registry) Unregister(connID string) (userID string, wentOffline bool, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, found = r.byConn[connID]
	if !found {
		return "", false, false
	}
	wentOffline = r.removeLocked(userID, connID)
	return userID, wentOffline, true
}

// removeLocked deletes the binding and reports whether the user's handle set
// became empty. Caller must hold the write lock.
func (r *Registry) removeLocked(userID, connID string) bool {
	delete(r.byConn, connID)
	handles, ok := r.byUser[userID]
	if !ok {
		return false
	}
	delete(handles, connID)
	if len(handles) == 0 {
		delete(r.byUser, userID)
		return true
	}
	return false
}

// IsOnline reports whether the user has at least one live handle.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// UserFor returns the user id a connection is bound to.
func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.byConn[connID]
	return userID, ok
}

// HandlesFor returns a snapshot of the user's current handles. The slice is
// safe to iterate without holding the lock; writes to handles that died in
// the meantime simply fail and are skipped by callers.
func (r *Registry) HandlesFor(userID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]Handle, 0, len(r.byUser[userID]))
	for _, h := range r.byUser[userID] {
		handles = append(handles, h)
	}
	return handles
}

// OnlineUserIDs returns a snapshot of every user id with at least one live
// handle, used to answer a newly connected client's who's-online query.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	return ids
}

// OnlineCount returns the number of distinct online users.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
