package relay

import (
	"sort"
	"sync"
)

// Peer is a live connection the registry can deliver to.
type Peer interface {
	// Send queues payload without blocking. It reports false when the
	// payload could not be queued.
	Send(payload []byte) bool
	// Close ends the connection with a websocket close code.
	Close(code int, reason string)
}

// Registry maps users to their live connection and sessions to their
// participants. A user has at most one live connection; a session entry
// exists only while it has participants.
type Registry struct {
	mu       sync.RWMutex
	conns    map[uint]Peer
	sessions map[uint]map[uint]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[uint]Peer),
		sessions: make(map[uint]map[uint]struct{}),
	}
}

// Register makes p the connection for userID and returns the connection it
// replaced, if any.
func (r *Registry) Register(userID uint, p Peer) Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[userID]
	r.conns[userID] = p
	if prev == p {
		return nil
	}
	return prev
}

// Unregister removes p if it is still the connection for userID. It reports
// whether anything was removed.
func (r *Registry) Unregister(userID uint, p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[userID]; !ok || cur != p {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Client returns the live connection for userID, or nil.
func (r *Registry) Client(userID uint) Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[userID]
}

// Join adds userID to a session. It reports whether the user was newly
// added; joining twice leaves a single entry.
func (r *Registry) Join(sessionID, userID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.sessions[sessionID]
	if !ok {
		members = make(map[uint]struct{})
		r.sessions[sessionID] = members
	}
	if _, dup := members[userID]; dup {
		return false
	}
	members[userID] = struct{}{}
	return true
}

// Leave removes userID from a session, deleting the entry once empty. It
// reports whether the user was a participant and how many remain.
func (r *Registry) Leave(sessionID, userID uint) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(sessionID, userID)
}

func (r *Registry) leaveLocked(sessionID, userID uint) (bool, int) {
	members, ok := r.sessions[sessionID]
	if !ok {
		return false, 0
	}
	if _, ok := members[userID]; !ok {
		return false, len(members)
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.sessions, sessionID)
	}
	return true, len(members)
}

// LeaveAll removes userID from every session and returns, in ascending
// order, the sessions that still have participants.
func (r *Registry) LeaveAll(userID uint) []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	var remaining []uint
	for sessionID, members := range r.sessions {
		if _, ok := members[userID]; !ok {
			continue
		}
		if _, left := r.leaveLocked(sessionID, userID); left > 0 {
			remaining = append(remaining, sessionID)
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })
	return remaining
}

// Participants returns the users joined to a session in ascending order.
func (r *Registry) Participants(sessionID uint) []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.sessions[sessionID]
	out := make([]uint, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsParticipant reports whether userID has joined sessionID.
func (r *Registry) IsParticipant(sessionID, userID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID][userID]
	return ok
}

// HasSession reports whether a session entry exists.
func (r *Registry) HasSession(sessionID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Sessions returns the sessions userID has joined in ascending order.
func (r *Registry) Sessions(userID uint) []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []uint
	for sessionID, members := range r.sessions {
		if _, ok := members[userID]; ok {
			out = append(out, sessionID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// SessionCount returns the number of sessions with participants.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Peers returns every live connection.
func (r *Registry) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.conns))
	for _, p := range r.conns {
		out = append(out, p)
	}
	return out
}
