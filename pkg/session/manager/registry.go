// Package manager implements the session manager: the registry of live
// sessions keyed by (Pseudonym, SessionID), the 3-way start handshake, the
// carrier dispatch loop that demultiplexes inbound packets to the right
// session's ingress queue, and orderly shutdown.
package manager

import (
	"fmt"
	"sync"

	"github.com/hoprnet/hopr-session-go/pkg/session"
)

// Key identifies one session within the registry: its peer and its locally
// assigned session id.
type Key struct {
	Pseudonym session.Pseudonym
	SessionID session.SessionID
}

// Registry is the manager's single shared piece of cross-session state: a
// map from Key to the live Session. Unlike the per-session state it
// protects, the registry is touched from every session's task plus the
// dispatcher, so all access goes through one mutex; at the scale this
// package targets a read/write split buys nothing a plain mutex doesn't
// already give for O(log n) map operations.
type Registry struct {
	mu       sync.Mutex
	sessions map[Key]*session.Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[Key]*session.Session)}
}

// Register inserts s under key, failing if the key is already taken.
func (r *Registry) Register(key Key, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[key]; exists {
		return fmt.Errorf("manager: session %+v already registered", key)
	}
	r.sessions[key] = s
	return nil
}

// Get looks up the session registered under key.
func (r *Registry) Get(key Key) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Remove deletes the session registered under key, if any.
func (r *Registry) Remove(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
}

// HasSessionID reports whether any session for pseudonym currently holds id,
// used to keep newly allocated ids disjoint from existing ones.
func (r *Registry) HasSessionID(pseudonym session.Pseudonym, id session.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[Key{Pseudonym: pseudonym, SessionID: id}]
	return ok
}

// List returns a snapshot of every currently registered session.
func (r *Registry) List() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
