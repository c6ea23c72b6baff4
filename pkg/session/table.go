package session

import (
	"sort"
	"sync"
	"time"

	"github.com/skycoin/skyarena/pkg/wire"
)

// Table maps endpoints to sessions. It is safe for concurrent use; iteration
// works on a snapshot so that entries may be added while a tick evicts others.
type Table struct {
	sessions map[wire.Endpoint]*Session
	mu       sync.RWMutex
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{sessions: make(map[wire.Endpoint]*Session)}
}

// GetOrCreate returns the session for ep, creating it if needed.
// The returned bool is true if the session was created.
func (t *Table) GetOrCreate(ep wire.Endpoint, now time.Time) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[ep]; ok {
		return s, false
	}
	s := New(ep, now)
	t.sessions[ep] = s
	return s, true
}

// Get returns the session for ep.
func (t *Table) Get(ep wire.Endpoint) (*Session, bool) {
	t.mu.RLock()
	s, ok := t.sessions[ep]
	t.mu.RUnlock()
	return s, ok
}

// Remove deletes and returns the session for ep.
func (t *Table) Remove(ep wire.Endpoint) (*Session, bool) {
	t.mu.Lock()
	s, ok := t.sessions[ep]
	delete(t.sessions, ep)
	t.mu.Unlock()
	return s, ok
}

// Sessions returns a snapshot of all sessions ordered by creation time.
func (t *Table) Sessions() []*Session {
	t.mu.RLock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].Endpoint.String() < out[j].Endpoint.String()
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

// Endpoints returns the endpoints of all sessions.
func (t *Table) Endpoints() []wire.Endpoint {
	sessions := t.Sessions()
	out := make([]wire.Endpoint, len(sessions))
	for i, s := range sessions {
		out[i] = s.Endpoint
	}
	return out
}

// Len returns the number of sessions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Clear removes every session.
func (t *Table) Clear() {
	t.mu.Lock()
	t.sessions = make(map[wire.Endpoint]*Session)
	t.mu.Unlock()
}
