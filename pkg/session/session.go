// Package session holds the per-peer state of the skyarena transport.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/skycoin/skyarena/pkg/message"
	"github.com/skycoin/skyarena/pkg/wire"
)

// Session is the state kept for one remote endpoint. On a hosting side there
// is one Session per peer; a client has a single Session for its server.
//
// Apart from creation, a Session is only touched from the tick goroutine.
type Session struct {
	ID       uuid.UUID
	Endpoint wire.Endpoint
	Created  time.Time

	LastReceived time.Time
	LastSent     time.Time

	// Handshaked is set once the handshake for this peer completed.
	Handshaked bool

	// Details holds carrier specific connection details, if any.
	Details interface{}

	Inflight *Inflight

	recv     Sequencer
	nextSend uint32
	outbox   []message.Message
}

// New creates a Session for ep.
func New(ep wire.Endpoint, now time.Time) *Session {
	return &Session{
		ID:           uuid.New(),
		Endpoint:     ep,
		Created:      now,
		LastReceived: now,
		LastSent:     now,
		Inflight:     NewInflight(),
	}
}

// Enqueue appends m to the outbound queue.
func (s *Session) Enqueue(m message.Message) {
	s.outbox = append(s.outbox, m)
}

// Pending returns the number of queued outbound messages.
func (s *Session) Pending() int { return len(s.outbox) }

// TakeOutbox empties the outbound queue and returns its contents.
func (s *Session) TakeOutbox() []message.Message {
	out := s.outbox
	s.outbox = nil
	return out
}

// AssignIndex gives m the next send sequence Index. The counter wraps on overflow.
func (s *Session) AssignIndex(m message.Message) uint32 {
	idx := s.nextSend
	s.nextSend++
	m.MessageHeader().Index = idx
	return idx
}

// NextIndex returns the Index the next outbound message will get.
func (s *Session) NextIndex() uint32 { return s.nextSend }

// Observe runs loss detection for an inbound Index.
func (s *Session) Observe(index uint32) (lost bool) {
	return s.recv.Observe(index)
}

// ExpectedIndex returns the next expected inbound Index.
func (s *Session) ExpectedIndex() uint32 { return s.recv.Expected() }

// Idle reports whether neither direction saw traffic within d.
func (s *Session) Idle(now time.Time, d time.Duration) bool {
	return now.Sub(s.LastReceived) >= d && now.Sub(s.LastSent) >= d
}

// TimedOut reports whether nothing was received within d.
func (s *Session) TimedOut(now time.Time, d time.Duration) bool {
	return now.Sub(s.LastReceived) > d
}
