package transport

import (
	"fmt"

	"github.com/skycoin/skyarena/pkg/message"
	"github.com/skycoin/skyarena/pkg/userinfo"
	"github.com/skycoin/skyarena/pkg/wire"
)

// State is the connection state of an Engine.
type State int32

// Connection states.
const (
	StateNone State = iota
	StateHosting
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateHosting:
		return "HOSTING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("UNKNOWN:%d", int32(s))
	}
}

// Phase tells which step of establishing a connection an event reports.
type Phase int

// Connection phases.
const (
	// PhaseConnected is reported once the carrier connection exists.
	PhaseConnected Phase = iota

	// PhaseHandshake is reported once the handshake completed.
	PhaseHandshake
)

func (p Phase) String() string {
	switch p {
	case PhaseConnected:
		return "CONNECTED"
	case PhaseHandshake:
		return "HANDSHAKE"
	default:
		return fmt.Sprintf("UNKNOWN:%d", int(p))
	}
}

// Events are the callbacks an Engine reports to the embedding application.
// Every callback is optional. Callbacks run on the goroutine that called
// the Engine method, after the Engine released its lock, so they may call
// back into the Engine.
type Events struct {
	// ClientConnecting is fired by a host for a new peer.
	ClientConnecting func(ep wire.Endpoint, phase Phase)

	// ClientDisconnected is fired by a host once for every evicted peer.
	ClientDisconnected func(ep wire.Endpoint, reason string)

	// ConnectedToServer is fired by a client.
	ConnectedToServer func(phase Phase)

	// DisconnectedFromServer is fired by a client exactly once per connection.
	DisconnectedFromServer func(reason string)

	// MessageReceived is fired for every application message.
	MessageReceived func(m message.Message, from wire.Endpoint)

	// UserInfoUpdated is fired whenever a user info record is refreshed.
	UserInfoUpdated func(r userinfo.Record)
}

// Counters are the traffic counters of an Engine.
type Counters struct {
	SentBytes       uint64
	ReceivedBytes   uint64
	ReceivedPackets uint64
	LostPackets     uint64
	Retransmissions uint64
	FramingErrors   uint64
}

func (e *Engine) clientConnecting(ep wire.Endpoint, phase Phase) {
	if f := e.events.ClientConnecting; f != nil {
		e.pending = append(e.pending, func() { f(ep, phase) })
	}
}

func (e *Engine) clientDisconnected(ep wire.Endpoint, reason string) {
	if f := e.events.ClientDisconnected; f != nil {
		e.pending = append(e.pending, func() { f(ep, reason) })
	}
}

func (e *Engine) connectedToServer(phase Phase) {
	if f := e.events.ConnectedToServer; f != nil {
		e.pending = append(e.pending, func() { f(phase) })
	}
}

func (e *Engine) disconnectedFromServer(reason string) {
	if f := e.events.DisconnectedFromServer; f != nil {
		e.pending = append(e.pending, func() { f(reason) })
	}
}

func (e *Engine) messageReceived(m message.Message, from wire.Endpoint) {
	if f := e.events.MessageReceived; f != nil {
		e.pending = append(e.pending, func() { f(m, from) })
	}
}

func (e *Engine) userInfoUpdated(r userinfo.Record) {
	if f := e.events.UserInfoUpdated; f != nil {
		e.pending = append(e.pending, func() { f(r) })
	}
}
