// Package carrier implements the byte pipes beneath the skyarena transport.
// A carrier moves opaque payloads between endpoints and knows nothing about
// messages; the UDP and WebSocket carriers are interchangeable.
package carrier

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/skycoin/skyarena/pkg/wire"
)

// Carrier types.
const (
	UDPType       = "udp"
	WebSocketType = "websocket"
)

var (
	// ErrClosed is returned by operations on a closed carrier.
	ErrClosed = errors.New("carrier closed")

	// ErrUnknownPeer is returned when writing to an endpoint the carrier has
	// no connection to.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrNotConnected is returned when a carrier is used before Listen or Dial.
	ErrNotConnected = errors.New("carrier is not listening or connected")
)

// Packet is one payload received from a peer.
type Packet struct {
	From wire.Endpoint
	Data []byte
}

// Carrier is a datagram-like byte pipe.
//
// ReadPacket is called from a single listener goroutine; every other method
// is called from the tick goroutine.
type Carrier interface {
	// Type returns the carrier type.
	Type() string

	// Listen binds addr and starts accepting payloads from any peer.
	// A failure is reported as a *BindError.
	Listen(addr string) error

	// Dial connects to the server at addr and returns its endpoint.
	Dial(addr string) (wire.Endpoint, error)

	// ReadPacket blocks until a payload arrives. It returns ErrClosed after Close.
	ReadPacket() (Packet, error)

	// WriteTo sends one payload to ep.
	WriteTo(p []byte, ep wire.Endpoint) error

	// Drop forgets any per-peer connection state held for ep.
	Drop(ep wire.Endpoint) error

	// LocalEndpoint returns the bound local endpoint.
	LocalEndpoint() wire.Endpoint

	// Close releases the carrier resources and unblocks ReadPacket.
	Close() error
}

// BindError reports that a carrier could not bind or connect to an address.
type BindError struct {
	Carrier string
	Addr    string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s carrier: cannot bind %s: %v", e.Carrier, e.Addr, e.Err)
}

// Cause returns the underlying error.
func (e *BindError) Cause() error { return e.Err }

// Unwrap returns the underlying error.
func (e *BindError) Unwrap() error { return e.Err }

// IsBindError reports whether err is or wraps a *BindError.
func IsBindError(err error) bool {
	for err != nil {
		if _, ok := err.(*BindError); ok {
			return true
		}
		c, ok := err.(interface{ Cause() error })
		if !ok {
			return false
		}
		err = c.Cause()
	}
	return false
}

// New returns a carrier of the given type.
func New(typ string) (Carrier, error) {
	switch typ {
	case UDPType:
		return NewUDP(), nil
	case WebSocketType:
		return NewWebSocket(), nil
	default:
		return nil, errors.Errorf("unknown carrier type %q", typ)
	}
}
