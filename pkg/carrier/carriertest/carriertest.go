// Package carriertest provides an in-memory network of carriers for tests.
package carriertest

import (
	"net/netip"
	"sync"

	"github.com/pkg/errors"

	"github.com/skycoin/skyarena/pkg/carrier"
	"github.com/skycoin/skyarena/pkg/wire"
)

const (
	// Type is the carrier type reported by in-memory carriers.
	Type = "memory"

	inboxSize = 4096
)

// Sent is one payload written by a Carrier.
type Sent struct {
	To   wire.Endpoint
	Data []byte
}

// Network connects in-memory carriers by endpoint.
type Network struct {
	mu       sync.Mutex
	nodes    map[wire.Endpoint]*Carrier
	nextPort uint16
	filter   func(from, to wire.Endpoint, p []byte) bool
}

// NewNetwork creates an empty Network.
func NewNetwork() *Network {
	return &Network{
		nodes:    make(map[wire.Endpoint]*Carrier),
		nextPort: 40000,
	}
}

// SetFilter installs f to decide which payloads are delivered. A payload for
// which f returns false is silently lost. A nil f delivers everything.
func (n *Network) SetFilter(f func(from, to wire.Endpoint, p []byte) bool) {
	n.mu.Lock()
	n.filter = f
	n.mu.Unlock()
}

// NewCarrier creates a Carrier attached to n.
func (n *Network) NewCarrier() *Carrier {
	return &Carrier{
		net:   n,
		inbox: make(chan carrier.Packet, inboxSize),
		errs:  make(chan error, 1),
		done:  make(chan struct{}),
	}
}

func (n *Network) bind(c *Carrier, addr string) (wire.Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ep := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), 0)
	if addr != "" {
		var err error
		if ep, err = wire.ParseEndpoint(addr); err != nil {
			return wire.Endpoint{}, err
		}
	}
	if ep.Port() == 0 {
		for {
			n.nextPort++
			ep = netip.AddrPortFrom(ep.Addr(), n.nextPort)
			if _, ok := n.nodes[ep]; !ok {
				break
			}
		}
	}
	if _, ok := n.nodes[ep]; ok {
		return wire.Endpoint{}, errors.New("address already in use")
	}
	n.nodes[ep] = c
	return ep, nil
}

func (n *Network) unbind(ep wire.Endpoint) {
	n.mu.Lock()
	delete(n.nodes, ep)
	n.mu.Unlock()
}

func (n *Network) deliver(from, to wire.Endpoint, p []byte) {
	n.mu.Lock()
	dst := n.nodes[to]
	filter := n.filter
	n.mu.Unlock()

	if dst == nil || (filter != nil && !filter(from, to, p)) {
		return
	}
	select {
	case dst.inbox <- carrier.Packet{From: from, Data: p}:
	case <-dst.done:
	default:
	}
}

// Carrier is an in-memory carrier.Carrier.
type Carrier struct {
	net *Network

	mu     sync.Mutex
	local  wire.Endpoint
	remote wire.Endpoint
	dialed bool
	bound  bool
	sent   []Sent

	inbox    chan carrier.Packet
	errs     chan error
	done     chan struct{}
	doneOnce sync.Once
}

// Type implements carrier.Carrier.
func (c *Carrier) Type() string { return Type }

// Listen implements carrier.Carrier.
func (c *Carrier) Listen(addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bound {
		return &carrier.BindError{Carrier: Type, Addr: addr, Err: errors.New("already bound")}
	}
	ep, err := c.net.bind(c, addr)
	if err != nil {
		return &carrier.BindError{Carrier: Type, Addr: addr, Err: err}
	}
	c.local, c.bound = ep, true
	return nil
}

// Dial implements carrier.Carrier. The remote does not need to exist.
func (c *Carrier) Dial(addr string) (wire.Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bound {
		return wire.Endpoint{}, &carrier.BindError{Carrier: Type, Addr: addr, Err: errors.New("already bound")}
	}
	remote, err := wire.ParseEndpoint(addr)
	if err != nil {
		return wire.Endpoint{}, &carrier.BindError{Carrier: Type, Addr: addr, Err: err}
	}
	ep, err := c.net.bind(c, "")
	if err != nil {
		return wire.Endpoint{}, &carrier.BindError{Carrier: Type, Addr: addr, Err: err}
	}
	c.local, c.remote, c.dialed, c.bound = ep, remote, true, true
	return remote, nil
}

// ReadPacket implements carrier.Carrier.
func (c *Carrier) ReadPacket() (carrier.Packet, error) {
	select {
	case <-c.done:
		return carrier.Packet{}, carrier.ErrClosed
	default:
	}
	select {
	case p := <-c.inbox:
		return p, nil
	case err := <-c.errs:
		return carrier.Packet{}, err
	case <-c.done:
		return carrier.Packet{}, carrier.ErrClosed
	}
}

// WriteTo implements carrier.Carrier.
func (c *Carrier) WriteTo(p []byte, ep wire.Endpoint) error {
	select {
	case <-c.done:
		return carrier.ErrClosed
	default:
	}

	c.mu.Lock()
	if !c.bound {
		c.mu.Unlock()
		return carrier.ErrNotConnected
	}
	if c.dialed && ep != c.remote {
		c.mu.Unlock()
		return errors.Wrapf(carrier.ErrUnknownPeer, "memory write to %s", ep)
	}
	data := append([]byte(nil), p...)
	c.sent = append(c.sent, Sent{To: ep, Data: data})
	from := c.local
	c.mu.Unlock()

	c.net.deliver(from, ep, data)
	return nil
}

// Drop implements carrier.Carrier.
func (c *Carrier) Drop(wire.Endpoint) error { return nil }

// LocalEndpoint implements carrier.Carrier.
func (c *Carrier) LocalEndpoint() wire.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// Close implements carrier.Carrier.
func (c *Carrier) Close() error {
	c.doneOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.bound {
			c.net.unbind(c.local)
		}
		c.mu.Unlock()
	})
	return nil
}

// Fail makes the pending or next ReadPacket return err.
func (c *Carrier) Fail(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

// Inject queues p as if it was received from from.
func (c *Carrier) Inject(from wire.Endpoint, p []byte) {
	c.inbox <- carrier.Packet{From: from, Data: p}
}

// Sent returns the payloads written so far.
func (c *Carrier) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// SentTo returns the payloads written to ep so far.
func (c *Carrier) SentTo(ep wire.Endpoint) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out [][]byte
	for _, s := range c.sent {
		if s.To == ep {
			out = append(out, s.Data)
		}
	}
	return out
}

// ResetSent forgets the payloads written so far.
func (c *Carrier) ResetSent() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}
