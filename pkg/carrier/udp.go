package carrier

import (
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skyarena/pkg/wire"
)

// maxDatagramSize is the largest UDP payload we are able to receive.
const maxDatagramSize = 64 * 1024

// UDP is a Carrier over a plain datagram socket. Writes are fire-and-forget.
type UDP struct {
	Logger *logging.Logger

	conn   *net.UDPConn
	remote wire.Endpoint
	dialed bool
	local  wire.Endpoint

	mu       sync.RWMutex
	done     chan struct{}
	doneOnce sync.Once
}

// NewUDP creates an unbound UDP carrier.
func NewUDP() *UDP {
	return &UDP{
		Logger: logging.MustGetLogger("carrier_udp"),
		done:   make(chan struct{}),
	}
}

// Type implements Carrier.
func (c *UDP) Type() string { return UDPType }

// Listen implements Carrier.
func (c *UDP) Listen(addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return &BindError{Carrier: UDPType, Addr: addr, Err: errors.New("already bound")}
	}
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return &BindError{Carrier: UDPType, Addr: addr, Err: err}
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return &BindError{Carrier: UDPType, Addr: addr, Err: err}
	}
	c.conn = conn
	c.local, _ = wire.EndpointFromAddr(conn.LocalAddr())
	c.Logger.Infof("Listening on %s", conn.LocalAddr())
	return nil
}

// Dial implements Carrier.
func (c *UDP) Dial(addr string) (wire.Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return wire.Endpoint{}, &BindError{Carrier: UDPType, Addr: addr, Err: errors.New("already bound")}
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return wire.Endpoint{}, &BindError{Carrier: UDPType, Addr: addr, Err: err}
	}
	remote, err := wire.EndpointFromAddr(raddr)
	if err != nil {
		return wire.Endpoint{}, &BindError{Carrier: UDPType, Addr: addr, Err: err}
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return wire.Endpoint{}, &BindError{Carrier: UDPType, Addr: addr, Err: err}
	}
	c.conn = conn
	c.remote = remote
	c.dialed = true
	c.local, _ = wire.EndpointFromAddr(conn.LocalAddr())
	c.Logger.Infof("Dialed %s from %s", raddr, conn.LocalAddr())
	return remote, nil
}

func (c *UDP) socket() (*net.UDPConn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn, c.dialed
}

func (c *UDP) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ReadPacket implements Carrier.
func (c *UDP) ReadPacket() (Packet, error) {
	conn, dialed := c.socket()
	if conn == nil {
		if c.isClosed() {
			return Packet{}, ErrClosed
		}
		return Packet{}, ErrNotConnected
	}

	buf := make([]byte, maxDatagramSize)
	if dialed {
		n, err := conn.Read(buf)
		if err != nil {
			return Packet{}, c.readErr(err)
		}
		return Packet{From: c.remote, Data: buf[:n]}, nil
	}

	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return Packet{}, c.readErr(err)
	}
	from, err := wire.EndpointFromAddr(addr)
	if err != nil {
		return Packet{}, errors.Wrapf(err, "udp read from %s", addr)
	}
	return Packet{From: from, Data: buf[:n]}, nil
}

func (c *UDP) readErr(err error) error {
	if c.isClosed() {
		return ErrClosed
	}
	return errors.Wrap(err, "udp read")
}

// WriteTo implements Carrier.
func (c *UDP) WriteTo(p []byte, ep wire.Endpoint) error {
	if c.isClosed() {
		return ErrClosed
	}
	conn, dialed := c.socket()
	if conn == nil {
		return ErrNotConnected
	}
	var err error
	if dialed {
		if ep != c.remote {
			return errors.Wrapf(ErrUnknownPeer, "udp write to %s", ep)
		}
		_, err = conn.Write(p)
	} else {
		_, err = conn.WriteToUDP(p, wire.UDPAddr(ep))
	}
	return errors.Wrap(err, "udp write")
}

// Drop implements Carrier. UDP keeps no per-peer state.
func (c *UDP) Drop(wire.Endpoint) error { return nil }

// LocalEndpoint implements Carrier.
func (c *UDP) LocalEndpoint() wire.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local
}

// Close implements Carrier.
func (c *UDP) Close() error {
	var err error
	c.doneOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.mu.Unlock()
	})
	return err
}
