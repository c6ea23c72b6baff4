package wire

import (
	"net"
	"net/netip"

	"github.com/pkg/errors"
)

// Endpoint identifies a peer by address and port.
// It is comparable and used as the key of all per-peer state.
type Endpoint = netip.AddrPort

// ParseEndpoint parses an "ip:port" string.
func ParseEndpoint(s string) (Endpoint, error) {
	ep, err := netip.ParseAddrPort(s)
	if err != nil {
		return Endpoint{}, errors.Wrap(ErrInvalidEndpoint, err.Error())
	}
	return Normalize(ep), nil
}

// MustParseEndpoint is like ParseEndpoint but panics on error.
func MustParseEndpoint(s string) Endpoint {
	ep, err := ParseEndpoint(s)
	if err != nil {
		panic(err)
	}
	return ep
}

// Normalize unmaps IPv4-mapped IPv6 addresses so that the same peer always
// produces the same key.
func Normalize(ep Endpoint) Endpoint {
	return netip.AddrPortFrom(ep.Addr().Unmap(), ep.Port())
}

// EndpointFromAddr converts a UDP or TCP net.Addr into an Endpoint.
func EndpointFromAddr(addr net.Addr) (Endpoint, error) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return endpointFromIP(a.IP, a.Port)
	case *net.TCPAddr:
		return endpointFromIP(a.IP, a.Port)
	case nil:
		return Endpoint{}, ErrInvalidEndpoint
	default:
		return ParseEndpoint(addr.String())
	}
}

func endpointFromIP(ip net.IP, port int) (Endpoint, error) {
	a, ok := netip.AddrFromSlice(ip)
	if !ok || port < 0 || port > 0xffff {
		return Endpoint{}, ErrInvalidEndpoint
	}
	return netip.AddrPortFrom(a.Unmap(), uint16(port)), nil
}

// UDPAddr converts an Endpoint into a *net.UDPAddr.
func UDPAddr(ep Endpoint) *net.UDPAddr {
	return net.UDPAddrFromAddrPort(ep)
}

// WriteEndpoint appends ep as: address length (1 byte), address bytes, port (2 bytes).
// The zero Endpoint is written with an address length of 0.
func (w *Writer) WriteEndpoint(ep Endpoint) {
	if w.err != nil {
		return
	}
	addr := ep.Addr()
	switch {
	case !addr.IsValid():
		w.WriteUint8(0)
	case addr.Is4():
		a := addr.As4()
		w.WriteUint8(4)
		w.buf = append(w.buf, a[:]...)
	default:
		a := addr.As16()
		w.WriteUint8(16)
		w.buf = append(w.buf, a[:]...)
	}
	w.WriteUint16(ep.Port())
}

// WriteNullEndpoint writes a presence flag and, if ep is non-nil, the endpoint.
func (w *Writer) WriteNullEndpoint(ep *Endpoint) {
	w.WriteBool(ep != nil)
	if ep != nil {
		w.WriteEndpoint(*ep)
	}
}

// ReadEndpoint reads an endpoint written by WriteEndpoint.
func (r *Reader) ReadEndpoint() (Endpoint, error) {
	n, err := r.ReadUint8()
	if err != nil {
		return Endpoint{}, err
	}
	var addr netip.Addr
	switch n {
	case 0:
	case 4, 16:
		b, err := r.next(int(n))
		if err != nil {
			return Endpoint{}, err
		}
		addr, _ = netip.AddrFromSlice(b)
	default:
		return Endpoint{}, ErrInvalidEndpoint
	}
	port, err := r.ReadUint16()
	if err != nil {
		return Endpoint{}, err
	}
	if !addr.IsValid() {
		if port != 0 {
			return Endpoint{}, ErrInvalidEndpoint
		}
		return Endpoint{}, nil
	}
	return netip.AddrPortFrom(addr, port), nil
}

// ReadNullEndpoint reads a presence flag and, if set, an endpoint.
func (r *Reader) ReadNullEndpoint() (*Endpoint, error) {
	ok, err := r.ReadBool()
	if err != nil || !ok {
		return nil, err
	}
	ep, err := r.ReadEndpoint()
	if err != nil {
		return nil, err
	}
	return &ep, nil
}
