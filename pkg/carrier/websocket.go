package carrier

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skyarena/pkg/wire"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Maximum frame size allowed from a peer.
	maxFrameSize = 64 * 1024

	wsInboxSize = 1024
)

type wsConn struct {
	*websocket.Conn
	ep wire.Endpoint
	mu sync.Mutex
}

// write sends p as one binary frame. Writes are synchronous.
func (c *wsConn) write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, p)
}

// WebSocket is a Carrier over WebSocket connections. Hosting serves
// http://host:port/ and clients dial ws://host:port/. Every payload is one
// binary frame.
type WebSocket struct {
	Logger *logging.Logger

	router   chi.Router
	upgrader websocket.Upgrader
	srv      *http.Server
	ln       net.Listener

	conns  map[wire.Endpoint]*wsConn
	client *wsConn

	inbox chan Packet
	errs  chan error

	mu       sync.RWMutex
	done     chan struct{}
	doneOnce sync.Once
}

// NewWebSocket creates an unbound WebSocket carrier.
func NewWebSocket() *WebSocket {
	return &WebSocket{
		Logger: logging.MustGetLogger("carrier_websocket"),
		router: chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxFrameSize,
			WriteBufferSize: maxFrameSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[wire.Endpoint]*wsConn),
		inbox: make(chan Packet, wsInboxSize),
		errs:  make(chan error, 1),
		done:  make(chan struct{}),
	}
}

// Type implements Carrier.
func (c *WebSocket) Type() string { return WebSocketType }

// Handle mounts an additional HTTP handler next to the WebSocket endpoint.
// It must be called before Listen.
func (c *WebSocket) Handle(pattern string, h http.Handler) {
	c.router.Handle(pattern, h)
}

// Listen implements Carrier.
func (c *WebSocket) Listen(addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ln != nil || c.client != nil {
		return &BindError{Carrier: WebSocketType, Addr: addr, Err: errors.New("already bound")}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Carrier: WebSocketType, Addr: addr, Err: err}
	}
	c.ln = ln
	c.router.Get("/", c.serveWS)
	c.srv = &http.Server{Handler: c.router}

	go func() {
		if err := c.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.Logger.WithError(err).Error("HTTP server stopped")
		}
	}()
	c.Logger.Infof("Serving http://%s/", ln.Addr())
	return nil
}

func (c *WebSocket) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.Logger.WithError(err).Warnf("Failed to upgrade %s", r.RemoteAddr)
		return
	}
	ep, err := wire.EndpointFromAddr(conn.RemoteAddr())
	if err != nil {
		c.Logger.WithError(err).Warnf("Rejecting %s", conn.RemoteAddr())
		conn.Close() //nolint:errcheck
		return
	}
	wc := &wsConn{Conn: conn, ep: ep}

	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		conn.Close() //nolint:errcheck
		return
	}
	old := c.conns[ep]
	c.conns[ep] = wc
	c.mu.Unlock()
	if old != nil {
		old.Close() //nolint:errcheck
	}

	c.Logger.Debugf("Accepted %s", ep)
	go c.readLoop(wc, false)
}

// Dial implements Carrier. addr is either host:port or a ws:// URL.
func (c *WebSocket) Dial(addr string) (wire.Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ln != nil || c.client != nil {
		return wire.Endpoint{}, &BindError{Carrier: WebSocketType, Addr: addr, Err: errors.New("already bound")}
	}
	url := addr
	if !strings.Contains(url, "://") {
		url = "ws://" + addr + "/"
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return wire.Endpoint{}, &BindError{Carrier: WebSocketType, Addr: addr, Err: err}
	}
	remote, err := wire.EndpointFromAddr(conn.RemoteAddr())
	if err != nil {
		conn.Close() //nolint:errcheck
		return wire.Endpoint{}, &BindError{Carrier: WebSocketType, Addr: addr, Err: err}
	}
	c.client = &wsConn{Conn: conn, ep: remote}
	go c.readLoop(c.client, true)

	c.Logger.Infof("Dialed %s", url)
	return remote, nil
}

func (c *WebSocket) readLoop(wc *wsConn, client bool) {
	defer func() {
		c.mu.Lock()
		if c.conns[wc.ep] == wc {
			delete(c.conns, wc.ep)
		}
		c.mu.Unlock()
		wc.Close() //nolint:errcheck
	}()

	wc.SetReadLimit(maxFrameSize)
	for {
		typ, data, err := wc.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.Logger.WithError(err).Warnf("Connection to %s failed", wc.ep)
			} else {
				c.Logger.Debugf("Connection to %s closed: %v", wc.ep, err)
			}
			if client {
				select {
				case c.errs <- errors.Wrap(err, "websocket read"):
				default:
				}
			}
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		select {
		case c.inbox <- Packet{From: wc.ep, Data: data}:
		case <-c.done:
			return
		}
	}
}

func (c *WebSocket) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ReadPacket implements Carrier.
func (c *WebSocket) ReadPacket() (Packet, error) {
	// Frames read before a connection failed are returned first.
	select {
	case p := <-c.inbox:
		return p, nil
	default:
	}

	select {
	case p := <-c.inbox:
		return p, nil
	case err := <-c.errs:
		return Packet{}, err
	case <-c.done:
		return Packet{}, ErrClosed
	}
}

// WriteTo implements Carrier. It blocks until the frame is written.
func (c *WebSocket) WriteTo(p []byte, ep wire.Endpoint) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.mu.RLock()
	wc := c.conns[ep]
	if c.client != nil {
		wc = nil
		if c.client.ep == ep {
			wc = c.client
		}
	}
	c.mu.RUnlock()

	if wc == nil {
		return errors.Wrapf(ErrUnknownPeer, "websocket write to %s", ep)
	}
	return errors.Wrap(wc.write(p), "websocket write")
}

// Drop implements Carrier by closing the connection of ep.
func (c *WebSocket) Drop(ep wire.Endpoint) error {
	c.mu.Lock()
	wc := c.conns[ep]
	delete(c.conns, ep)
	c.mu.Unlock()

	if wc == nil {
		return nil
	}
	return wc.Close()
}

// LocalEndpoint implements Carrier.
func (c *WebSocket) LocalEndpoint() wire.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ep wire.Endpoint
	switch {
	case c.ln != nil:
		ep, _ = wire.EndpointFromAddr(c.ln.Addr())
	case c.client != nil:
		ep, _ = wire.EndpointFromAddr(c.client.LocalAddr())
	}
	return ep
}

// Close implements Carrier.
func (c *WebSocket) Close() error {
	var err error
	c.doneOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		conns := make([]*wsConn, 0, len(c.conns)+1)
		for _, wc := range c.conns {
			conns = append(conns, wc)
		}
		c.conns = make(map[wire.Endpoint]*wsConn)
		if c.client != nil {
			conns = append(conns, c.client)
		}
		srv := c.srv
		c.mu.Unlock()

		for _, wc := range conns {
			wc.mu.Lock()
			_ = wc.WriteControl(websocket.CloseMessage, //nolint:errcheck
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			wc.mu.Unlock()
			wc.Close() //nolint:errcheck
		}
		if srv != nil {
			err = srv.Close()
		}
	})
	return err
}
