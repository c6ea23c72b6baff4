// Package node implements a skyarena chat node on top of the transport engine.
package node

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skyarena/internal/httputil"
	"github.com/skycoin/skyarena/internal/metrics"
	"github.com/skycoin/skyarena/internal/netutil"
	"github.com/skycoin/skyarena/pkg/carrier"
	"github.com/skycoin/skyarena/pkg/message"
	"github.com/skycoin/skyarena/pkg/transport"
	"github.com/skycoin/skyarena/pkg/userinfo"
	"github.com/skycoin/skyarena/pkg/wire"
)

const (
	statsInterval  = time.Second
	connectBackoff = 100 * time.Millisecond
)

// ErrStopped is returned when using a closed Node.
var ErrStopped = errors.New("node is stopped")

// Node hosts a chat room or joins one.
type Node struct {
	conf *Config

	Logger *logging.MasterLogger
	logger *logging.Logger

	carrier  carrier.Carrier
	engine   *transport.Engine
	store    userinfo.Store
	registry *prometheus.Registry

	metricsLn  net.Listener
	metricsSrv *http.Server

	outMu sync.Mutex
	out   io.Writer

	stop     chan struct{}
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup

	reasonMu sync.Mutex
	reason   string
}

// NewNode constructs a Node printing chat lines to out. A nil masterLogger
// is replaced by a new one.
func NewNode(conf *Config, masterLogger *logging.MasterLogger, out io.Writer) (*Node, error) {
	if masterLogger == nil {
		masterLogger = logging.NewMasterLogger()
	}
	node := &Node{
		conf:     conf,
		out:      out,
		registry: prometheus.NewRegistry(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		Logger:   masterLogger,
	}
	node.logger = node.Logger.PackageLogger("skyarena")

	if conf.LogLevel != "" {
		lvl, err := logging.LevelFromString(conf.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", err)
		}
		node.Logger.SetLevel(lvl)
	}

	var err error
	node.carrier, err = conf.NewCarrier()
	if err != nil {
		return nil, fmt.Errorf("carrier: %s", err)
	}

	trConf, err := conf.TransportConfig()
	if err != nil {
		return nil, fmt.Errorf("transport config: %s", err)
	}

	node.store, err = conf.UserInfoStorage()
	if err != nil {
		return nil, fmt.Errorf("user info store: %s", err)
	}

	rec, err := metrics.NewPrometheus("skyarena", node.registry)
	if err != nil {
		return nil, fmt.Errorf("metrics: %s", err)
	}

	node.engine = transport.NewEngine(node.carrier, trConf, node.events(), rec)
	node.engine.Logger = node.Logger.PackageLogger("transport")
	node.engine.SetLocalInfo([]byte(conf.Username))

	return node, nil
}

func (node *Node) events() transport.Events {
	return transport.Events{
		ClientConnecting: func(ep wire.Endpoint, phase transport.Phase) {
			if phase == transport.PhaseHandshake {
				node.logger.Infof("Peer %s joined", ep)
			}
		},
		ClientDisconnected: func(ep wire.Endpoint, reason string) {
			node.printf("* %s left (%s)\n", node.name(ep), reason)
		},
		ConnectedToServer: func(phase transport.Phase) {
			if phase == transport.PhaseHandshake {
				node.printf("* connected to %s\n", node.conf.Address)
			}
		},
		DisconnectedFromServer: func(reason string) {
			node.printf("* disconnected: %s\n", reason)
			node.finish(reason)
		},
		MessageReceived: node.handleMessage,
		UserInfoUpdated: func(r userinfo.Record) {
			node.logger.Debugf("User info of %s: %q", r.Endpoint, r.Info)
		},
	}
}

func (node *Node) handleMessage(m message.Message, from wire.Endpoint) {
	c, ok := m.(*message.Chat)
	if !ok {
		node.logger.Debugf("Ignoring %s from %s", m.Type(), from)
		return
	}

	if node.engine.State() == transport.StateHosting {
		author := from
		relay := &message.Chat{
			Reliable: message.Reliable{ShouldAck: true},
			Author:   &author,
			Text:     c.Text,
		}
		if err := node.engine.SendExcept(relay, from); err != nil {
			node.logger.WithError(err).Warn("Failed to relay chat")
		}
		node.printf("%s: %s\n", node.name(from), c.Text)
		return
	}

	author := from
	if c.Author != nil {
		author = *c.Author
	}
	node.printf("%s: %s\n", node.name(author), c.Text)
}

// name returns the username of ep, asking for it if unknown.
func (node *Node) name(ep wire.Endpoint) string {
	if r, ok := node.engine.UserInfo(ep); ok && len(r.Info) > 0 {
		return string(r.Info)
	}
	if err := node.engine.RequestUserInfo(ep); err != nil {
		node.logger.WithError(err).Debugf("Failed to request user info of %s", ep)
	}
	return ep.String()
}

func (node *Node) printf(format string, args ...interface{}) {
	node.outMu.Lock()
	defer node.outMu.Unlock()
	fmt.Fprintf(node.out, format, args...) //nolint:errcheck
}

// Host starts hosting a chat room on the configured address.
func (node *Node) Host() error {
	node.engine.SetUserInfoStore(node.store)

	if ws, ok := node.carrier.(*carrier.WebSocket); ok {
		ws.Handle("/metrics", metrics.Handler(node.registry))
		ws.Handle("/status", http.HandlerFunc(node.serveStatus))
	}
	if err := node.serveMetrics(); err != nil {
		return err
	}
	if err := node.engine.StartHost(node.conf.Address); err != nil {
		return err
	}
	node.printf("* hosting on %s\n", node.engine.Self())
	node.startLoop()
	return nil
}

// Connect joins the chat room at the configured address.
func (node *Node) Connect() error {
	if err := node.serveMetrics(); err != nil {
		return err
	}

	r := netutil.NewRetrier(connectBackoff, time.Duration(node.conf.ConnectTimeout), 2).WithRetryIf(carrier.IsBindError)
	r.Logger = node.Logger.PackageLogger("retrier")
	err := r.Do(context.Background(), func() error {
		return node.engine.StartClient(node.conf.Address)
	})
	if err != nil {
		return err
	}
	node.startLoop()
	return nil
}

func (node *Node) serveMetrics() error {
	addr := node.conf.Metrics.Address
	if addr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &carrier.BindError{Carrier: "metrics", Addr: addr, Err: err}
	}

	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler(node.registry))
	r.Get("/status", node.serveStatus)
	node.metricsLn = ln
	node.metricsSrv = &http.Server{Handler: r}

	node.logger.Infof("Serving metrics on %s", ln.Addr())
	go func() {
		if err := node.metricsSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			node.logger.WithError(err).Error("Metrics server stopped")
		}
	}()
	return nil
}

// PeerStatus describes one peer session.
type PeerStatus struct {
	Endpoint  string `json:"endpoint"`
	Username  string `json:"username,omitempty"`
	SentBytes uint64 `json:"sent_bytes"`
	RecvBytes uint64 `json:"recv_bytes"`
	Inflight  int    `json:"inflight"`
}

// Status is a snapshot of the node served on /status.
type Status struct {
	State    string             `json:"state"`
	Self     string             `json:"self,omitempty"`
	Server   string             `json:"server,omitempty"`
	Peers    []PeerStatus       `json:"peers"`
	Counters transport.Counters `json:"counters"`
}

// Status returns a snapshot of the node.
func (node *Node) Status() Status {
	e := node.engine
	st := Status{
		State:    e.State().String(),
		Peers:    make([]PeerStatus, 0),
		Counters: e.Counters(),
	}
	if self := e.Self(); self.IsValid() {
		st.Self = self.String()
	}
	if server := e.Server(); server.IsValid() {
		st.Server = server.String()
	}
	for _, ep := range e.Peers() {
		ps := PeerStatus{Endpoint: ep.String(), Inflight: e.Inflight(ep)}
		if r, ok := e.UserInfo(ep); ok {
			ps.Username = string(r.Info)
		}
		if entry, ok := e.SessionLog(ep); ok {
			ps.SentBytes = entry.SentBytes
			ps.RecvBytes = entry.RecvBytes
		}
		st.Peers = append(st.Peers, ps)
	}
	return st
}

func (node *Node) serveStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, r, http.StatusOK, node.Status())
}

// MetricsAddr returns the address of the metrics server, if any.
func (node *Node) MetricsAddr() net.Addr {
	if node.metricsLn == nil {
		return nil
	}
	return node.metricsLn.Addr()
}

func (node *Node) startLoop() {
	node.wg.Add(1)
	go func() {
		defer node.wg.Done()
		node.loop(time.Duration(node.conf.TickRate))
	}()
}

func (node *Node) loop(rate time.Duration) {
	if rate <= 0 {
		rate = 50 * time.Millisecond
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	stats := time.NewTicker(statsInterval)
	defer stats.Stop()

	for {
		select {
		case <-node.stop:
			return
		case <-node.done:
			return
		case <-ticker.C:
			node.engine.Tick()
		case <-stats.C:
			c := node.engine.Counters()
			node.logger.Debugf("sent=%dB recv=%dB packets=%d lost=%d retries=%d framing_errors=%d",
				c.SentBytes, c.ReceivedBytes, c.ReceivedPackets, c.LostPackets, c.Retransmissions, c.FramingErrors)
			node.engine.ResetCounters()
		}
	}
}

// Say sends a chat line to the room.
func (node *Node) Say(text string) error {
	select {
	case <-node.done:
		return ErrStopped
	default:
	}

	m := &message.Chat{Reliable: message.Reliable{ShouldAck: true}, Text: text}
	if err := node.engine.Send(m); err != nil {
		return err
	}
	node.printf("%s: %s\n", node.conf.Username, text)
	return nil
}

// Engine returns the transport engine of the node.
func (node *Node) Engine() *transport.Engine {
	return node.engine
}

// Done is closed once the node stopped.
func (node *Node) Done() <-chan struct{} {
	return node.done
}

// Reason returns why the node stopped.
func (node *Node) Reason() string {
	node.reasonMu.Lock()
	defer node.reasonMu.Unlock()
	return node.reason
}

func (node *Node) finish(reason string) {
	node.doneOnce.Do(func() {
		node.reasonMu.Lock()
		node.reason = reason
		node.reasonMu.Unlock()
		close(node.done)
	})
}

// Close leaves or shuts down the room and releases all resources.
func (node *Node) Close() error {
	if node == nil {
		return nil
	}

	select {
	case <-node.stop:
		return ErrStopped
	default:
		close(node.stop)
	}
	node.wg.Wait()

	var err error
	reason := "node shutting down"
	if closeErr := node.engine.Close(reason); closeErr != nil && closeErr != transport.ErrNotRunning {
		err = closeErr
	}
	node.finish(reason)

	if node.metricsSrv != nil {
		if closeErr := node.metricsSrv.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if closeErr := node.store.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
