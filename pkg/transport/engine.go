// Package transport implements the skyarena connection engine: connection
// lifecycle, partial reliability, coalescing, liveness and user info exchange
// on top of a carrier.Carrier.
package transport

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skyarena/internal/metrics"
	"github.com/skycoin/skyarena/pkg/carrier"
	"github.com/skycoin/skyarena/pkg/message"
	"github.com/skycoin/skyarena/pkg/session"
	"github.com/skycoin/skyarena/pkg/userinfo"
	"github.com/skycoin/skyarena/pkg/wire"
)

var (
	// ErrNotRunning is returned when the Engine is neither hosting nor connected.
	ErrNotRunning = errors.New("transport is not running")

	// ErrAlreadyRunning is returned when starting a running Engine.
	ErrAlreadyRunning = errors.New("transport is already running")

	// ErrClosed is returned when starting an Engine whose carrier was closed.
	ErrClosed = errors.New("transport is closed")

	// ErrUnknownPeer is returned when addressing an endpoint without a session.
	ErrUnknownPeer = errors.New("unknown peer")
)

// Read error backoff of a host listener.
const (
	readRetryDelay    = 10 * time.Millisecond
	maxReadRetryDelay = time.Second
)

// Engine is the connection engine. It either hosts any number of peers or
// is a client of exactly one server.
//
// Protocol state is only mutated from Tick and the other exported methods,
// which are serialized. A listener goroutine moves carrier payloads into a
// bounded queue drained by Tick.
type Engine struct {
	Logger *logging.Logger

	conf    Config
	carrier carrier.Carrier
	events  Events
	metrics metrics.Recorder

	mu        sync.Mutex
	state     State
	closed    bool
	sessions  *session.Table
	logs      map[uuid.UUID]*LogEntry
	infos     *userinfo.Directory
	counters  Counters
	server    wire.Endpoint
	self      wire.Endpoint
	localInfo []byte

	connectStarted time.Time
	lastHandshake  time.Time

	inbox    chan carrier.Packet
	faults   chan error
	stop     chan struct{}
	listenWG sync.WaitGroup

	// Callbacks collected under mu and run after it is released.
	pending []func()
}

// NewEngine creates an Engine on top of c. A nil rec disables metrics.
func NewEngine(c carrier.Carrier, conf Config, events Events, rec metrics.Recorder) *Engine {
	if rec == nil {
		rec = metrics.NewDummy()
	}
	return &Engine{
		Logger:   logging.MustGetLogger("transport"),
		conf:     conf.withDefaults(),
		carrier:  c,
		events:   events,
		metrics:  rec,
		sessions: session.NewTable(),
		logs:     make(map[uuid.UUID]*LogEntry),
		infos:    userinfo.NewDirectory(nil),
	}
}

// unlockAndNotify releases mu and runs the collected callbacks.
func (e *Engine) unlockAndNotify() {
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, f := range pending {
		f()
	}
}

func (e *Engine) isClient() bool {
	return e.state == StateConnecting || e.state == StateConnected
}

// StartHost binds addr and starts accepting peers.
// A bind failure is returned as a *carrier.BindError.
func (e *Engine) StartHost(addr string) error {
	e.mu.Lock()
	defer e.unlockAndNotify()

	if err := e.checkStartable(); err != nil {
		return err
	}
	if err := e.carrier.Listen(addr); err != nil {
		return err
	}
	e.reset()
	e.state = StateHosting
	e.self = e.carrier.LocalEndpoint()
	if err := e.infos.Load(); err != nil {
		e.Logger.WithError(err).Warn("Failed to load user info records")
	}
	e.startListener(false)

	e.Logger.Infof("Hosting on %s via %s", e.self, e.carrier.Type())
	return nil
}

// StartClient connects to the server at addr and starts the handshake.
func (e *Engine) StartClient(addr string) error {
	e.mu.Lock()
	defer e.unlockAndNotify()

	if err := e.checkStartable(); err != nil {
		return err
	}
	remote, err := e.carrier.Dial(addr)
	if err != nil {
		return err
	}
	now := e.conf.Clock()

	e.reset()
	e.state = StateConnecting
	e.server = wire.Normalize(remote)
	e.connectStarted = now
	s := e.addSession(e.server, now)
	e.startListener(true)

	e.Logger.Infof("Connecting to %s via %s", e.server, e.carrier.Type())
	e.connectedToServer(PhaseConnected)
	e.sendHandshake(s, now)
	return nil
}

func (e *Engine) checkStartable() error {
	if e.state != StateNone {
		return ErrAlreadyRunning
	}
	if e.closed {
		return ErrClosed
	}
	return nil
}

func (e *Engine) reset() {
	e.sessions.Clear()
	e.logs = make(map[uuid.UUID]*LogEntry)
	e.infos.Clear()
	e.counters = Counters{}
	e.server = wire.Endpoint{}
	e.self = wire.Endpoint{}
	e.inbox = make(chan carrier.Packet, e.conf.InboxSize)
	e.faults = make(chan error, 1)
	e.stop = make(chan struct{})
}

func (e *Engine) startListener(client bool) {
	e.listenWG.Add(1)
	go e.listen(client, e.inbox, e.faults, e.stop)
}

// listen moves payloads from the carrier into inbox until the carrier is
// closed. On a client the first read error ends it.
func (e *Engine) listen(client bool, inbox chan<- carrier.Packet, faults chan<- error, stop <-chan struct{}) {
	defer e.listenWG.Done()

	var delay time.Duration
	for {
		p, err := e.carrier.ReadPacket()
		if err != nil {
			if errors.Cause(err) == carrier.ErrClosed {
				return
			}
			select {
			case <-stop:
				return
			default:
			}
			e.Logger.WithError(err).Warn("Carrier read failed")
			select {
			case faults <- err:
			default:
			}
			if client {
				return
			}

			// Back off while a host carrier keeps failing.
			if delay == 0 {
				delay = readRetryDelay
			} else if delay *= 2; delay > maxReadRetryDelay {
				delay = maxReadRetryDelay
			}
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-stop:
				t.Stop()
				return
			}
			continue
		}
		delay = 0
		select {
		case inbox <- p:
		case <-stop:
			return
		}
	}
}

// Close notifies every peer, releases the carrier and clears all state.
// A client fires DisconnectedFromServer with reason.
func (e *Engine) Close(reason string) error {
	e.mu.Lock()
	defer e.unlockAndNotify()

	if e.state == StateNone {
		return ErrNotRunning
	}
	return e.close(reason, true)
}

func (e *Engine) close(reason string, notifyPeers bool) error {
	now := e.conf.Clock()
	wasClient := e.isClient()

	for _, s := range e.sessions.Sessions() {
		if notifyPeers {
			e.writeNow(s, &message.Bruh{Reason: reason}, now)
		}
		s.Inflight.Clear()
		e.recordLog(s)
	}

	close(e.stop)
	err := e.carrier.Close()
	e.listenWG.Wait()

	e.closed = true
	e.state = StateNone
	e.sessions.Clear()
	e.infos.Clear()
	e.counters = Counters{}
	e.metrics.SetPeers(0)

	e.Logger.Infof("Closed: %s", reason)
	if wasClient {
		e.disconnectedFromServer(reason)
	}
	return err
}

// Tick runs one iteration of the protocol: it processes received payloads,
// flushes queued messages, checks liveness, retransmits unacknowledged
// messages and refreshes user info.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.unlockAndNotify()

	if e.state == StateNone {
		return
	}
	now := e.conf.Clock()

	e.drain(now)
	if e.state == StateNone || !e.checkFaults() {
		return
	}
	e.flush(now)
	e.checkLiveness(now)
	if e.state == StateNone {
		return
	}
	e.retry(now)
	e.refreshUserInfo(now)
	e.checkHandshake(now)
}

func (e *Engine) checkFaults() bool {
	select {
	case err := <-e.faults:
		if e.isClient() {
			e.close("connection lost: "+err.Error(), false)
			return false
		}
	default:
	}
	return true
}

func (e *Engine) drain(now time.Time) {
	for i := 0; i < e.conf.MaxPacketsPerTick; i++ {
		select {
		case p := <-e.inbox:
			e.handlePacket(p, now)
			if e.state == StateNone {
				return
			}
		default:
			return
		}
	}
}

func (e *Engine) addSession(ep wire.Endpoint, now time.Time) *session.Session {
	s, created := e.sessions.GetOrCreate(ep, now)
	if created {
		e.logs[s.ID] = new(LogEntry)
		e.metrics.SetPeers(e.sessions.Len())
	}
	return s
}

func (e *Engine) handlePacket(p carrier.Packet, now time.Time) {
	from := wire.Normalize(p.From)

	var s *session.Session
	if e.state == StateHosting {
		_, known := e.sessions.Get(from)
		s = e.addSession(from, now)
		if !known {
			e.Logger.Infof("Peer %s connected", from)
			e.clientConnecting(from, PhaseConnected)
		}
	} else {
		var ok bool
		if s, ok = e.sessions.Get(from); !ok {
			e.Logger.Debugf("Dropping payload from unexpected endpoint %s", from)
			return
		}
	}

	n := len(p.Data)
	e.counters.ReceivedBytes += uint64(n)
	e.counters.ReceivedPackets++
	e.metrics.RecordReceived(n)
	e.logEntry(s).AddRecv(uint64(n))
	s.LastReceived = now

	msgs, err := message.DecodeAll(p.Data)
	for _, m := range msgs {
		if !e.handleMessage(s, m, now) {
			return
		}
	}
	if err != nil {
		e.counters.FramingErrors++
		e.metrics.RecordFramingError()
		e.Logger.WithError(err).WithField("peer", from).Warn("Discarding malformed payload")
	}
}

// handleMessage processes one received message. It returns false if s or
// the whole connection is gone afterwards.
func (e *Engine) handleMessage(s *session.Session, m message.Message, now time.Time) bool {
	idx := m.MessageHeader().Index
	expected := s.ExpectedIndex()
	if s.Observe(idx) {
		e.counters.LostPackets++
		e.metrics.RecordLoss()
		e.Logger.Debugf("Lost packet from %s: expected index %d, got %d", s.Endpoint, expected, idx)
	}

	if rm, ok := m.(message.ReliableMessage); ok && rm.Reliability().ShouldAck {
		s.Enqueue(&message.Ack{AckIndex: idx})
	}

	switch m := m.(type) {
	case *message.Ack:
		e.handleAck(s, m)
	case *message.Control:
		if m.Kind == message.Ping {
			s.Enqueue(&message.Control{Kind: message.Pong})
		}
	case *message.HandshakeRequest:
		return e.handleHandshakeRequest(s, m, now)
	case *message.HandshakeResponse:
		e.handleHandshakeResponse(s, m)
	case *message.Bruh:
		if e.state == StateHosting {
			e.evict(s, "left: "+m.Reason)
		} else {
			e.close(m.Reason, false)
		}
		return false
	case *message.InfoRequest:
		e.handleInfoRequest(s, m, now)
	case *message.InfoResponse:
		e.handleInfoResponse(s, m, now)
	default:
		e.messageReceived(m, s.Endpoint)
	}
	return true
}

func (e *Engine) handleAck(s *session.Session, m *message.Ack) {
	p, ok := s.Inflight.Ack(m.AckIndex)
	if !ok {
		e.Logger.Debugf("Ignoring duplicate ack %d from %s", m.AckIndex, s.Endpoint)
		return
	}
	// Copies sent to other peers share one once-guard, so the callback runs once overall.
	e.pending = append(e.pending, p.Message.Reliability().Complete)
}

func (e *Engine) handleHandshakeRequest(s *session.Session, m *message.HandshakeRequest, now time.Time) bool {
	if e.state != StateHosting {
		e.Logger.Debugf("Ignoring handshake request from %s", s.Endpoint)
		return true
	}
	if m.Version != message.ProtocolVersion {
		reason := "unsupported protocol version"
		e.Logger.Warnf("Rejecting %s: %s %d", s.Endpoint, reason, m.Version)
		e.writeNow(s, &message.Bruh{Reason: reason}, now)
		e.evict(s, reason)
		return false
	}

	s.Enqueue(&message.HandshakeResponse{ThisIsYou: s.Endpoint})
	if !s.Handshaked {
		s.Handshaked = true
		e.Logger.Infof("Peer %s completed the handshake", s.Endpoint)
		e.clientConnecting(s.Endpoint, PhaseHandshake)
	}
	return true
}

func (e *Engine) handleHandshakeResponse(s *session.Session, m *message.HandshakeResponse) {
	if e.state != StateConnecting {
		return
	}
	e.state = StateConnected
	e.self = m.ThisIsYou
	s.Handshaked = true

	e.Logger.Infof("Connected to %s as %s", e.server, e.self)
	e.connectedToServer(PhaseHandshake)

	if e.localInfo != nil {
		s.Enqueue(e.ownInfo())
	}
	s.Enqueue(&message.InfoRequest{Reliable: message.Reliable{ShouldAck: true}})
}

func (e *Engine) sendHandshake(s *session.Session, now time.Time) {
	e.lastHandshake = now
	e.writeNow(s, &message.HandshakeRequest{Version: message.ProtocolVersion}, now)
}

func (e *Engine) checkHandshake(now time.Time) {
	if e.state != StateConnecting {
		return
	}
	if now.Sub(e.connectStarted) >= e.conf.HandshakeTimeout {
		e.close("handshake timed out", false)
		return
	}
	if now.Sub(e.lastHandshake) >= e.conf.HandshakeRetryInterval {
		if s, ok := e.sessions.Get(e.server); ok {
			e.sendHandshake(s, now)
		}
	}
}

// flush sends the queued messages of every session, coalescing them into
// payloads of at most MaxPayloadSize bytes.
func (e *Engine) flush(now time.Time) {
	for _, s := range e.sessions.Sessions() {
		if msgs := s.TakeOutbox(); len(msgs) > 0 {
			e.flushSession(s, msgs, now)
		}
	}
}

func (e *Engine) flushSession(s *session.Session, msgs []message.Message, now time.Time) {
	limit := e.conf.MaxPayloadSize
	var buf []byte

	for _, m := range msgs {
		enc, ok := e.prepare(s, m, now)
		if !ok {
			continue
		}
		if len(enc) > limit {
			if len(buf) > 0 {
				e.write(s, buf, now)
				buf = nil
			}
			e.write(s, enc, now)
			continue
		}
		if len(buf)+len(enc) > limit {
			e.write(s, buf, now)
			buf = nil
		}
		buf = append(buf, enc...)
	}
	if len(buf) > 0 {
		e.write(s, buf, now)
	}
}

// prepare assigns the index of m, retains it if it expects an ack and
// returns its encoding.
func (e *Engine) prepare(s *session.Session, m message.Message, now time.Time) ([]byte, bool) {
	idx := s.AssignIndex(m)
	enc, err := message.Encode(m)
	if err != nil {
		e.Logger.WithError(err).WithField("peer", s.Endpoint).Error("Dropping message")
		return nil, false
	}
	if rm, ok := m.(message.ReliableMessage); ok && rm.Reliability().ShouldAck {
		s.Inflight.Add(idx, rm, now)
	}
	return enc, true
}

// writeNow sends m on its own, bypassing the outbound queue.
func (e *Engine) writeNow(s *session.Session, m message.Message, now time.Time) {
	if enc, ok := e.prepare(s, m, now); ok {
		e.write(s, enc, now)
	}
}

func (e *Engine) write(s *session.Session, p []byte, now time.Time) {
	if err := e.carrier.WriteTo(p, s.Endpoint); err != nil {
		e.Logger.WithError(err).WithField("peer", s.Endpoint).Warn("Carrier write failed")
		return
	}
	n := len(p)
	e.counters.SentBytes += uint64(n)
	e.metrics.RecordSent(n)
	e.logEntry(s).AddSent(uint64(n))
	s.LastSent = now
}

func (e *Engine) checkLiveness(now time.Time) {
	for _, s := range e.sessions.Sessions() {
		if s.TimedOut(now, e.conf.Timeout) {
			if e.state != StateHosting {
				e.close("timed out", false)
				return
			}
			e.evict(s, "timed out")
			continue
		}
		if s.Idle(now, e.conf.PingInterval) {
			e.writeNow(s, &message.Control{Kind: message.Ping}, now)
		}
	}
}

// retry retransmits every reliable message not acknowledged within
// RetryInterval. There is no retry limit.
func (e *Engine) retry(now time.Time) {
	for _, s := range e.sessions.Sessions() {
		for _, p := range s.Inflight.Due(now, e.conf.RetryInterval) {
			enc, err := message.Encode(p.Message)
			if err != nil {
				e.Logger.WithError(err).Error("Failed to encode retransmission")
				continue
			}
			e.write(s, enc, now)
			s.Inflight.Touch(p.Index, now)
			e.counters.Retransmissions++
			e.metrics.RecordRetry()
		}
	}
}

// evict removes the session of a peer and reports its disconnection.
func (e *Engine) evict(s *session.Session, reason string) {
	if _, ok := e.sessions.Remove(s.Endpoint); !ok {
		return
	}
	s.Inflight.Clear()
	if err := e.carrier.Drop(s.Endpoint); err != nil {
		e.Logger.WithError(err).Debugf("Failed to drop %s", s.Endpoint)
	}
	e.recordLog(s)
	delete(e.logs, s.ID)
	e.metrics.SetPeers(e.sessions.Len())

	e.Logger.Infof("Peer %s disconnected: %s", s.Endpoint, reason)
	e.clientDisconnected(s.Endpoint, reason)
}

func (e *Engine) logEntry(s *session.Session) *LogEntry {
	le, ok := e.logs[s.ID]
	if !ok {
		le = new(LogEntry)
		e.logs[s.ID] = le
	}
	return le
}

func (e *Engine) recordLog(s *session.Session) {
	if err := e.conf.LogStore.Record(s.ID, e.logEntry(s)); err != nil {
		e.Logger.WithError(err).WithField("session", s.ID).Warn("Failed to record session log")
	}
}

// enqueue queues m for s. Reliable messages are copied so every destination
// retains its own instance.
func (e *Engine) enqueue(s *session.Session, m message.Message) {
	if rm, ok := m.(message.ReliableMessage); ok {
		m = rm.CopyReliable()
	}
	s.Enqueue(m)
}

// Send queues m for every handshaked peer, or for the server on a client.
func (e *Engine) Send(m message.Message) error {
	return e.sendFiltered(m, func(wire.Endpoint) bool { return true })
}

// SendExcept queues m like Send, except for the peer at excluded.
func (e *Engine) SendExcept(m message.Message, excluded wire.Endpoint) error {
	return e.sendFiltered(m, func(ep wire.Endpoint) bool { return ep != excluded })
}

func (e *Engine) sendFiltered(m message.Message, keep func(wire.Endpoint) bool) error {
	e.mu.Lock()
	defer e.unlockAndNotify()

	switch {
	case e.state == StateHosting:
		for _, s := range e.sessions.Sessions() {
			if s.Handshaked && keep(s.Endpoint) {
				e.enqueue(s, m)
			}
		}
	case e.isClient():
		if s, ok := e.sessions.Get(e.server); ok && keep(e.server) {
			e.enqueue(s, m)
		}
	default:
		return ErrNotRunning
	}
	return nil
}

// SendTo queues m for the peer at ep.
func (e *Engine) SendTo(m message.Message, ep wire.Endpoint) error {
	e.mu.Lock()
	defer e.unlockAndNotify()

	if e.state == StateNone {
		return ErrNotRunning
	}
	s, ok := e.sessions.Get(wire.Normalize(ep))
	if !ok {
		return errors.Wrapf(ErrUnknownPeer, "send to %s", ep)
	}
	e.enqueue(s, m)
	return nil
}

// State returns the connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Self returns the local endpoint of a host, or the endpoint a client was
// told by its server.
func (e *Engine) Self() wire.Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.self
}

// Server returns the server endpoint of a client.
func (e *Engine) Server() wire.Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.server
}

// Peers returns the endpoints of every session.
func (e *Engine) Peers() []wire.Endpoint {
	return e.sessions.Endpoints()
}

// Inflight returns the number of unacknowledged reliable messages for ep.
func (e *Engine) Inflight(ep wire.Endpoint) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.sessions.Get(ep); ok {
		return s.Inflight.Len()
	}
	return 0
}

// SessionLog returns the byte log of the session with ep.
func (e *Engine) SessionLog(ep wire.Endpoint) (LogEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions.Get(ep)
	if !ok {
		return LogEntry{}, false
	}
	return e.logEntry(s).Snapshot(), true
}

// Counters returns the traffic counters since the last reset.
func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// ResetCounters zeroes the traffic counters.
func (e *Engine) ResetCounters() {
	e.mu.Lock()
	e.counters = Counters{}
	e.mu.Unlock()
}
