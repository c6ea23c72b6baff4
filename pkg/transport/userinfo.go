package transport

import (
	"time"

	"github.com/skycoin/skyarena/pkg/message"
	"github.com/skycoin/skyarena/pkg/session"
	"github.com/skycoin/skyarena/pkg/userinfo"
	"github.com/skycoin/skyarena/pkg/wire"
)

// User info exchange.
//
// A host acts as the directory: it answers requests from its cache and
// relays requests for unknown or stale peers to the peer in question,
// answering every waiting requester once the peer responds. On the wire a
// client addresses the server's own record with the zero endpoint.

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func infoResponse(r userinfo.Record) *message.InfoResponse {
	return &message.InfoResponse{
		Reliable: message.Reliable{ShouldAck: true},
		Subject:  r.Endpoint,
		IsServer: r.IsServer,
		Info:     copyBytes(r.Info),
	}
}

func infoRequest(target *wire.Endpoint) *message.InfoRequest {
	return &message.InfoRequest{
		Reliable: message.Reliable{ShouldAck: true},
		Target:   target,
	}
}

func (e *Engine) ownInfo() *message.InfoResponse {
	return infoResponse(userinfo.Record{
		Endpoint: e.self,
		Info:     e.localInfo,
		IsServer: e.state == StateHosting,
	})
}

// wireTarget maps ep to the endpoint a client puts into a request.
func (e *Engine) wireTarget(ep wire.Endpoint) *wire.Endpoint {
	if ep == e.server {
		return &wire.Endpoint{}
	}
	return &ep
}

func (e *Engine) handleInfoRequest(s *session.Session, m *message.InfoRequest, now time.Time) {
	if e.state != StateHosting {
		if e.localInfo != nil {
			s.Enqueue(e.ownInfo())
		}
		return
	}

	if m.Target == nil {
		if e.localInfo != nil {
			s.Enqueue(e.ownInfo())
		}
		for _, peer := range e.sessions.Sessions() {
			if peer == s {
				continue
			}
			if r, ok := e.infos.Get(peer.Endpoint); ok {
				s.Enqueue(infoResponse(r))
				continue
			}
			e.infos.AddWaiter(peer.Endpoint, s.Endpoint)
			e.requestFrom(peer, now, e.conf.UserInfoRequestInterval)
		}
		return
	}

	target := *m.Target
	if !target.IsValid() || target == e.self {
		if e.localInfo != nil {
			s.Enqueue(e.ownInfo())
		}
		return
	}

	r, known := e.infos.Get(target)
	peer, live := e.sessions.Get(target)
	switch {
	case known && (!live || !r.Stale(now, e.conf.UserInfoMaxAge)):
		s.Enqueue(infoResponse(r))
	case live:
		e.infos.AddWaiter(target, s.Endpoint)
		e.requestFrom(peer, now, e.conf.UserInfoRequestInterval)
	default:
		e.Logger.Debugf("No user info for %s requested by %s", target, s.Endpoint)
	}
}

// requestFrom asks peer for its own info unless that was done within minInterval.
func (e *Engine) requestFrom(peer *session.Session, now time.Time, minInterval time.Duration) {
	if e.infos.MarkRequested(peer.Endpoint, now, minInterval) {
		ep := peer.Endpoint
		peer.Enqueue(infoRequest(&ep))
	}
}

func (e *Engine) handleInfoResponse(s *session.Session, m *message.InfoResponse, now time.Time) {
	if e.state == StateHosting {
		// A peer only speaks for itself.
		rec := e.infos.Put(s.Endpoint, m.Info, false, now)
		e.userInfoUpdated(*rec)

		for _, ep := range e.infos.TakeWaiters(s.Endpoint) {
			if w, ok := e.sessions.Get(ep); ok && w != s {
				w.Enqueue(infoResponse(*rec))
			}
		}
		return
	}

	subject := m.Subject
	if m.IsServer {
		subject = e.server
	}
	rec := e.infos.Put(subject, m.Info, m.IsServer, now)
	e.userInfoUpdated(*rec)
}

func (e *Engine) refreshUserInfo(now time.Time) {
	switch e.state {
	case StateHosting:
		live := func(ep wire.Endpoint) bool {
			_, ok := e.sessions.Get(ep)
			return ok
		}
		for _, ep := range e.infos.DueForRefresh(now, e.conf.UserInfoMaxAge, e.conf.UserInfoRequestInterval, live) {
			if peer, ok := e.sessions.Get(ep); ok {
				target := ep
				peer.Enqueue(infoRequest(&target))
			}
		}
	case StateConnected:
		s, ok := e.sessions.Get(e.server)
		if !ok {
			return
		}
		for _, ep := range e.infos.DueForRefresh(now, e.conf.UserInfoMaxAge, e.conf.UserInfoRequestInterval, nil) {
			s.Enqueue(infoRequest(e.wireTarget(ep)))
		}
	}
}

// SetLocalInfo sets the info describing this side. A connected client
// announces it to its server.
func (e *Engine) SetLocalInfo(info []byte) {
	e.mu.Lock()
	defer e.unlockAndNotify()

	e.localInfo = copyBytes(info)
	if e.state != StateConnected {
		return
	}
	if s, ok := e.sessions.Get(e.server); ok {
		s.Enqueue(e.ownInfo())
	}
}

// LocalInfo returns the info describing this side.
func (e *Engine) LocalInfo() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyBytes(e.localInfo)
}

// UserInfo returns the cached info of ep. A client finds the record of its
// server under Server().
func (e *Engine) UserInfo(ep wire.Endpoint) (userinfo.Record, bool) {
	return e.infos.Get(ep)
}

// UserInfos returns every cached record.
func (e *Engine) UserInfos() []userinfo.Record {
	return e.infos.All()
}

// RequestUserInfo asks for a fresh copy of the info of ep.
func (e *Engine) RequestUserInfo(ep wire.Endpoint) error {
	e.mu.Lock()
	defer e.unlockAndNotify()

	now := e.conf.Clock()
	ep = wire.Normalize(ep)

	switch e.state {
	case StateHosting:
		peer, ok := e.sessions.Get(ep)
		if !ok {
			return ErrUnknownPeer
		}
		e.requestFrom(peer, now, 0)
	case StateConnected:
		s, ok := e.sessions.Get(e.server)
		if !ok {
			return ErrNotRunning
		}
		e.infos.MarkRequested(ep, now, 0)
		s.Enqueue(infoRequest(e.wireTarget(ep)))
	default:
		return ErrNotRunning
	}
	return nil
}

// RequestAllUserInfo asks for the info of every peer.
func (e *Engine) RequestAllUserInfo() error {
	e.mu.Lock()
	defer e.unlockAndNotify()

	now := e.conf.Clock()
	switch e.state {
	case StateHosting:
		for _, peer := range e.sessions.Sessions() {
			e.requestFrom(peer, now, 0)
		}
	case StateConnected:
		if s, ok := e.sessions.Get(e.server); ok {
			s.Enqueue(infoRequest(nil))
		}
	default:
		return ErrNotRunning
	}
	return nil
}

// SetUserInfoStore makes a host persist its user info directory in store.
// It takes effect for records written afterwards; records in store are
// loaded by StartHost.
func (e *Engine) SetUserInfoStore(store userinfo.Store) {
	e.infos.SetStore(store)
}
