package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skyarena/internal/testhelpers"
	"github.com/skycoin/skyarena/pkg/carrier/carriertest"
	"github.com/skycoin/skyarena/pkg/message"
	"github.com/skycoin/skyarena/pkg/wire"
)

type node struct {
	c   *carriertest.Carrier
	e   *Engine
	rec *recorder
}

// cluster is a host and its clients on one in-memory network.
type cluster struct {
	t       *testing.T
	clock   *testhelpers.Clock
	net     *carriertest.Network
	host    *node
	clients []*node
}

func newCluster(t *testing.T, hostInfo string) *cluster {
	cl := &cluster{
		t:     t,
		clock: testhelpers.NewClock(time.Unix(1000, 0)),
		net:   carriertest.NewNetwork(),
	}
	cl.host = cl.newNode()
	if hostInfo != "" {
		cl.host.e.SetLocalInfo([]byte(hostInfo))
	}
	require.NoError(t, cl.host.e.StartHost(hostAddr))
	return cl
}

func (cl *cluster) newNode() *node {
	n := &node{c: cl.net.NewCarrier(), rec: new(recorder)}
	n.e = NewEngine(n.c, testConfig(cl.clock), n.rec.events(), nil)
	return n
}

// connect starts a client and ticks until its handshake completed.
func (cl *cluster) connect(info string) *node {
	n := cl.newNode()
	if info != "" {
		n.e.SetLocalInfo([]byte(info))
	}
	require.NoError(cl.t, n.e.StartClient(hostAddr))
	cl.clients = append(cl.clients, n)
	cl.waitFor(func() bool { return n.e.State() == StateConnected })
	return n
}

func (cl *cluster) tick() {
	cl.host.e.Tick()
	for _, n := range cl.clients {
		n.e.Tick()
	}
}

func (cl *cluster) waitFor(cond func() bool) {
	testhelpers.WaitFor(cl.t, cl.tick, cond)
}

func (cl *cluster) settled() bool {
	for _, n := range cl.clients {
		if cl.host.e.Inflight(n.e.Self()) > 0 || n.e.Inflight(n.e.Server()) > 0 {
			return false
		}
	}
	return true
}

func TestEngine_ClientHandshake(t *testing.T) {
	cl := newCluster(t, "")

	n := cl.newNode()
	require.NoError(t, n.e.StartClient(hostAddr))
	cl.clients = append(cl.clients, n)
	assert.Equal(t, StateConnecting, n.e.State())
	assert.Equal(t, []Phase{PhaseConnected}, n.rec.serverPhases)

	cl.waitFor(func() bool { return n.e.State() == StateConnected })

	self := n.c.LocalEndpoint()
	assert.Equal(t, self, n.e.Self())
	assert.Equal(t, wire.MustParseEndpoint(hostAddr), n.e.Server())
	assert.Equal(t, []Phase{PhaseConnected, PhaseHandshake}, n.rec.serverPhases)
	assert.Equal(t, []connEvent{{self, PhaseConnected}, {self, PhaseHandshake}}, cl.host.rec.connecting)
	assert.Equal(t, []wire.Endpoint{self}, cl.host.e.Peers())
}

func TestEngine_BroadcastReliableChat(t *testing.T) {
	cl := newCluster(t, "")
	a, b := cl.connect(""), cl.connect("")
	cl.waitFor(cl.settled)

	acks := 0
	m := chat("hello all", true)
	m.OnAck = func() { acks++ }
	require.NoError(t, cl.host.e.Send(m))

	cl.waitFor(func() bool {
		return a.rec.receivedCount() == 1 && b.rec.receivedCount() == 1 && cl.settled()
	})
	assert.Equal(t, 0, cl.host.e.Inflight(a.e.Self()))
	assert.Equal(t, 0, cl.host.e.Inflight(b.e.Self()))
	assert.Equal(t, 1, acks)

	for _, n := range []*node{a, b} {
		got := n.rec.received[0]
		assert.Equal(t, n.e.Server(), got.from)
		assert.Equal(t, "hello all", got.m.(*message.Chat).Text)
	}
}

func TestEngine_SendExceptRelay(t *testing.T) {
	cl := newCluster(t, "")
	a, b := cl.connect(""), cl.connect("")
	cl.waitFor(cl.settled)

	cl.host.e.events.MessageReceived = func(m message.Message, from wire.Endpoint) {
		c, ok := m.(*message.Chat)
		if !ok {
			return
		}
		author := from
		c.Author = &author
		require.NoError(t, cl.host.e.SendExcept(c, from))
	}

	require.NoError(t, a.e.Send(chat("from a", true)))
	cl.waitFor(func() bool { return b.rec.receivedCount() == 1 && cl.settled() })

	got := b.rec.received[0].m.(*message.Chat)
	assert.Equal(t, "from a", got.Text)
	require.NotNil(t, got.Author)
	assert.Equal(t, a.e.Self(), *got.Author)
	assert.Equal(t, 0, a.rec.receivedCount())
}

func TestEngine_UserInfoExchange(t *testing.T) {
	cl := newCluster(t, "host")
	a := cl.connect("alice")

	cl.waitFor(func() bool {
		_, ok := cl.host.e.UserInfo(a.e.Self())
		return ok
	})
	rec, _ := cl.host.e.UserInfo(a.e.Self())
	assert.Equal(t, []byte("alice"), rec.Info)
	assert.False(t, rec.IsServer)

	b := cl.connect("bob")
	cl.waitFor(func() bool {
		_, okA := b.e.UserInfo(a.e.Self())
		_, okS := b.e.UserInfo(b.e.Server())
		return okA && okS
	})
	rec, _ = b.e.UserInfo(a.e.Self())
	assert.Equal(t, []byte("alice"), rec.Info)
	rec, _ = b.e.UserInfo(b.e.Server())
	assert.Equal(t, []byte("host"), rec.Info)
	assert.True(t, rec.IsServer)

	require.NoError(t, a.e.RequestUserInfo(b.e.Self()))
	cl.waitFor(func() bool {
		_, ok := a.e.UserInfo(b.e.Self())
		return ok
	})
	rec, _ = a.e.UserInfo(b.e.Self())
	assert.Equal(t, []byte("bob"), rec.Info)

	// A changed info is announced and reaches the host.
	b.e.SetLocalInfo([]byte("robert"))
	cl.waitFor(func() bool {
		r, ok := cl.host.e.UserInfo(b.e.Self())
		return ok && string(r.Info) == "robert"
	})
}

func TestEngine_UserInfoRelay(t *testing.T) {
	f := newHost(t)
	f.handshake(peerA)
	f.handshake(peerB)
	f.c.ResetSent()

	target := peerA
	f.inject(peerB, &message.InfoRequest{Reliable: message.Reliable{ShouldAck: true}, Target: &target})

	// The host asks the peer in question.
	var req *message.InfoRequest
	for _, m := range f.sent(peerA) {
		if r, ok := m.(*message.InfoRequest); ok {
			req = r
		}
	}
	require.NotNil(t, req)
	require.NotNil(t, req.Target)
	assert.Equal(t, peerA, *req.Target)

	f.c.ResetSent()
	f.inject(peerA, &message.InfoResponse{Reliable: message.Reliable{ShouldAck: true}, Subject: peerA, Info: []byte("a")})

	var resp *message.InfoResponse
	for _, m := range f.sent(peerB) {
		if r, ok := m.(*message.InfoResponse); ok {
			resp = r
		}
	}
	require.NotNil(t, resp)
	assert.Equal(t, peerA, resp.Subject)
	assert.Equal(t, []byte("a"), resp.Info)
	require.Len(t, f.rec.infos, 1)
	assert.Equal(t, peerA, f.rec.infos[0].Endpoint)

	// Later requests are answered from the cache.
	f.c.ResetSent()
	f.inject(peerB, &message.InfoRequest{Reliable: message.Reliable{ShouldAck: true}, Target: &target})
	assert.Empty(t, f.c.SentTo(peerA))
	found := false
	for _, m := range f.sent(peerB) {
		if r, ok := m.(*message.InfoResponse); ok && r.Subject == peerA {
			found = true
		}
	}
	assert.True(t, found)
}

func TestEngine_UserInfoRefresh(t *testing.T) {
	f := newHost(t)
	f.handshake(peerA)
	f.inject(peerA, &message.InfoResponse{Subject: peerA, Info: []byte("a")})
	f.c.ResetSent()

	// Retransmissions keep their index.
	requests := func() int {
		seen := make(map[uint32]struct{})
		for _, m := range f.sent(peerA) {
			if r, ok := m.(*message.InfoRequest); ok {
				seen[r.Index] = struct{}{}
			}
		}
		return len(seen)
	}

	f.clock.Advance(DefaultUserInfoMaxAge)
	f.inject(peerA, &message.Control{Kind: message.Pong})
	f.e.Tick()
	assert.Equal(t, 0, requests())

	// Stale: requested once, then rate limited.
	f.clock.Advance(time.Second)
	f.inject(peerA, &message.Control{Kind: message.Pong})
	f.e.Tick()
	f.e.Tick()
	assert.Equal(t, 1, requests())

	f.clock.Advance(DefaultUserInfoRequestInterval / 2)
	f.inject(peerA, &message.Control{Kind: message.Pong})
	f.e.Tick()
	assert.Equal(t, 1, requests())
}

func TestEngine_ClientTimeout(t *testing.T) {
	cl := newCluster(t, "")
	a := cl.connect("")
	cl.waitFor(cl.settled)

	cl.clock.Advance(DefaultTimeout + time.Second)
	a.e.Tick()
	assert.Equal(t, StateNone, a.e.State())
	assert.Equal(t, []string{"timed out"}, a.rec.serverDisconnects)

	a.e.Tick()
	assert.Equal(t, 1, a.rec.serverDisconnectCount())
}

func TestEngine_HandshakeTimeout(t *testing.T) {
	clock := testhelpers.NewClock(time.Unix(1000, 0))
	c := carriertest.NewNetwork().NewCarrier()
	rec := new(recorder)
	e := NewEngine(c, testConfig(clock), rec.events(), nil)

	require.NoError(t, e.StartClient(hostAddr))
	server := wire.MustParseEndpoint(hostAddr)
	assert.Len(t, c.SentTo(server), 1)

	for i := 1; i < 10; i++ {
		clock.Advance(time.Second)
		e.Tick()
		assert.Equal(t, StateConnecting, e.State())
		assert.Len(t, c.SentTo(server), i+1)
	}

	clock.Advance(time.Second)
	e.Tick()
	assert.Equal(t, StateNone, e.State())
	assert.Equal(t, []string{"handshake timed out"}, rec.serverDisconnects)
}

func TestEngine_ClientCarrierFault(t *testing.T) {
	cl := newCluster(t, "")
	a := cl.connect("")

	a.c.Fail(assert.AnError)
	testhelpers.WaitFor(t, a.e.Tick, func() bool { return a.e.State() == StateNone })
	require.Len(t, a.rec.serverDisconnects, 1)
	assert.Contains(t, a.rec.serverDisconnects[0], "connection lost")
}

func TestEngine_CloseNotifiesPeers(t *testing.T) {
	cl := newCluster(t, "")
	a, b := cl.connect(""), cl.connect("")

	require.NoError(t, cl.host.e.Close("server shutting down"))
	for _, n := range []*node{a, b} {
		n := n
		testhelpers.WaitFor(t, n.e.Tick, func() bool { return n.e.State() == StateNone })
		assert.Equal(t, []string{"server shutting down"}, n.rec.serverDisconnects)
	}

	// Closing a client evicts it on the host.
	cl = newCluster(t, "")
	a = cl.connect("")
	require.NoError(t, a.e.Close("bye"))
	assert.Equal(t, []string{"bye"}, a.rec.serverDisconnects)
	cl.clients = nil
	cl.waitFor(func() bool { return len(cl.host.e.Peers()) == 0 })
	assert.Equal(t, []string{"left: bye"}, cl.host.rec.reasons)
}
