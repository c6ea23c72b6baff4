package carrier

import (
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/skycoin/skyarena/pkg/wire"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			log.Fatal(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.Disable()
	}

	os.Exit(m.Run())
}

type readResult struct {
	p   Packet
	err error
}

func readAsync(c Carrier) <-chan readResult {
	ch := make(chan readResult, 1)
	go func() {
		p, err := c.ReadPacket()
		ch <- readResult{p, err}
	}()
	return ch
}

func mustRead(t *testing.T, c Carrier) Packet {
	select {
	case res := <-readAsync(c):
		require.NoError(t, res.err)
		return res.p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out reading packet")
		return Packet{}
	}
}

func testLoopback(t *testing.T, server, client Carrier) {
	require.NoError(t, server.Listen("127.0.0.1:0"))
	addr := server.LocalEndpoint()
	require.True(t, addr.IsValid())

	remote, err := client.Dial(addr.String())
	require.NoError(t, err)
	assert.Equal(t, addr, remote)

	require.NoError(t, client.WriteTo([]byte("ping"), remote))
	p := mustRead(t, server)
	assert.Equal(t, []byte("ping"), p.Data)
	assert.Equal(t, client.LocalEndpoint(), p.From)

	require.NoError(t, server.WriteTo([]byte("pong"), p.From))
	p = mustRead(t, client)
	assert.Equal(t, []byte("pong"), p.Data)
	assert.Equal(t, remote, p.From)

	err = client.WriteTo([]byte("x"), wire.MustParseEndpoint("127.0.0.1:1"))
	assert.Error(t, err)

	ch := readAsync(server)
	require.NoError(t, server.Close())
	select {
	case res := <-ch:
		assert.Equal(t, ErrClosed, res.err)
	case <-time.After(5 * time.Second):
		t.Fatal("ReadPacket did not return after Close")
	}
	assert.Equal(t, ErrClosed, server.WriteTo([]byte("x"), p.From))
	require.NoError(t, client.Close())
}

func TestUDP(t *testing.T) {
	if !nettest.TestableNetwork("udp") {
		t.Skip("udp is not supported")
	}
	testLoopback(t, NewUDP(), NewUDP())
}

func TestUDP_IPv6(t *testing.T) {
	if !nettest.SupportsIPv6() {
		t.Skip("ipv6 is not supported")
	}
	server, client := NewUDP(), NewUDP()
	require.NoError(t, server.Listen("[::1]:0"))
	defer func() { require.NoError(t, server.Close()) }()

	remote, err := client.Dial(server.LocalEndpoint().String())
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	require.NoError(t, client.WriteTo([]byte{1, 2, 3}, remote))
	p := mustRead(t, server)
	assert.Equal(t, []byte{1, 2, 3}, p.Data)
	assert.True(t, p.From.Addr().Is6())
}

func TestUDP_BindError(t *testing.T) {
	first := NewUDP()
	require.NoError(t, first.Listen("127.0.0.1:0"))
	defer func() { require.NoError(t, first.Close()) }()

	second := NewUDP()
	err := second.Listen(first.LocalEndpoint().String())
	require.Error(t, err)
	assert.True(t, IsBindError(err))

	err = NewUDP().Listen("not an address")
	assert.True(t, IsBindError(err))
}

func TestUDP_NotConnected(t *testing.T) {
	c := NewUDP()
	_, err := c.ReadPacket()
	assert.Equal(t, ErrNotConnected, err)
	assert.Equal(t, ErrNotConnected, c.WriteTo(nil, wire.MustParseEndpoint("127.0.0.1:1")))
}

func TestWebSocket(t *testing.T) {
	if !nettest.TestableNetwork("tcp") {
		t.Skip("tcp is not supported")
	}
	testLoopback(t, NewWebSocket(), NewWebSocket())
}

func TestWebSocket_Peers(t *testing.T) {
	server := NewWebSocket()
	server.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	require.NoError(t, server.Listen("127.0.0.1:0"))
	defer func() { require.NoError(t, server.Close()) }()
	addr := server.LocalEndpoint().String()

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	clientA, clientB := NewWebSocket(), NewWebSocket()
	_, err = clientA.Dial(addr)
	require.NoError(t, err)
	defer func() { require.NoError(t, clientA.Close()) }()
	_, err = clientB.Dial("ws://" + addr + "/")
	require.NoError(t, err)
	defer func() { require.NoError(t, clientB.Close()) }()

	require.NoError(t, clientA.WriteTo([]byte("a"), server.LocalEndpoint()))
	pA := mustRead(t, server)
	require.NoError(t, clientB.WriteTo([]byte("b"), server.LocalEndpoint()))
	pB := mustRead(t, server)
	assert.NotEqual(t, pA.From, pB.From)

	require.NoError(t, server.WriteTo([]byte("to-b"), pB.From))
	assert.Equal(t, []byte("to-b"), mustRead(t, clientB).Data)

	require.NoError(t, server.Drop(pA.From))
	err = server.WriteTo([]byte("x"), pA.From)
	assert.Error(t, err)

	// The dropped client notices the closed stream.
	select {
	case res := <-readAsync(clientA):
		assert.Error(t, res.err)
	case <-time.After(5 * time.Second):
		t.Fatal("dropped client did not observe the close")
	}
}

func TestWebSocket_BindError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ep, err := wire.EndpointFromAddr(srv.Listener.Addr())
	require.NoError(t, err)

	err = NewWebSocket().Listen(ep.String())
	assert.True(t, IsBindError(err))

	_, err = NewWebSocket().Dial(ep.String())
	assert.True(t, IsBindError(err))
}

func TestNew(t *testing.T) {
	c, err := New(UDPType)
	require.NoError(t, err)
	assert.Equal(t, UDPType, c.Type())

	c, err = New(WebSocketType)
	require.NoError(t, err)
	assert.Equal(t, WebSocketType, c.Type())

	_, err = New("carrier-pigeon")
	assert.Error(t, err)
}
