package message

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skyarena/pkg/wire"
)

func strPtr(s string) *string { return &s }

func epPtr(s string) *wire.Endpoint {
	ep := wire.MustParseEndpoint(s)
	return &ep
}

func sampleMessages() map[string]Message {
	return map[string]Message{
		"control ping": &Control{Header: Header{Index: 1}, Kind: Ping},
		"control pong": &Control{Header: Header{Index: 2}, Kind: Pong},
		"object sync":  &ObjectSync{Header: Header{Index: 3}, ObjectID: 9, State: []byte{1, 2, 3}},
		"object control populated": &ObjectControl{
			Reliable: Reliable{Header: Header{Index: 4}, ShouldAck: true},
			ObjectID: 10, Action: ObjectSpawn, Kind: strPtr("player"), Data: []byte("xyz"),
		},
		"object control null": &ObjectControl{
			Reliable: Reliable{Header: Header{Index: 5}},
			ObjectID: 11, Action: ObjectNotFound,
		},
		"bruh": &Bruh{Header: Header{Index: 6}, Reason: "server closing"},
		"ack":  &Ack{Header: Header{Index: 7}, AckIndex: 3},
		"rpc": &RPC{
			Reliable: Reliable{Header: Header{Index: 8}, ShouldAck: true},
			ObjectID: 12, Method: "jump", Args: []byte{0xff},
		},
		"chat populated": &Chat{
			Reliable: Reliable{Header: Header{Index: 9}, ShouldAck: true},
			Author:   epPtr("10.1.2.3:5000"), Text: "hello there",
		},
		"chat null": &Chat{Reliable: Reliable{Header: Header{Index: 10}}, Text: "anon"},
		"info response": &InfoResponse{
			Reliable: Reliable{Header: Header{Index: 11}, ShouldAck: true},
			Subject:  wire.MustParseEndpoint("[2001:db8::1]:7777"), IsServer: true, Info: []byte("bob"),
		},
		"info request target": &InfoRequest{
			Reliable: Reliable{Header: Header{Index: 12}, ShouldAck: true},
			Target:   epPtr("1.2.3.4:5"),
		},
		"info request all":   &InfoRequest{Reliable: Reliable{Header: Header{Index: 13}}},
		"handshake request":  &HandshakeRequest{Header: Header{Index: 14}, Version: ProtocolVersion},
		"handshake response": &HandshakeResponse{Header: Header{Index: 0xffffffff}, ThisIsYou: wire.MustParseEndpoint("8.8.8.8:53")},
	}
}

func TestRoundTrip(t *testing.T) {
	for name, m := range sampleMessages() {
		t.Run(name, func(t *testing.T) {
			b, err := Encode(m)
			require.NoError(t, err)
			assert.Equal(t, byte(m.Type()), b[0])

			r := wire.NewReader(b)
			got, err := Decode(r)
			require.NoError(t, err)
			assert.Equal(t, m, got)
			assert.Equal(t, 0, r.Len())
		})
	}
}

func TestTypeTags(t *testing.T) {
	assert.Equal(t, Type(1), ControlType)
	assert.Equal(t, Type(2), ObjectSyncType)
	assert.Equal(t, Type(3), ObjectControlType)

	seen := make(map[Type]bool)
	for typ := range registry {
		assert.False(t, seen[typ])
		seen[typ] = true
		assert.NotContains(t, typ.String(), "UNKNOWN")
	}
	assert.Equal(t, "UNKNOWN:200", Type(200).String())
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode(wire.NewReader([]byte{0xee, 0, 0, 0, 0}))
	require.Error(t, err)
	assert.Equal(t, ErrUnknownType, errors.Cause(err))
}

func TestDecodeAll(t *testing.T) {
	var payload []byte
	var err error
	msgs := []Message{
		&Control{Header: Header{Index: 1}, Kind: Ping},
		&Chat{Reliable: Reliable{Header: Header{Index: 2}}, Text: "a"},
		&Ack{Header: Header{Index: 3}, AckIndex: 1},
	}
	for _, m := range msgs {
		payload, err = AppendEncode(payload, m)
		require.NoError(t, err)
	}

	got, err := DecodeAll(payload)
	require.NoError(t, err)
	assert.Equal(t, msgs, got)

	t.Run("empty", func(t *testing.T) {
		got, err := DecodeAll(nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("truncated trailing message", func(t *testing.T) {
		got, err := DecodeAll(payload[:len(payload)-2])
		require.Error(t, err)
		ferr, ok := err.(*FramingError)
		require.True(t, ok)
		assert.Equal(t, wire.ErrShortRead, errors.Cause(ferr.Err))
		assert.Len(t, got, 2)
	})

	t.Run("garbage after valid message", func(t *testing.T) {
		first, err := Encode(msgs[0])
		require.NoError(t, err)
		got, err := DecodeAll(append(first, 0x00))
		require.Error(t, err)
		ferr, ok := err.(*FramingError)
		require.True(t, ok)
		assert.Equal(t, len(first), ferr.Offset)
		assert.Len(t, got, 1)
	})
}

func TestSize(t *testing.T) {
	n, err := Size(&Chat{Text: "a"})
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = Size(&Control{})
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestEncode_TooLong(t *testing.T) {
	_, err := Encode(&RPC{Args: make([]byte, wire.MaxBlobLen+1)})
	require.Error(t, err)
	assert.Equal(t, wire.ErrTooLong, errors.Cause(err))
}

func TestCopyReliable(t *testing.T) {
	calls := 0
	orig := &ObjectControl{
		Reliable: Reliable{Header: Header{Index: 1}, ShouldAck: true, OnAck: func() { calls++ }},
		Kind:     strPtr("crate"),
		Data:     []byte{1, 2},
	}
	cp := orig.CopyReliable().(*ObjectControl)

	*orig.Kind = "barrel"
	orig.Data[0] = 9
	orig.Index = 2

	assert.Equal(t, "crate", *cp.Kind)
	assert.Equal(t, []byte{1, 2}, cp.Data)
	assert.Equal(t, uint32(1), cp.Index)

	cp.Complete()
	cp.Complete()
	orig.Complete()
	assert.Equal(t, 1, calls)
}

func TestCopyReliable_AllVariants(t *testing.T) {
	for name, m := range sampleMessages() {
		rm, ok := m.(ReliableMessage)
		if !ok {
			continue
		}
		t.Run(name, func(t *testing.T) {
			cp := rm.CopyReliable()
			assert.Equal(t, rm.Type(), cp.Type())
			a, err := Encode(rm)
			require.NoError(t, err)
			b, err := Encode(cp)
			require.NoError(t, err)
			assert.Equal(t, a, b)
		})
	}
}

func TestIsReliable(t *testing.T) {
	assert.False(t, IsReliable(&Control{}))
	assert.False(t, IsReliable(&Chat{}))
	assert.True(t, IsReliable(&Chat{Reliable: Reliable{ShouldAck: true}}))
}

func TestString(t *testing.T) {
	for name, m := range sampleMessages() {
		t.Run(name, func(t *testing.T) {
			assert.Contains(t, m.String(), m.Type().String())
		})
	}
}
