package wire

import (
	"net"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_Scalars(t *testing.T) {
	w := NewWriter(16)
	w.WriteUint8(0xab)
	w.WriteUint16(0x0102)
	w.WriteUint32(0x03040506)
	w.WriteBool(true)
	w.WriteInt32(-1)
	require.NoError(t, w.Err())
	assert.Equal(t,
		[]byte{0xab, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x01, 0xff, 0xff, 0xff, 0xff},
		w.Bytes())

	r := NewReader(w.Bytes())
	u8, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xab), u8)
	u16, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), u16)
	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x03040506), u32)
	b, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)
	i32, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-1), i32)
	assert.Equal(t, 0, r.Len())
}

func TestWriter_Uint64(t *testing.T) {
	w := NewWriter(8)
	w.WriteUint64(0x0102030405060708)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, w.Bytes())

	v, err := NewReader(w.Bytes()).ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), v)
}

func TestBlobsAndStrings(t *testing.T) {
	w := NewWriter(32)
	w.WriteBytes([]byte("foo"))
	w.WriteString("héllo")
	require.NoError(t, w.Err())
	assert.Equal(t, []byte{0x00, 0x03, 'f', 'o', 'o'}, w.Bytes()[:5])

	r := NewReader(w.Bytes())
	b, err := r.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("foo"), b)
	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)
}

func TestReadBytes_Copies(t *testing.T) {
	data := []byte{0x00, 0x01, 'x'}
	b, err := NewReader(data).ReadBytes()
	require.NoError(t, err)
	data[2] = 'y'
	assert.Equal(t, []byte("x"), b)
}

func TestWriter_TooLong(t *testing.T) {
	w := NewWriter(0)
	w.WriteString(strings.Repeat("a", MaxBlobLen+1))
	require.Error(t, w.Err())
	assert.Equal(t, ErrTooLong, errors.Cause(w.Err()))

	// later writes are ignored
	w.WriteUint8(1)
	assert.Equal(t, 0, w.Len())
}

func TestReader_InvalidString(t *testing.T) {
	_, err := NewReader([]byte{0x00, 0x02, 0xff, 0xfe}).ReadString()
	assert.Equal(t, ErrInvalidString, err)
}

func TestReader_ShortRead(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		read func(r *Reader) error
	}{
		{"uint8", nil, func(r *Reader) error { _, err := r.ReadUint8(); return err }},
		{"uint16", []byte{1}, func(r *Reader) error { _, err := r.ReadUint16(); return err }},
		{"uint32", []byte{1, 2, 3}, func(r *Reader) error { _, err := r.ReadUint32(); return err }},
		{"blob header", []byte{0}, func(r *Reader) error { _, err := r.ReadBytes(); return err }},
		{"blob body", []byte{0, 4, 1, 2}, func(r *Reader) error { _, err := r.ReadBytes(); return err }},
		{"string body", []byte{0, 2, 'a'}, func(r *Reader) error { _, err := r.ReadString(); return err }},
		{"endpoint", []byte{4, 127, 0}, func(r *Reader) error { _, err := r.ReadEndpoint(); return err }},
		{"null blob", []byte{1, 0}, func(r *Reader) error { _, err := r.ReadNullBytes(); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, ErrShortRead, tc.read(NewReader(tc.data)))
		})
	}
}

func TestReader_Peek(t *testing.T) {
	r := NewReader([]byte{7, 8})
	b, err := r.Peek()
	require.NoError(t, err)
	assert.Equal(t, byte(7), b)
	assert.Equal(t, 0, r.Offset())

	_, err = NewReader(nil).Peek()
	assert.Equal(t, ErrShortRead, err)
}

func TestNullable(t *testing.T) {
	s := "kind"
	ep := MustParseEndpoint("10.0.0.1:4000")

	w := NewWriter(32)
	w.WriteNullBytes(nil)
	w.WriteNullBytes([]byte{})
	w.WriteNullString(nil)
	w.WriteNullString(&s)
	w.WriteNullEndpoint(nil)
	w.WriteNullEndpoint(&ep)
	require.NoError(t, w.Err())

	r := NewReader(w.Bytes())
	b, err := r.ReadNullBytes()
	require.NoError(t, err)
	assert.Nil(t, b)
	b, err = r.ReadNullBytes()
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.Len(t, b, 0)
	sp, err := r.ReadNullString()
	require.NoError(t, err)
	assert.Nil(t, sp)
	sp, err = r.ReadNullString()
	require.NoError(t, err)
	require.NotNil(t, sp)
	assert.Equal(t, s, *sp)
	epp, err := r.ReadNullEndpoint()
	require.NoError(t, err)
	assert.Nil(t, epp)
	epp, err = r.ReadNullEndpoint()
	require.NoError(t, err)
	require.NotNil(t, epp)
	assert.Equal(t, ep, *epp)
	assert.Equal(t, 0, r.Len())
}

func TestEndpoint_Encoding(t *testing.T) {
	v4 := MustParseEndpoint("127.0.0.1:8080")
	w := NewWriter(8)
	w.WriteEndpoint(v4)
	assert.Equal(t, []byte{4, 127, 0, 0, 1, 0x1f, 0x90}, w.Bytes())

	v6 := MustParseEndpoint("[::1]:9")
	w.Reset()
	w.WriteEndpoint(v6)
	assert.Len(t, w.Bytes(), 1+16+2)

	for _, ep := range []Endpoint{v4, v6, {}} {
		w.Reset()
		w.WriteEndpoint(ep)
		got, err := NewReader(w.Bytes()).ReadEndpoint()
		require.NoError(t, err)
		assert.Equal(t, ep, got)
	}
}

func TestEndpoint_InvalidLength(t *testing.T) {
	_, err := NewReader([]byte{5, 1, 2, 3, 4, 5, 0, 1}).ReadEndpoint()
	assert.Equal(t, ErrInvalidEndpoint, err)
}

func TestEndpointFromAddr(t *testing.T) {
	ep, err := EndpointFromAddr(&net.UDPAddr{IP: net.ParseIP("192.168.1.2"), Port: 1234})
	require.NoError(t, err)
	assert.Equal(t, MustParseEndpoint("192.168.1.2:1234"), ep)
	assert.True(t, ep.Addr().Is4())

	ep2, err := EndpointFromAddr(&net.TCPAddr{IP: net.IPv4(192, 168, 1, 2), Port: 1234})
	require.NoError(t, err)
	assert.Equal(t, ep, ep2)

	_, err = EndpointFromAddr(nil)
	assert.Equal(t, ErrInvalidEndpoint, err)

	assert.Equal(t, "192.168.1.2:1234", UDPAddr(ep).String())
}
