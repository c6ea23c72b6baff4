package message

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/skycoin/skyarena/pkg/wire"
)

// ErrUnknownType occurs when a payload contains an unregistered tag byte.
var ErrUnknownType = errors.New("unknown message type")

var registry = map[Type]func() Message{
	ControlType:           func() Message { return new(Control) },
	ObjectSyncType:        func() Message { return new(ObjectSync) },
	ObjectControlType:     func() Message { return new(ObjectControl) },
	BruhType:              func() Message { return new(Bruh) },
	AckType:               func() Message { return new(Ack) },
	RPCType:               func() Message { return new(RPC) },
	ChatType:              func() Message { return new(Chat) },
	InfoResponseType:      func() Message { return new(InfoResponse) },
	InfoRequestType:       func() Message { return new(InfoRequest) },
	HandshakeRequestType:  func() Message { return new(HandshakeRequest) },
	HandshakeResponseType: func() Message { return new(HandshakeResponse) },
}

// New returns an empty message of type t.
func New(t Type) (Message, error) {
	newFn, ok := registry[t]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "tag %d", byte(t))
	}
	return newFn(), nil
}

// Encode serializes m.
func Encode(m Message) ([]byte, error) {
	return AppendEncode(make([]byte, 0, 32), m)
}

// AppendEncode appends the serialized form of m to buf.
func AppendEncode(buf []byte, m Message) ([]byte, error) {
	w := wire.WriterOn(buf)
	m.encode(w)
	if err := w.Err(); err != nil {
		return buf, errors.Wrapf(err, "encode %s", m.Type())
	}
	return w.Bytes(), nil
}

// Size returns the serialized size of m.
func Size(m Message) (int, error) {
	b, err := Encode(m)
	return len(b), err
}

// Decode reads one message at the cursor of r. The tag is peeked to pick
// the variant, which then consumes the tag and its own fields.
func Decode(r *wire.Reader) (Message, error) {
	tag, err := r.Peek()
	if err != nil {
		return nil, err
	}
	m, err := New(Type(tag))
	if err != nil {
		return nil, err
	}
	if err := m.decode(r); err != nil {
		return nil, errors.Wrapf(err, "decode %s", Type(tag))
	}
	return m, nil
}

// FramingError reports a malformed or truncated payload.
// Messages decoded before Offset are still valid.
type FramingError struct {
	Offset int
	Err    error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error at offset %d: %v", e.Offset, e.Err)
}

// Cause returns the underlying error.
func (e *FramingError) Cause() error { return e.Err }

// Unwrap returns the underlying error.
func (e *FramingError) Unwrap() error { return e.Err }

// DecodeAll demultiplexes a coalesced payload into its messages.
// Messages are not resumable across payloads, so a truncated trailing message
// is reported as a *FramingError along with the messages decoded before it.
func DecodeAll(payload []byte) ([]Message, error) {
	var msgs []Message
	r := wire.NewReader(payload)
	for r.Len() > 0 {
		off := r.Offset()
		m, err := Decode(r)
		if err != nil {
			return msgs, &FramingError{Offset: off, Err: err}
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
