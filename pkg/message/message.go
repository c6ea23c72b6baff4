// Package message defines the tagged union of skyarena messages and their
// binary encoding.
package message

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/skycoin/skyarena/pkg/wire"
)

// Type is the discriminant written as the first byte of every message.
type Type byte

// Message types. The values are part of the wire format and must never be
// reassigned.
const (
	ControlType           = Type(1)
	ObjectSyncType        = Type(2)
	ObjectControlType     = Type(3)
	BruhType              = Type(4)
	AckType               = Type(5)
	RPCType               = Type(6)
	ChatType              = Type(7)
	InfoResponseType      = Type(8)
	InfoRequestType       = Type(9)
	HandshakeRequestType  = Type(10)
	HandshakeResponseType = Type(11)
)

func (t Type) String() string {
	var names = []string{
		ControlType:           "CONTROL",
		ObjectSyncType:        "OBJECT_SYNC",
		ObjectControlType:     "OBJECT_CONTROL",
		BruhType:              "BRUH",
		AckType:               "ACK",
		RPCType:               "RPC",
		ChatType:              "CHAT",
		InfoResponseType:      "INFO_RESPONSE",
		InfoRequestType:       "INFO_REQUEST",
		HandshakeRequestType:  "HANDSHAKE_REQUEST",
		HandshakeResponseType: "HANDSHAKE_RESPONSE",
	}
	if int(t) >= len(names) || names[t] == "" {
		return fmt.Sprintf("UNKNOWN:%d", t)
	}
	return names[t]
}

// Message is implemented by every message variant.
type Message interface {
	fmt.Stringer

	// Type returns the message tag.
	Type() Type

	// MessageHeader gives access to the common fields.
	MessageHeader() *Header

	encode(w *wire.Writer)
	decode(r *wire.Reader) error
}

// Header holds the fields common to all messages. Index is assigned by the
// transport immediately before the first transmission and is scoped per
// destination.
type Header struct {
	Index uint32
}

// MessageHeader implements Message.
func (h *Header) MessageHeader() *Header { return h }

func (h *Header) encode(w *wire.Writer, t Type) {
	w.WriteUint8(uint8(t))
	w.WriteUint32(h.Index)
}

func (h *Header) decode(r *wire.Reader, t Type) error {
	tag, err := r.ReadUint8()
	if err != nil {
		return err
	}
	if Type(tag) != t {
		return errors.Errorf("expected tag %s, got %s", t, Type(tag))
	}
	h.Index, err = r.ReadUint32()
	return err
}

// ReliableMessage is a message that may request an acknowledgment.
type ReliableMessage interface {
	Message

	// Reliability gives access to the acknowledgment fields.
	Reliability() *Reliable

	// CopyReliable returns a deep copy that shares the completion callback.
	CopyReliable() ReliableMessage
}

// Reliable extends Header with an acknowledgment request flag and a local
// completion callback. Only ShouldAck travels on the wire.
type Reliable struct {
	Header
	ShouldAck bool

	// OnAck is invoked once the receiver acknowledged the message.
	OnAck func()

	once *sync.Once
}

// Reliability implements ReliableMessage.
func (r *Reliable) Reliability() *Reliable { return r }

// Complete invokes the completion callback. Copies made with CopyReliable
// share the same guard, so the callback fires at most once per original.
func (r *Reliable) Complete() {
	if r.OnAck == nil {
		return
	}
	if r.once == nil {
		r.once = new(sync.Once)
	}
	r.once.Do(r.OnAck)
}

func (r *Reliable) copy() Reliable {
	if r.once == nil {
		r.once = new(sync.Once)
	}
	return *r
}

func (r *Reliable) encode(w *wire.Writer, t Type) {
	r.Header.encode(w, t)
	w.WriteBool(r.ShouldAck)
}

func (r *Reliable) decode(rd *wire.Reader, t Type) error {
	if err := r.Header.decode(rd, t); err != nil {
		return err
	}
	var err error
	r.ShouldAck, err = rd.ReadBool()
	return err
}

func (r *Reliable) String() string {
	return fmt.Sprintf("<index:%d><ack:%t>", r.Index, r.ShouldAck)
}

// IsReliable reports whether m requests an acknowledgment.
func IsReliable(m Message) bool {
	rm, ok := m.(ReliableMessage)
	return ok && rm.Reliability().ShouldAck
}

func bytesCopy(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
