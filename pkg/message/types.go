package message

import (
	"fmt"

	"github.com/skycoin/skyarena/pkg/wire"
)

// ControlKind distinguishes keep-alive control messages.
type ControlKind uint8

// Control kinds.
const (
	Ping = ControlKind(0)
	Pong = ControlKind(1)
)

func (k ControlKind) String() string {
	switch k {
	case Ping:
		return "PING"
	case Pong:
		return "PONG"
	default:
		return fmt.Sprintf("UNKNOWN:%d", uint8(k))
	}
}

// Control is an unreliable keep-alive.
type Control struct {
	Header
	Kind ControlKind
}

// Type implements Message.
func (*Control) Type() Type { return ControlType }

func (m *Control) encode(w *wire.Writer) {
	m.Header.encode(w, ControlType)
	w.WriteUint8(uint8(m.Kind))
}

func (m *Control) decode(r *wire.Reader) (err error) {
	if err = m.Header.decode(r, ControlType); err != nil {
		return err
	}
	k, err := r.ReadUint8()
	m.Kind = ControlKind(k)
	return err
}

func (m *Control) String() string {
	return fmt.Sprintf("<type:%s><index:%d><kind:%s>", ControlType, m.Index, m.Kind)
}

// ObjectSync carries unreliable state of a replicated object.
type ObjectSync struct {
	Header
	ObjectID uint32
	State    []byte
}

// Type implements Message.
func (*ObjectSync) Type() Type { return ObjectSyncType }

func (m *ObjectSync) encode(w *wire.Writer) {
	m.Header.encode(w, ObjectSyncType)
	w.WriteUint32(m.ObjectID)
	w.WriteBytes(m.State)
}

func (m *ObjectSync) decode(r *wire.Reader) (err error) {
	if err = m.Header.decode(r, ObjectSyncType); err != nil {
		return err
	}
	if m.ObjectID, err = r.ReadUint32(); err != nil {
		return err
	}
	m.State, err = r.ReadBytes()
	return err
}

func (m *ObjectSync) String() string {
	return fmt.Sprintf("<type:%s><index:%d><object:%d><size:%d>", ObjectSyncType, m.Index, m.ObjectID, len(m.State))
}

// ObjectAction is the operation carried by ObjectControl.
type ObjectAction uint8

// Object actions.
const (
	ObjectSpawn    = ObjectAction(0)
	ObjectDestroy  = ObjectAction(1)
	ObjectInfo     = ObjectAction(2)
	ObjectNotFound = ObjectAction(3)
)

func (a ObjectAction) String() string {
	switch a {
	case ObjectSpawn:
		return "SPAWN"
	case ObjectDestroy:
		return "DESTROY"
	case ObjectInfo:
		return "INFO"
	case ObjectNotFound:
		return "NOT_FOUND"
	default:
		return fmt.Sprintf("UNKNOWN:%d", uint8(a))
	}
}

// ObjectControl spawns, destroys or describes a replicated object.
type ObjectControl struct {
	Reliable
	ObjectID uint32
	Action   ObjectAction
	Kind     *string
	Data     []byte
}

// Type implements Message.
func (*ObjectControl) Type() Type { return ObjectControlType }

func (m *ObjectControl) encode(w *wire.Writer) {
	m.Reliable.encode(w, ObjectControlType)
	w.WriteUint32(m.ObjectID)
	w.WriteUint8(uint8(m.Action))
	w.WriteNullString(m.Kind)
	w.WriteNullBytes(m.Data)
}

func (m *ObjectControl) decode(r *wire.Reader) (err error) {
	if err = m.Reliable.decode(r, ObjectControlType); err != nil {
		return err
	}
	if m.ObjectID, err = r.ReadUint32(); err != nil {
		return err
	}
	a, err := r.ReadUint8()
	if err != nil {
		return err
	}
	m.Action = ObjectAction(a)
	if m.Kind, err = r.ReadNullString(); err != nil {
		return err
	}
	m.Data, err = r.ReadNullBytes()
	return err
}

// CopyReliable implements ReliableMessage.
func (m *ObjectControl) CopyReliable() ReliableMessage {
	c := *m
	c.Reliable = m.Reliable.copy()
	if m.Kind != nil {
		k := *m.Kind
		c.Kind = &k
	}
	c.Data = bytesCopy(m.Data)
	return &c
}

func (m *ObjectControl) String() string {
	kind := "<nil>"
	if m.Kind != nil {
		kind = *m.Kind
	}
	return fmt.Sprintf("<type:%s>%s<object:%d><action:%s><kind:%s><size:%d>",
		ObjectControlType, m.Reliable.String(), m.ObjectID, m.Action, kind, len(m.Data))
}

// Bruh announces that the sender is going away.
type Bruh struct {
	Header
	Reason string
}

// Type implements Message.
func (*Bruh) Type() Type { return BruhType }

func (m *Bruh) encode(w *wire.Writer) {
	m.Header.encode(w, BruhType)
	w.WriteString(m.Reason)
}

func (m *Bruh) decode(r *wire.Reader) (err error) {
	if err = m.Header.decode(r, BruhType); err != nil {
		return err
	}
	m.Reason, err = r.ReadString()
	return err
}

func (m *Bruh) String() string {
	return fmt.Sprintf("<type:%s><index:%d><reason:%q>", BruhType, m.Index, m.Reason)
}

// Ack acknowledges the reliable message with index AckIndex.
type Ack struct {
	Header
	AckIndex uint32
}

// Type implements Message.
func (*Ack) Type() Type { return AckType }

func (m *Ack) encode(w *wire.Writer) {
	m.Header.encode(w, AckType)
	w.WriteUint32(m.AckIndex)
}

func (m *Ack) decode(r *wire.Reader) (err error) {
	if err = m.Header.decode(r, AckType); err != nil {
		return err
	}
	m.AckIndex, err = r.ReadUint32()
	return err
}

func (m *Ack) String() string {
	return fmt.Sprintf("<type:%s><index:%d><ack_index:%d>", AckType, m.Index, m.AckIndex)
}

// RPC invokes Method on a replicated object.
type RPC struct {
	Reliable
	ObjectID uint32
	Method   string
	Args     []byte
}

// Type implements Message.
func (*RPC) Type() Type { return RPCType }

func (m *RPC) encode(w *wire.Writer) {
	m.Reliable.encode(w, RPCType)
	w.WriteUint32(m.ObjectID)
	w.WriteString(m.Method)
	w.WriteBytes(m.Args)
}

func (m *RPC) decode(r *wire.Reader) (err error) {
	if err = m.Reliable.decode(r, RPCType); err != nil {
		return err
	}
	if m.ObjectID, err = r.ReadUint32(); err != nil {
		return err
	}
	if m.Method, err = r.ReadString(); err != nil {
		return err
	}
	m.Args, err = r.ReadBytes()
	return err
}

// CopyReliable implements ReliableMessage.
func (m *RPC) CopyReliable() ReliableMessage {
	c := *m
	c.Reliable = m.Reliable.copy()
	c.Args = bytesCopy(m.Args)
	return &c
}

func (m *RPC) String() string {
	return fmt.Sprintf("<type:%s>%s<object:%d><method:%s><size:%d>",
		RPCType, m.Reliable.String(), m.ObjectID, m.Method, len(m.Args))
}

// Chat is a chat line. Author is filled in by the server when relaying.
type Chat struct {
	Reliable
	Author *wire.Endpoint
	Text   string
}

// Type implements Message.
func (*Chat) Type() Type { return ChatType }

func (m *Chat) encode(w *wire.Writer) {
	m.Reliable.encode(w, ChatType)
	w.WriteNullEndpoint(m.Author)
	w.WriteString(m.Text)
}

func (m *Chat) decode(r *wire.Reader) (err error) {
	if err = m.Reliable.decode(r, ChatType); err != nil {
		return err
	}
	if m.Author, err = r.ReadNullEndpoint(); err != nil {
		return err
	}
	m.Text, err = r.ReadString()
	return err
}

// CopyReliable implements ReliableMessage.
func (m *Chat) CopyReliable() ReliableMessage {
	c := *m
	c.Reliable = m.Reliable.copy()
	if m.Author != nil {
		a := *m.Author
		c.Author = &a
	}
	return &c
}

func (m *Chat) String() string {
	author := "<nil>"
	if m.Author != nil {
		author = m.Author.String()
	}
	return fmt.Sprintf("<type:%s>%s<author:%s><text:%q>", ChatType, m.Reliable.String(), author, m.Text)
}

// InfoResponse carries the application-defined user info of Subject.
type InfoResponse struct {
	Reliable
	Subject  wire.Endpoint
	IsServer bool
	Info     []byte
}

// Type implements Message.
func (*InfoResponse) Type() Type { return InfoResponseType }

func (m *InfoResponse) encode(w *wire.Writer) {
	m.Reliable.encode(w, InfoResponseType)
	w.WriteEndpoint(m.Subject)
	w.WriteBool(m.IsServer)
	w.WriteBytes(m.Info)
}

func (m *InfoResponse) decode(r *wire.Reader) (err error) {
	if err = m.Reliable.decode(r, InfoResponseType); err != nil {
		return err
	}
	if m.Subject, err = r.ReadEndpoint(); err != nil {
		return err
	}
	if m.IsServer, err = r.ReadBool(); err != nil {
		return err
	}
	m.Info, err = r.ReadBytes()
	return err
}

// CopyReliable implements ReliableMessage.
func (m *InfoResponse) CopyReliable() ReliableMessage {
	c := *m
	c.Reliable = m.Reliable.copy()
	c.Info = bytesCopy(m.Info)
	return &c
}

func (m *InfoResponse) String() string {
	return fmt.Sprintf("<type:%s>%s<subject:%s><server:%t><size:%d>",
		InfoResponseType, m.Reliable.String(), m.Subject, m.IsServer, len(m.Info))
}

// InfoRequest asks for the user info of Target, or of every known peer if
// Target is nil.
type InfoRequest struct {
	Reliable
	Target *wire.Endpoint
}

// Type implements Message.
func (*InfoRequest) Type() Type { return InfoRequestType }

func (m *InfoRequest) encode(w *wire.Writer) {
	m.Reliable.encode(w, InfoRequestType)
	w.WriteNullEndpoint(m.Target)
}

func (m *InfoRequest) decode(r *wire.Reader) (err error) {
	if err = m.Reliable.decode(r, InfoRequestType); err != nil {
		return err
	}
	m.Target, err = r.ReadNullEndpoint()
	return err
}

// CopyReliable implements ReliableMessage.
func (m *InfoRequest) CopyReliable() ReliableMessage {
	c := *m
	c.Reliable = m.Reliable.copy()
	if m.Target != nil {
		t := *m.Target
		c.Target = &t
	}
	return &c
}

func (m *InfoRequest) String() string {
	target := "<all>"
	if m.Target != nil {
		target = m.Target.String()
	}
	return fmt.Sprintf("<type:%s>%s<target:%s>", InfoRequestType, m.Reliable.String(), target)
}

// ProtocolVersion is sent in HandshakeRequest.
const ProtocolVersion = uint16(1)

// HandshakeRequest opens a session with a server.
type HandshakeRequest struct {
	Header
	Version uint16
}

// Type implements Message.
func (*HandshakeRequest) Type() Type { return HandshakeRequestType }

func (m *HandshakeRequest) encode(w *wire.Writer) {
	m.Header.encode(w, HandshakeRequestType)
	w.WriteUint16(m.Version)
}

func (m *HandshakeRequest) decode(r *wire.Reader) (err error) {
	if err = m.Header.decode(r, HandshakeRequestType); err != nil {
		return err
	}
	m.Version, err = r.ReadUint16()
	return err
}

func (m *HandshakeRequest) String() string {
	return fmt.Sprintf("<type:%s><index:%d><version:%d>", HandshakeRequestType, m.Index, m.Version)
}

// HandshakeResponse tells the client which endpoint the server observed it as.
type HandshakeResponse struct {
	Header
	ThisIsYou wire.Endpoint
}

// Type implements Message.
func (*HandshakeResponse) Type() Type { return HandshakeResponseType }

func (m *HandshakeResponse) encode(w *wire.Writer) {
	m.Header.encode(w, HandshakeResponseType)
	w.WriteEndpoint(m.ThisIsYou)
}

func (m *HandshakeResponse) decode(r *wire.Reader) (err error) {
	if err = m.Header.decode(r, HandshakeResponseType); err != nil {
		return err
	}
	m.ThisIsYou, err = r.ReadEndpoint()
	return err
}

func (m *HandshakeResponse) String() string {
	return fmt.Sprintf("<type:%s><index:%d><this_is_you:%s>", HandshakeResponseType, m.Index, m.ThisIsYou)
}
