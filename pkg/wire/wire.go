// Package wire implements the binary primitives shared by every skyarena
// message: big-endian fixed-width scalars, length-prefixed blobs and strings,
// nullable fields and the compact endpoint encoding.
package wire

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// MaxBlobLen is the largest blob or string that fits behind a length prefix.
const MaxBlobLen = math.MaxUint16

var (
	// ErrShortRead occurs when a read runs past the end of the payload.
	ErrShortRead = errors.New("wire: short read")

	// ErrTooLong occurs when a blob or string does not fit its length prefix.
	ErrTooLong = errors.New("wire: value too long")

	// ErrInvalidString occurs when a decoded string is not valid UTF-8.
	ErrInvalidString = errors.New("wire: invalid utf-8 string")

	// ErrInvalidEndpoint occurs when an endpoint has an unsupported address length.
	ErrInvalidEndpoint = errors.New("wire: invalid endpoint")
)

var be = binary.BigEndian

// Writer appends encoded values to an internal buffer.
// The first encoding failure is kept and reported by Err; later writes are no-ops.
type Writer struct {
	buf []byte
	err error
}

// NewWriter creates a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// WriterOn creates a Writer that appends to buf.
func WriterOn(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Bytes returns the encoded bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of encoded bytes.
func (w *Writer) Len() int { return len(w.buf) }

// Err returns the first encoding error, if any.
func (w *Writer) Err() error { return w.err }

// Reset empties the buffer and clears the error, keeping the capacity.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.err = nil
}

// WriteUint8 appends a single byte.
func (w *Writer) WriteUint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

// WriteBool appends a boolean as 0x00 or 0x01.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

// WriteUint16 appends a big-endian uint16.
func (w *Writer) WriteUint16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, byte(v>>8), byte(v))
}

// WriteUint32 appends a big-endian uint32.
func (w *Writer) WriteUint32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// WriteUint64 appends a big-endian uint64.
func (w *Writer) WriteUint64(v uint64) {
	w.WriteUint32(uint32(v >> 32))
	w.WriteUint32(uint32(v))
}

// WriteInt32 appends a big-endian int32.
func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

// WriteBytes appends a uint16 length prefix followed by b.
func (w *Writer) WriteBytes(b []byte) {
	if w.err != nil {
		return
	}
	if len(b) > MaxBlobLen {
		w.err = errors.Wrapf(ErrTooLong, "blob of %d bytes", len(b))
		return
	}
	w.WriteUint16(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteString appends a uint16 length prefix followed by the UTF-8 bytes of s.
func (w *Writer) WriteString(s string) {
	if w.err != nil {
		return
	}
	if len(s) > MaxBlobLen {
		w.err = errors.Wrapf(ErrTooLong, "string of %d bytes", len(s))
		return
	}
	w.WriteUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteNullBytes writes a presence flag and, if b is non-nil, the blob.
func (w *Writer) WriteNullBytes(b []byte) {
	w.WriteBool(b != nil)
	if b != nil {
		w.WriteBytes(b)
	}
}

// WriteNullString writes a presence flag and, if s is non-nil, the string.
func (w *Writer) WriteNullString(s *string) {
	w.WriteBool(s != nil)
	if s != nil {
		w.WriteString(*s)
	}
}

// Reader reads encoded values from a byte slice, advancing a cursor.
type Reader struct {
	data []byte
	off  int
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the cursor position.
func (r *Reader) Offset() int { return r.off }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.data) - r.off }

// Peek returns the next byte without consuming it.
func (r *Reader) Peek() (byte, error) {
	if r.Len() < 1 {
		return 0, ErrShortRead
	}
	return r.data[r.off], nil
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || r.Len() < n {
		return nil, ErrShortRead
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBool reads a boolean. Any non-zero byte is true.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

// ReadUint16 reads a big-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return be.Uint16(b), nil
}

// ReadUint32 reads a big-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return be.Uint32(b), nil
}

// ReadUint64 reads a big-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return be.Uint64(b), nil
}

// ReadInt32 reads a big-endian int32.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadBytes reads a length-prefixed blob. The result is a copy.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	b, err := r.next(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadString reads a length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return "", err
	}
	b, err := r.next(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidString
	}
	return string(b), nil
}

// ReadNullBytes reads a presence flag and, if set, a blob.
func (r *Reader) ReadNullBytes() ([]byte, error) {
	ok, err := r.ReadBool()
	if err != nil || !ok {
		return nil, err
	}
	return r.ReadBytes()
}

// ReadNullString reads a presence flag and, if set, a string.
func (r *Reader) ReadNullString() (*string, error) {
	ok, err := r.ReadBool()
	if err != nil || !ok {
		return nil, err
	}
	s, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return &s, nil
}
