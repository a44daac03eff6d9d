// Package wire implements the length-prefixed, BARE-style framing used by
// every qcp control and session message: a 4-byte little-endian size
// followed by a self-describing payload (primitives little-endian, booleans
// one byte, Option<T> as a presence byte, strings/bytes length-prefixed).
package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// DefaultMaxFrameSize bounds the advertised size of a single frame. A
// receiver must refuse anything larger to bound memory use.
const DefaultMaxFrameSize = 1 << 20 // 1 MiB

// Marshaler is implemented by every wire message type.
type Marshaler interface {
	MarshalWire(w *Writer) error
}

// Unmarshaler is implemented by every wire message type.
type Unmarshaler interface {
	UnmarshalWire(r *Reader) error
}

// Writer accumulates a BARE-encoded payload.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// WriteUint8 writes a single byte.
func (w *Writer) WriteUint8(v uint8) error {
	return w.buf.WriteByte(v)
}

// WriteBool writes a one-byte boolean (0 or 1).
func (w *Writer) WriteBool(v bool) error {
	if v {
		return w.WriteUint8(1)
	}
	return w.WriteUint8(0)
}

// WriteUint16 writes a little-endian u16.
func (w *Writer) WriteUint16(v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	_, err := w.buf.Write(b[:])
	return err
}

// WriteUint32 writes a little-endian u32.
func (w *Writer) WriteUint32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.buf.Write(b[:])
	return err
}

// WriteUint64 writes a little-endian u64 (the BARE "uint" primitive as used
// by every Uint-typed field in the protocol: bandwidths, window sizes,
// statistics counters).
func (w *Writer) WriteUint64(v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.buf.Write(b[:])
	return err
}

// WriteBytes writes a variable-length byte string: u32 length prefix then
// the raw bytes.
func (w *Writer) WriteBytes(b []byte) error {
	if err := w.WriteUint32(uint32(len(b))); err != nil {
		return err
	}
	_, err := w.buf.Write(b)
	return err
}

// WriteString writes a variable-length UTF-8 string the same way as
// WriteBytes.
func (w *Writer) WriteString(s string) error {
	return w.WriteBytes([]byte(s))
}

// WriteOptionPresent writes the presence byte for an Option<T>. The caller
// writes T itself only when present is true.
func (w *Writer) WriteOptionPresent(present bool) error {
	return w.WriteBool(present)
}

// Reader decodes a BARE-encoded payload, enforcing that reads never run past
// the buffer (a short or truncated frame is an error, never a panic).
type Reader struct {
	r *bytes.Reader
}

// NewReader wraps a decoded frame payload for reading.
func NewReader(payload []byte) *Reader {
	return &Reader{r: bytes.NewReader(payload)}
}

// Remaining reports how many unread bytes remain. Used by forward-compatible
// readers to tolerate trailing bytes from a newer writer.
func (r *Reader) Remaining() int { return r.r.Len() }

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, errors.Wrap(err, "reading uint8")
	}
	return b, nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadUint8()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, errors.Wrap(err, "reading uint16")
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, errors.Wrap(err, "reading uint32")
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, errors.Wrap(err, "reading uint64")
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// maxStringLen bounds a single string/byte-array field independent of the
// overall frame limit, as a defense against a corrupted length prefix
// claiming more data than could possibly follow within the frame.
const maxStringLen = DefaultMaxFrameSize

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n > maxStringLen {
		return nil, errors.Errorf("wire: string/bytes field length %d exceeds limit %d", n, maxStringLen)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, errors.Wrap(err, "reading bytes field")
	}
	return b, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadOptionPresent reads the presence byte of an Option<T>.
func (r *Reader) ReadOptionPresent() (bool, error) {
	return r.ReadBool()
}

// WriteFrame length-prefixes payload with a little-endian u32 and writes
// both to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "writing frame length")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "writing frame payload")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r, refusing any frame whose
// advertised size exceeds maxSize.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "reading frame length")
	}
	size := binary.LittleEndian.Uint32(hdr[:])
	if size > maxSize {
		return nil, errors.Errorf("wire: frame size %d exceeds limit %d", size, maxSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "reading frame payload")
	}
	return payload, nil
}

// WriteMessage marshals m and writes it to w as one length-prefixed frame.
func WriteMessage(w io.Writer, m Marshaler) error {
	wr := NewWriter()
	if err := m.MarshalWire(wr); err != nil {
		return errors.Wrap(err, "marshaling message")
	}
	return WriteFrame(w, wr.Bytes())
}

// ReadMessage reads one length-prefixed frame from r and unmarshals it into
// m. Trailing bytes within the frame (from a newer writer's extension
// fields) are tolerated and ignored by construction, since Unmarshal reads
// only the fields it knows about.
func ReadMessage(r io.Reader, maxSize uint32, m Unmarshaler) error {
	payload, err := ReadFrame(r, maxSize)
	if err != nil {
		return err
	}
	return m.UnmarshalWire(NewReader(payload))
}
