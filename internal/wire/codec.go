// Package wire implements the Flight Core's binary message codec: a
// length-framed, tagged-union encoding used over UDP to boards and the
// operator, over the TCP operator link, over the Unix datagram command
// socket, and for disk log records. Each message is a 1-byte variant tag
// followed by a little-endian fixed/variable payload; on the TCP operator
// link each message is framed by a 2-byte big-endian length prefix
// (FrameWriter/ReadFrame). The encoding is deterministic, implemented
// directly with encoding/binary.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// MaxFrameLen bounds a single frame's payload, keeping every typed
// message size-bounded; it is the largest length the 2-byte prefix holds.
const MaxFrameLen = 1<<16 - 1

// Encoder writes values in the wire's little-endian fixed encoding.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the accumulated encoded payload.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

func (e *Encoder) Tag(t uint8) { e.buf.WriteByte(t) }
func (e *Encoder) U8(v uint8)  { e.buf.WriteByte(v) }
func (e *Encoder) Bool(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}
func (e *Encoder) U32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}
func (e *Encoder) F64(v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	e.buf.Write(b[:])
}
func (e *Encoder) String(s string) {
	e.U32(uint32(len(s)))
	e.buf.WriteString(s)
}
func (e *Encoder) ByteSlice(b []byte) {
	e.U32(uint32(len(b)))
	e.buf.Write(b)
}

// Decoder reads values out of a fixed wire payload, tracking position and
// surfacing the first error encountered so call sites can chain reads.
type Decoder struct {
	r   *bytes.Reader
	err error
}

// NewDecoder wraps a payload for sequential decoding.
func NewDecoder(payload []byte) *Decoder {
	return &Decoder{r: bytes.NewReader(payload)}
}

// Err returns the first decode error encountered, if any.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) Tag() uint8 {
	b, err := d.r.ReadByte()
	if err != nil {
		d.fail(err)
		return 0
	}
	return b
}

func (d *Decoder) U8() uint8 {
	b, err := d.r.ReadByte()
	if err != nil {
		d.fail(err)
		return 0
	}
	return b
}

func (d *Decoder) Bool() bool {
	return d.U8() != 0
}

func (d *Decoder) U32() uint32 {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.fail(err)
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (d *Decoder) F64() float64 {
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.fail(err)
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b[:]))
}

func (d *Decoder) String() string {
	n := d.U32()
	if d.err != nil {
		return ""
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		d.fail(err)
		return ""
	}
	return string(buf)
}

func (d *Decoder) Bytes() []byte {
	n := d.U32()
	if d.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		d.fail(err)
		return nil
	}
	return buf
}

// FrameWriter writes length-prefixed frames to w: 2-byte big-endian length
// followed by the payload, matching the TCP operator link's inbound
// framing contract.
func FrameWriter(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLen {
		return fmt.Errorf("wire: frame of %d bytes exceeds max %d", len(payload), MaxFrameLen)
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
