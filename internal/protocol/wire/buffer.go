// Package wire implements the cursor buffer every ledctl frame is encoded with.
//
// Every Put accessor has a getter of the same name that consumes exactly the
// bytes the Put produced. Multi-byte values are big-endian.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// MaxLength is the largest logical length the length field can carry.
	MaxLength = math.MaxInt32

	// Absent is the logical length of a null string or byte run.
	Absent = -1

	maxLengthBytes  = 5
	defaultCapacity = 64
)

var (
	ErrShortRead       = errors.New("wire: read past committed region")
	ErrMalformedLength = errors.New("wire: malformed length")
	ErrNegativeLength  = errors.New("wire: negative length")
	ErrMalformedString = errors.New("wire: malformed utf-8")
	ErrInvalidBool     = errors.New("wire: invalid bool")
)

// Buffer is a growable byte region with a single read/write cursor.
//
// size is the committed region: the furthest byte ever written, or the full
// frame for a reader. Reads never cross it.
type Buffer struct {
	buf  []byte
	off  int
	size int
}

// NewWriter returns an empty buffer with at least capacity bytes reserved.
func NewWriter(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// NewReader wraps a received frame. The frame is committed in full.
func NewReader(frame []byte) *Buffer {
	return &Buffer{buf: frame, size: len(frame)}
}

// Seal returns [0, offset) of the backing storage.
func (b *Buffer) Seal() []byte {
	return b.buf[:b.off]
}

func (b *Buffer) Offset() int    { return b.off }
func (b *Buffer) Size() int      { return b.size }
func (b *Buffer) Cap() int       { return len(b.buf) }
func (b *Buffer) Remaining() int { return b.size - b.off }

// Reset rewinds the cursor and drops the committed region, keeping capacity.
func (b *Buffer) Reset() {
	b.off = 0
	b.size = 0
}

func (b *Buffer) grow(n int) {
	need := b.off + n
	if need <= len(b.buf) {
		return
	}
	c := len(b.buf) * 2
	if c == 0 {
		c = defaultCapacity
	}
	for c < need {
		c *= 2
	}
	next := make([]byte, c)
	copy(next, b.buf[:b.size])
	b.buf = next
}

// advance reserves n bytes at the cursor for writing.
func (b *Buffer) advance(n int) []byte {
	b.grow(n)
	p := b.buf[b.off : b.off+n]
	b.off += n
	if b.off > b.size {
		b.size = b.off
	}
	return p
}

// take consumes n committed bytes. The returned slice aliases the buffer.
func (b *Buffer) take(n int) ([]byte, error) {
	if n < 0 || n > b.size-b.off {
		return nil, fmt.Errorf("%w: need %d have %d", ErrShortRead, n, b.size-b.off)
	}
	p := b.buf[b.off : b.off+n]
	b.off += n
	return p, nil
}

func (b *Buffer) PutUint8(v uint8) {
	b.advance(1)[0] = v
}

func (b *Buffer) Uint8() (uint8, error) {
	p, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) PutInt8(v int8) {
	b.PutUint8(uint8(v))
}

func (b *Buffer) Int8() (int8, error) {
	v, err := b.Uint8()
	return int8(v), err
}

func (b *Buffer) PutUint16(v uint16) {
	binary.BigEndian.PutUint16(b.advance(2), v)
}

func (b *Buffer) Uint16() (uint16, error) {
	p, err := b.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (b *Buffer) PutInt16(v int16) {
	b.PutUint16(uint16(v))
}

func (b *Buffer) Int16() (int16, error) {
	v, err := b.Uint16()
	return int16(v), err
}

func (b *Buffer) PutUint32(v uint32) {
	binary.BigEndian.PutUint32(b.advance(4), v)
}

func (b *Buffer) Uint32() (uint32, error) {
	p, err := b.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

func (b *Buffer) PutInt32(v int32) {
	b.PutUint32(uint32(v))
}

func (b *Buffer) Int32() (int32, error) {
	v, err := b.Uint32()
	return int32(v), err
}

func (b *Buffer) PutFloat32(v float32) {
	b.PutUint32(math.Float32bits(v))
}

func (b *Buffer) Float32() (float32, error) {
	v, err := b.Uint32()
	return math.Float32frombits(v), err
}

func (b *Buffer) PutFloat64(v float64) {
	binary.BigEndian.PutUint64(b.advance(8), math.Float64bits(v))
}

func (b *Buffer) Float64() (float64, error) {
	p, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(p)), nil
}

func (b *Buffer) PutBool(v bool) {
	if v {
		b.PutUint8(1)
		return
	}
	b.PutUint8(0)
}

func (b *Buffer) Bool() (bool, error) {
	v, err := b.Uint8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: 0x%02x", ErrInvalidBool, v)
	}
}

// PutRaw writes p without a length prefix.
func (b *Buffer) PutRaw(p []byte) {
	copy(b.advance(len(p)), p)
}

// Raw reads exactly n bytes into a fresh slice.
func (b *Buffer) Raw(n int) ([]byte, error) {
	p, err := b.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p)
	return out, nil
}

// Rest consumes everything left in the committed region.
func (b *Buffer) Rest() []byte {
	out, _ := b.Raw(b.Remaining())
	return out
}

// PutLength writes n+1 in 7-bit groups, low group first. Absent (-1) is the
// single byte 0x00.
func (b *Buffer) PutLength(n int) {
	if n < Absent || n > MaxLength {
		panic(fmt.Errorf("%w: %d", ErrNegativeLength, n))
	}
	v := uint32(n + 1)
	for v >= 0x80 {
		b.PutUint8(uint8(v) | 0x80)
		v >>= 7
	}
	b.PutUint8(uint8(v))
}

// Length returns the logical length, or Absent.
func (b *Buffer) Length() (int, error) {
	var v uint64
	for i := 0; i < maxLengthBytes; i++ {
		c, err := b.Uint8()
		if err != nil {
			return 0, err
		}
		v |= uint64(c&0x7f) << (7 * i)
		if c&0x80 != 0 {
			continue
		}
		if c == 0 && i > 0 {
			return 0, fmt.Errorf("%w: overlong encoding", ErrMalformedLength)
		}
		if v == 0 {
			return Absent, nil
		}
		if v-1 > MaxLength {
			return 0, fmt.Errorf("%w: %d exceeds max", ErrMalformedLength, v-1)
		}
		return int(v - 1), nil
	}
	return 0, fmt.Errorf("%w: continuation past %d bytes", ErrMalformedLength, maxLengthBytes)
}

// PutBytes writes a length-prefixed byte run. nil is written as absent.
func (b *Buffer) PutBytes(p []byte) {
	if p == nil {
		b.PutLength(Absent)
		return
	}
	b.PutLength(len(p))
	b.PutRaw(p)
}

// Bytes reads a length-prefixed byte run. Absent reads back as nil.
func (b *Buffer) Bytes() ([]byte, error) {
	n, err := b.Length()
	if err != nil {
		return nil, err
	}
	if n == Absent {
		return nil, nil
	}
	return b.Raw(n)
}
