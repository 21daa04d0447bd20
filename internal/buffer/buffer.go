// Package buffer provides the little-endian byte builder and cursor reader
// that every wire frame is built on.
//
// Producers append into a Builder. Consumers read through a Reader, which
// owns a private copy of the bytes and its own cursor, so two decoders never
// share read state.
package buffer

import "encoding/binary"

// Unsigned is the set of element types Get and GetN can extract.
type Unsigned interface {
	uint8 | uint16 | uint32 | uint64
}

// Builder is an append-only byte sequence. Lengths are never prefixed
// implicitly: callers that need a variable-length field append the length
// first.
type Builder struct {
	buf []byte
}

// NewBuilder returns a Builder with room for sizeHint bytes.
func NewBuilder(sizeHint int) *Builder {
	return &Builder{buf: make([]byte, 0, max(sizeHint, 0))}
}

func (b *Builder) AppendU8(v uint8) {
	b.buf = append(b.buf, v)
}

func (b *Builder) AppendU16(v uint16) {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
}

func (b *Builder) AppendU32(v uint32) {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
}

func (b *Builder) AppendU64(v uint64) {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
}

func (b *Builder) AppendBytes(p []byte) {
	b.buf = append(b.buf, p...)
}

func (b *Builder) AppendString(s string) {
	b.buf = append(b.buf, s...)
}

// Bytes returns the accumulated bytes. The slice aliases the Builder until
// the next append.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Len returns the number of bytes appended so far.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Reader extracts little-endian values from a byte sequence with a cursor.
//
// Extraction that would run past the end returns the zero value and leaves
// the cursor where it was. A Reader is not safe for concurrent use.
type Reader struct {
	data []byte
	off  int
}

// NewReader copies p and returns a Reader positioned at its start. The
// Reader never aliases caller memory.
func NewReader(p []byte) *Reader {
	data := make([]byte, len(p))
	copy(data, p)
	return &Reader{data: data}
}

// Len returns the total length of the underlying sequence.
func (r *Reader) Len() int { return len(r.data) }

// Offset returns the cursor position.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// take advances the cursor by n and returns the consumed bytes, or nil
// (cursor unchanged) when fewer than n bytes remain.
func (r *Reader) take(n int) []byte {
	if n < 0 || r.Remaining() < n {
		return nil
	}
	p := r.data[r.off : r.off+n]
	r.off += n
	return p
}

func (r *Reader) U8() uint8 {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *Reader) U16() uint16 {
	p := r.take(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (r *Reader) U32() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *Reader) U64() uint64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

// Bytes consumes n bytes and returns a copy of them. It returns nil without
// advancing when fewer than n bytes remain. Bytes(0) returns an empty,
// non-nil slice.
func (r *Reader) Bytes(n int) []byte {
	p := r.take(n)
	if p == nil {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

// Get consumes one T. See Reader for the out-of-bounds rule.
func Get[T Unsigned](r *Reader) T {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return T(r.U8())
	case uint16:
		return T(r.U16())
	case uint32:
		return T(r.U32())
	default:
		return T(r.U64())
	}
}

// GetN consumes count elements of T. If fewer than count*sizeof(T) bytes
// remain it returns nil and the cursor does not move.
func GetN[T Unsigned](r *Reader, count int) []T {
	size := sizeOf[T]()
	if count < 0 || count > r.Remaining()/size {
		return nil
	}
	out := make([]T, count)
	for i := range out {
		out[i] = Get[T](r)
	}
	return out
}

func sizeOf[T Unsigned]() int {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return 1
	case uint16:
		return 2
	case uint32:
		return 4
	default:
		return 8
	}
}
