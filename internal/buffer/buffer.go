// Package buffer implements a growable byte buffer with an independent read
// cursor, used by the codec and frame layer to build and parse AMQP wire data.
package buffer

import "encoding/binary"

// Buffer is a growable []byte with a read cursor. Writes (Append*) always grow
// the buffer; reads (Next/Peek/Read*) advance from the current cursor position.
type Buffer struct {
	b   []byte
	off int
}

// New creates a Buffer whose contents are b. The read cursor starts at 0.
func New(b []byte) *Buffer {
	return &Buffer{b: b}
}

// Detach returns the buffer's backing slice from the current read cursor to
// the end of written data, resetting the Buffer to empty.
func (b *Buffer) Detach() []byte {
	out := b.b[b.off:]
	b.b, b.off = nil, 0
	return out
}

// Reset discards all written and read data, keeping the backing array.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
	b.off = 0
}

// Bytes returns the unread portion of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.b[b.off:]
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.b) - b.off
}

// Size returns the total number of bytes written, ignoring the read cursor.
func (b *Buffer) Size() int {
	return len(b.b)
}

// Append appends p to the buffer.
func (b *Buffer) Append(p []byte) {
	b.b = append(b.b, p...)
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) {
	b.b = append(b.b, c)
}

// AppendString appends s without a length prefix.
func (b *Buffer) AppendString(s string) {
	b.b = append(b.b, s...)
}

// AppendUint16 appends v in network byte order.
func (b *Buffer) AppendUint16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.b = append(b.b, tmp[:]...)
}

// AppendUint32 appends v in network byte order.
func (b *Buffer) AppendUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.b = append(b.b, tmp[:]...)
}

// AppendUint64 appends v in network byte order.
func (b *Buffer) AppendUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.b = append(b.b, tmp[:]...)
}

// ReserveUint32 appends 4 placeholder bytes and returns their offset so the
// caller can patch them once the final value (typically a length) is known.
func (b *Buffer) ReserveUint32() (offset int) {
	offset = len(b.b)
	b.b = append(b.b, 0, 0, 0, 0)
	return offset
}

// PatchUint32 overwrites the 4 bytes at offset (as produced by ReserveUint32).
func (b *Buffer) PatchUint32(offset int, v uint32) {
	binary.BigEndian.PutUint32(b.b[offset:offset+4], v)
}

// Peek returns, without consuming, the next byte.
func (b *Buffer) Peek() (byte, bool) {
	if b.off >= len(b.b) {
		return 0, false
	}
	return b.b[b.off], true
}

// ReadByte consumes and returns the next byte.
func (b *Buffer) ReadByte() (byte, bool) {
	c, ok := b.Peek()
	if ok {
		b.off++
	}
	return c, ok
}

// ReadUint16 consumes the next 2 bytes as a big-endian uint16.
func (b *Buffer) ReadUint16() (uint16, bool) {
	buf, ok := b.Next(2)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(buf), true
}

// ReadUint32 consumes the next 4 bytes as a big-endian uint32.
func (b *Buffer) ReadUint32() (uint32, bool) {
	buf, ok := b.Next(4)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf), true
}

// ReadUint64 consumes the next 8 bytes as a big-endian uint64.
func (b *Buffer) ReadUint64() (uint64, bool) {
	buf, ok := b.Next(8)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint64(buf), true
}

// Next consumes and returns the next n unread bytes. It returns false if
// fewer than n bytes remain.
func (b *Buffer) Next(n int64) ([]byte, bool) {
	if n < 0 || int64(b.Len()) < n {
		return nil, false
	}
	buf := b.b[b.off : b.off+int(n)]
	b.off += int(n)
	return buf, true
}

// Skip advances the read cursor by n bytes without returning them.
func (b *Buffer) Skip(n int64) bool {
	_, ok := b.Next(n)
	return ok
}
