// Package buffer provides the growable byte container used by the transports
// to hold pending and received bytes.
//
// A Buffer tracks three quantities:
//   - capacity: length of the owned storage
//   - size: number of bytes logically in use (size <= capacity)
//   - offset: a read cursor into the used region (offset <= size)
//
// Storage only ever grows. Clear empties the buffer without releasing it,
// so a Buffer can be reused across connections without reallocating.
//
// A Buffer is not safe for concurrent use; the owning component serializes
// access.
package buffer

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Buffer errors.
var (
	// ErrNegativeCapacity indicates a negative capacity or size request.
	ErrNegativeCapacity = errors.New("negative capacity")

	// ErrOutOfRange indicates an offset/length pair outside the used region.
	ErrOutOfRange = errors.New("range out of bounds")
)

// Buffer is a growable byte container with separate capacity, size and
// read-offset bookkeeping.
type Buffer struct {
	data   []byte
	size   int
	offset int
}

// New creates an empty buffer with the given initial capacity.
// A negative capacity is treated as zero.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, capacity)}
}

// FromBytes creates a buffer holding a copy of p.
func FromBytes(p []byte) *Buffer {
	b := &Buffer{data: make([]byte, len(p)), size: len(p)}
	copy(b.data, p)
	return b
}

// Capacity returns the length of the owned storage.
func (b *Buffer) Capacity() int { return len(b.data) }

// Size returns the number of bytes in use.
func (b *Buffer) Size() int { return b.size }

// Offset returns the read cursor.
func (b *Buffer) Offset() int { return b.offset }

// IsEmpty reports whether no bytes are in use.
func (b *Buffer) IsEmpty() bool { return b.size == 0 }

// Bytes returns the used region. The slice aliases the buffer storage and is
// only valid until the next mutating call.
func (b *Buffer) Bytes() []byte { return b.data[:b.size] }

// Unread returns the used bytes from the read cursor onward.
func (b *Buffer) Unread() []byte { return b.data[b.offset:b.size] }

// Storage returns the whole owned storage including unused capacity.
// Readers fill it directly and then call Resize with the byte count.
func (b *Buffer) Storage() []byte { return b.data }

// String decodes the used region as UTF-8.
func (b *Buffer) String() string { return string(b.data[:b.size]) }

// Reserve ensures the capacity is at least capacity. When the buffer must
// grow, the new capacity is the larger of capacity and twice the current
// capacity; the first Size bytes are preserved.
func (b *Buffer) Reserve(capacity int) error {
	if capacity < 0 {
		return fmt.Errorf("reserve %d: %w", capacity, ErrNegativeCapacity)
	}
	if capacity <= len(b.data) {
		return nil
	}
	grown := max(capacity, 2*len(b.data))
	data := make([]byte, grown)
	copy(data, b.data[:b.size])
	b.data = data
	return nil
}

// Resize sets the number of bytes in use, growing storage if needed.
// The read cursor is clamped to the new size.
func (b *Buffer) Resize(size int) error {
	if size < 0 {
		return fmt.Errorf("resize %d: %w", size, ErrNegativeCapacity)
	}
	if err := b.Reserve(size); err != nil {
		return err
	}
	b.size = size
	if b.offset > b.size {
		b.offset = b.size
	}
	return nil
}

// Append copies p to the tail of the buffer and returns the number of bytes
// appended.
func (b *Buffer) Append(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	// Reserve cannot fail for a non-negative request.
	_ = b.Reserve(b.size + len(p))
	n := copy(b.data[b.size:], p)
	b.size += n
	return n
}

// AppendRange appends length bytes of p starting at offset.
func (b *Buffer) AppendRange(p []byte, offset, length int) (int, error) {
	if offset < 0 || length < 0 || offset+length > len(p) {
		return 0, fmt.Errorf("append [%d:%d] of %d bytes: %w", offset, offset+length, len(p), ErrOutOfRange)
	}
	return b.Append(p[offset : offset+length]), nil
}

// AppendString appends the UTF-8 encoding of s.
func (b *Buffer) AppendString(s string) int {
	if len(s) == 0 {
		return 0
	}
	_ = b.Reserve(b.size + len(s))
	n := copy(b.data[b.size:], s)
	b.size += n
	return n
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) {
	_ = b.Reserve(b.size + 1)
	b.data[b.size] = c
	b.size++
}

// Remove deletes length bytes starting at offset, shifting the trailing
// bytes left. A read cursor past the removed region moves left by length;
// one inside the region is clamped to offset.
func (b *Buffer) Remove(offset, length int) error {
	if offset < 0 || length < 0 || offset+length > b.size {
		return fmt.Errorf("remove [%d:%d] of %d bytes: %w", offset, offset+length, b.size, ErrOutOfRange)
	}
	if length == 0 {
		return nil
	}
	copy(b.data[offset:], b.data[offset+length:b.size])
	b.size -= length
	switch {
	case b.offset >= offset+length:
		b.offset -= length
	case b.offset > offset:
		b.offset = offset
	}
	return nil
}

// ExtractString decodes length bytes starting at offset as UTF-8.
// Invalid sequences are replaced with U+FFFD.
func (b *Buffer) ExtractString(offset, length int) (string, error) {
	if offset < 0 || length < 0 || offset+length > b.size {
		return "", fmt.Errorf("extract [%d:%d] of %d bytes: %w", offset, offset+length, b.size, ErrOutOfRange)
	}
	raw := b.data[offset : offset+length]
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	return string([]rune(string(raw))), nil
}

// Shift advances the read cursor by n bytes, clamped to Size.
func (b *Buffer) Shift(n int) {
	b.offset = min(b.size, max(0, b.offset+n))
}

// Unshift moves the read cursor back by n bytes, clamped to zero.
func (b *Buffer) Unshift(n int) {
	b.offset = max(0, b.offset-n)
}

// Clear empties the buffer without releasing storage.
func (b *Buffer) Clear() {
	b.size = 0
	b.offset = 0
}
