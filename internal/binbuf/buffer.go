// Package binbuf implements the little-endian byte cursor used by the
// MySQL wire codec: fixed-width integers, length-encoded integers and
// the string framings the protocol uses.
package binbuf

import "errors"

// ErrShortBuffer is returned when a read would advance past the filled
// region of the buffer. Callers that accumulate packet payload retry
// the decode after appending more bytes.
var ErrShortBuffer = errors.New("binbuf: short buffer")

// Buffer is a cursor over a byte slice with independent read and write
// offsets. The zero value is an empty buffer ready for writes.
type Buffer struct {
	data []byte
	roff int
}

// New wraps data in a Buffer positioned at the start for reads and at
// the end for writes.
func New(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns the written region of the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return len(b.data) - b.roff }

// Pos returns the current read offset.
func (b *Buffer) Pos() int { return b.roff }

// Seek sets the read offset. Used to re-decode a value after more
// payload has been appended.
func (b *Buffer) Seek(off int) { b.roff = off }

// Append extends the filled region with more bytes without disturbing
// the read offset.
func (b *Buffer) Append(p []byte) { b.data = append(b.data, p...) }

func (b *Buffer) take(n int) ([]byte, error) {
	if b.roff+n > len(b.data) {
		return nil, ErrShortBuffer
	}
	p := b.data[b.roff : b.roff+n]
	b.roff += n
	return p, nil
}

// ReadUint reads an unsigned little-endian integer of the given byte
// width. Supported widths are 1, 2, 3, 4, 6 and 8.
func (b *Buffer) ReadUint(width int) (uint64, error) {
	p, err := b.take(width)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(p[i])
	}
	return v, nil
}

// ReadInt reads a signed little-endian integer of the given byte width.
func (b *Buffer) ReadInt(width int) (int64, error) {
	v, err := b.ReadUint(width)
	if err != nil {
		return 0, err
	}
	shift := uint(64 - 8*width)
	return int64(v<<shift) >> shift, nil
}

// WriteUint appends an unsigned little-endian integer of the given byte
// width.
func (b *Buffer) WriteUint(v uint64, width int) {
	for i := 0; i < width; i++ {
		b.data = append(b.data, byte(v>>(8*uint(i))))
	}
}

// WriteInt appends a signed little-endian integer of the given byte
// width.
func (b *Buffer) WriteInt(v int64, width int) {
	b.WriteUint(uint64(v), width)
}

// ReadLenenc reads a length-encoded integer. First byte below 0xFB is
// the literal value; 0xFC introduces 2 bytes, 0xFD 3 bytes and 0xFE 8
// bytes.
func (b *Buffer) ReadLenenc() (uint64, error) {
	p, err := b.take(1)
	if err != nil {
		return 0, err
	}
	switch p[0] {
	case 0xfc:
		return b.ReadUint(2)
	case 0xfd:
		return b.ReadUint(3)
	case 0xfe:
		return b.ReadUint(8)
	default:
		return uint64(p[0]), nil
	}
}

// WriteLenenc appends a length-encoded integer using the smallest
// encoding that fits.
func (b *Buffer) WriteLenenc(v uint64) {
	switch {
	case v < 0xfb:
		b.data = append(b.data, byte(v))
	case v <= 0xffff:
		b.data = append(b.data, 0xfc)
		b.WriteUint(v, 2)
	case v <= 0xffffff:
		b.data = append(b.data, 0xfd)
		b.WriteUint(v, 3)
	default:
		b.data = append(b.data, 0xfe)
		b.WriteUint(v, 8)
	}
}

// ReadStringNul reads bytes up to and excluding the next NUL byte and
// consumes the terminator.
func (b *Buffer) ReadStringNul() (string, error) {
	for i := b.roff; i < len(b.data); i++ {
		if b.data[i] == 0 {
			s := string(b.data[b.roff:i])
			b.roff = i + 1
			return s, nil
		}
	}
	return "", ErrShortBuffer
}

// WriteStringNul appends s followed by a NUL terminator.
func (b *Buffer) WriteStringNul(s string) {
	b.data = append(b.data, s...)
	b.data = append(b.data, 0)
}

// ReadStringN reads exactly n bytes as a string.
func (b *Buffer) ReadStringN(n int) (string, error) {
	p, err := b.take(n)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// ReadBytes reads exactly n bytes. The returned slice aliases the
// buffer.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	return b.take(n)
}

// WriteBytes appends raw bytes.
func (b *Buffer) WriteBytes(p []byte) {
	b.data = append(b.data, p...)
}

// ReadStringLenenc reads a length-encoded string: a lenenc integer
// length followed by that many bytes.
func (b *Buffer) ReadStringLenenc() ([]byte, error) {
	n, err := b.ReadLenenc()
	if err != nil {
		return nil, err
	}
	return b.take(int(n))
}

// WriteStringPrefixed appends p preceded by a length prefix produced by
// writePrefix. The prefix writer receives the payload length; passing
// (*Buffer).WriteLenenc yields the protocol's lenenc-string framing,
// a fixed-width closure yields the 1-byte-counted form the handshake
// response uses.
func (b *Buffer) WriteStringPrefixed(p []byte, writePrefix func(n uint64)) {
	writePrefix(uint64(len(p)))
	b.data = append(b.data, p...)
}

// WriteStringLenenc appends a length-encoded string.
func (b *Buffer) WriteStringLenenc(p []byte) {
	b.WriteStringPrefixed(p, b.WriteLenenc)
}

// UintWidth returns the smallest wire width of {1,2,3,4,8} that holds v
// unsigned. Width 3 is promoted to 4 on the wire by the caller.
func UintWidth(v uint64) int {
	switch {
	case v <= 0xff:
		return 1
	case v <= 0xffff:
		return 2
	case v <= 0xffffff:
		return 3
	case v <= 0xffffffff:
		return 4
	default:
		return 8
	}
}
