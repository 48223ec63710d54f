package binbuf

import (
	"bytes"
	"errors"
	"testing"
)

func TestLenencBoundaries(t *testing.T) {
	tests := []struct {
		value uint64
		width int // encoded size in bytes
	}{
		{0, 1},
		{250, 1},
		{251, 3},
		{65535, 3},
		{65536, 4},
		{16777215, 4},
		{16777216, 9},
	}

	for _, tt := range tests {
		buf := New(nil)
		buf.WriteLenenc(tt.value)
		if got := len(buf.Bytes()); got != tt.width {
			t.Errorf("WriteLenenc(%d): encoded %d bytes, want %d", tt.value, got, tt.width)
		}
		back, err := buf.ReadLenenc()
		if err != nil {
			t.Fatalf("ReadLenenc(%d): %v", tt.value, err)
		}
		if back != tt.value {
			t.Errorf("roundtrip %d: got %d", tt.value, back)
		}
	}
}

func TestLenenc0xFDReadsThreeBytes(t *testing.T) {
	// 0xFD introduces a 3-byte little-endian integer.
	buf := New([]byte{0xfd, 0x01, 0x02, 0x03, 0xaa})
	v, err := buf.ReadLenenc()
	if err != nil {
		t.Fatalf("ReadLenenc: %v", err)
	}
	if want := uint64(0x030201); v != want {
		t.Errorf("got %#x, want %#x", v, want)
	}
	if buf.Len() != 1 {
		t.Errorf("consumed %d trailing bytes too many", 1-buf.Len())
	}
}

func TestUintWidths(t *testing.T) {
	for _, width := range []int{1, 2, 3, 4, 6, 8} {
		value := uint64(1)<<(8*uint(width)-1) | 0x3f
		buf := New(nil)
		buf.WriteUint(value, width)
		if len(buf.Bytes()) != width {
			t.Fatalf("width %d: wrote %d bytes", width, len(buf.Bytes()))
		}
		back, err := buf.ReadUint(width)
		if err != nil {
			t.Fatalf("width %d: %v", width, err)
		}
		if back != value {
			t.Errorf("width %d: got %#x, want %#x", width, back, value)
		}
	}
}

func TestSignedRoundtrip(t *testing.T) {
	tests := []struct {
		value int64
		width int
	}{
		{-1, 1},
		{-128, 1},
		{-32768, 2},
		{-1234567, 4},
		{-9000000000, 8},
		{42, 2},
	}
	for _, tt := range tests {
		buf := New(nil)
		buf.WriteInt(tt.value, tt.width)
		back, err := buf.ReadInt(tt.width)
		if err != nil {
			t.Fatalf("ReadInt(%d): %v", tt.value, err)
		}
		if back != tt.value {
			t.Errorf("width %d: got %d, want %d", tt.width, back, tt.value)
		}
	}
}

func TestShortBuffer(t *testing.T) {
	buf := New([]byte{0x01, 0x02})
	if _, err := buf.ReadUint(4); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("ReadUint past end: got %v, want ErrShortBuffer", err)
	}
	if _, err := buf.ReadStringNul(); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("ReadStringNul without terminator: got %v, want ErrShortBuffer", err)
	}

	// Appending more bytes makes the retried read succeed.
	buf.Append([]byte{0x03, 0x04})
	v, err := buf.ReadUint(4)
	if err != nil {
		t.Fatalf("ReadUint after Append: %v", err)
	}
	if v != 0x04030201 {
		t.Errorf("got %#x, want 0x04030201", v)
	}
}

func TestSeekRetry(t *testing.T) {
	buf := New([]byte{0xfc, 0x10})
	save := buf.Pos()
	if _, err := buf.ReadLenenc(); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected short buffer, got %v", err)
	}
	buf.Seek(save)
	buf.Append([]byte{0x20})
	v, err := buf.ReadLenenc()
	if err != nil {
		t.Fatalf("ReadLenenc after append: %v", err)
	}
	if v != 0x2010 {
		t.Errorf("got %#x, want 0x2010", v)
	}
}

func TestStrings(t *testing.T) {
	buf := New(nil)
	buf.WriteStringNul("hello")
	buf.WriteStringLenenc([]byte("world"))
	buf.WriteStringPrefixed([]byte{0xaa, 0xbb}, func(n uint64) { buf.WriteUint(n, 1) })

	s, err := buf.ReadStringNul()
	if err != nil || s != "hello" {
		t.Fatalf("ReadStringNul: %q, %v", s, err)
	}
	w, err := buf.ReadStringLenenc()
	if err != nil || string(w) != "world" {
		t.Fatalf("ReadStringLenenc: %q, %v", w, err)
	}
	n, err := buf.ReadUint(1)
	if err != nil || n != 2 {
		t.Fatalf("prefix: %d, %v", n, err)
	}
	p, err := buf.ReadBytes(2)
	if err != nil || !bytes.Equal(p, []byte{0xaa, 0xbb}) {
		t.Fatalf("payload: %x, %v", p, err)
	}
}

func TestUintWidth(t *testing.T) {
	tests := []struct {
		value uint64
		width int
	}{
		{0, 1},
		{255, 1},
		{256, 2},
		{65535, 2},
		{65536, 3},
		{16777215, 3},
		{16777216, 4},
		{1 << 32, 8},
	}
	for _, tt := range tests {
		if got := UintWidth(tt.value); got != tt.width {
			t.Errorf("UintWidth(%d) = %d, want %d", tt.value, got, tt.width)
		}
	}
}
