package protocol

import "github.com/sqlwire/sqlwire/internal/binbuf"

// flagUnsigned marks an unsigned column in ColumnDefinition41 flags.
const flagUnsigned uint16 = 0x0020

// Column is a decoded ColumnDefinition41 packet.
type Column struct {
	Catalog      string
	Schema       string
	Table        string
	OrigTable    string
	Name         string
	OrigName     string
	Charset      uint16
	ColumnLength uint32
	Type         byte
	Flags        uint16
	Decimals     byte

	// VariableLength is derived from Type: the column's binary row
	// value is a length-prefixed byte run and may be streamed to a
	// caller sink.
	VariableLength bool
}

// Unsigned reports whether the column carries the unsigned flag.
func (c *Column) Unsigned() bool { return c.Flags&flagUnsigned != 0 }

// ParseColumn decodes a ColumnDefinition41 payload.
func ParseColumn(payload []byte) (*Column, error) {
	buf := binbuf.New(payload)
	col := &Column{}

	read := func(dst *string) error {
		s, err := buf.ReadStringLenenc()
		if err != nil {
			return err
		}
		*dst = string(s)
		return nil
	}
	for _, dst := range []*string{
		&col.Catalog, &col.Schema, &col.Table,
		&col.OrigTable, &col.Name, &col.OrigName,
	} {
		if err := read(dst); err != nil {
			return nil, ErrMalformedPacket
		}
	}

	// Fixed-length tail: lenenc filler (0x0c), charset u16, column
	// length u32, type u8, flags u16, decimals u8.
	if _, err := buf.ReadLenenc(); err != nil {
		return nil, ErrMalformedPacket
	}
	cs, err := buf.ReadUint(2)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	col.Charset = uint16(cs)

	length, err := buf.ReadUint(4)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	col.ColumnLength = uint32(length)

	t, err := buf.ReadUint(1)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	col.Type = byte(t)

	flags, err := buf.ReadUint(2)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	col.Flags = uint16(flags)

	dec, err := buf.ReadUint(1)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	col.Decimals = byte(dec)

	col.VariableLength = IsVariableLength(col.Type)
	return col, nil
}
