package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/sqlwire/sqlwire/internal/binbuf"
)

// dateTimeFormat is the textual form date and time parameters are sent
// in.
const dateTimeFormat = "2006-01-02 15:04:05"

// Param is an encoded statement parameter: a type/flag pair for the
// execute packet's type block plus either inline value bytes or a
// stream delivered out-of-band via COM_STMT_SEND_LONG_DATA.
type Param struct {
	Type   byte
	Flag   byte
	Data   []byte
	Stream io.Reader
	Null   bool
}

// EncodeParam converts a Go value into its binary-protocol parameter
// form. io.Reader values become long-data streams; values with no
// native wire type are JSON-serialized and sent as strings.
func EncodeParam(v any) (Param, error) {
	switch val := v.(type) {
	case nil:
		return Param{Type: TypeNull, Null: true}, nil
	case int:
		return encodeInt(int64(val)), nil
	case int8:
		return encodeInt(int64(val)), nil
	case int16:
		return encodeInt(int64(val)), nil
	case int32:
		return encodeInt(int64(val)), nil
	case int64:
		return encodeInt(val), nil
	case uint:
		return encodeUint(uint64(val)), nil
	case uint8:
		return encodeUint(uint64(val)), nil
	case uint16:
		return encodeUint(uint64(val)), nil
	case uint32:
		return encodeUint(uint64(val)), nil
	case uint64:
		return encodeUint(val), nil
	case bool:
		b := byte(0)
		if val {
			b = 1
		}
		return Param{Type: TypeTiny, Data: []byte{b}}, nil
	case float32:
		buf := binbuf.New(nil)
		buf.WriteUint(uint64(math.Float32bits(val)), 4)
		return Param{Type: TypeFloat, Data: buf.Bytes()}, nil
	case float64:
		buf := binbuf.New(nil)
		buf.WriteUint(math.Float64bits(val), 8)
		return Param{Type: TypeDouble, Data: buf.Bytes()}, nil
	case []byte:
		if val == nil {
			return Param{Type: TypeNull, Null: true}, nil
		}
		buf := binbuf.New(nil)
		buf.WriteStringLenenc(val)
		return Param{Type: TypeLongBlob, Data: buf.Bytes()}, nil
	case string:
		return encodeString(val), nil
	case time.Time:
		return encodeString(val.Format(dateTimeFormat)), nil
	case io.Reader:
		return Param{Type: TypeLongBlob, Stream: val}, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Param{}, fmt.Errorf("encoding parameter %T: %w", v, err)
		}
		return encodeString(string(data)), nil
	}
}

func encodeString(s string) Param {
	buf := binbuf.New(nil)
	buf.WriteStringLenenc([]byte(s))
	return Param{Type: TypeVarString, Data: buf.Bytes()}
}

// intTypeForWidth maps a wire width to its integer type code. Width 3
// has no binary type and is promoted to 4.
func intTypeForWidth(width int) (byte, int) {
	switch width {
	case 1:
		return TypeTiny, 1
	case 2:
		return TypeShort, 2
	case 3, 4:
		return TypeLong, 4
	default:
		return TypeLongLong, 8
	}
}

func encodeUint(v uint64) Param {
	code, width := intTypeForWidth(binbuf.UintWidth(v))
	buf := binbuf.New(nil)
	buf.WriteUint(v, width)
	return Param{Type: code, Flag: paramUnsignedFlag, Data: buf.Bytes()}
}

func encodeInt(v int64) Param {
	if v >= 0 {
		return encodeUint(uint64(v))
	}
	var code byte
	var width int
	switch {
	case v >= math.MinInt8:
		code, width = TypeTiny, 1
	case v >= math.MinInt16:
		code, width = TypeShort, 2
	case v >= math.MinInt32:
		code, width = TypeLong, 4
	default:
		code, width = TypeLongLong, 8
	}
	buf := binbuf.New(nil)
	buf.WriteInt(v, width)
	return Param{Type: code, Data: buf.Bytes()}
}

// ValueFromBytes converts an already-extracted variable-length value
// into its decoded form: UTF-8 string for string-like types, raw bytes
// otherwise. Used when the engine has consumed the lenenc prefix
// itself while deciding whether to stream the value.
func ValueFromBytes(col *Column, data []byte) any {
	if isStringLike(col.Type) {
		return string(data)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// DecodeValue decodes one binary-protocol column value from buf. A
// binbuf.ErrShortBuffer return means the value straddles a packet
// boundary; the caller appends the next payload and re-decodes from
// the saved offset.
//
// Date-family columns decode to time.Time, or to epoch milliseconds
// when convertToTimestamp is set. TIME columns decode to a signed
// time.Duration.
func DecodeValue(buf *binbuf.Buffer, col *Column, convertToTimestamp bool) (any, error) {
	if col.VariableLength {
		data, err := buf.ReadStringLenenc()
		if err != nil {
			return nil, err
		}
		if isStringLike(col.Type) {
			return string(data), nil
		}
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	switch col.Type {
	case TypeLongLong:
		v, err := buf.ReadUint(8)
		if err != nil {
			return nil, err
		}
		if col.Unsigned() {
			return v, nil
		}
		return int64(v), nil
	case TypeLong, TypeInt24:
		if col.Unsigned() {
			v, err := buf.ReadUint(4)
			return uint64(v), err
		}
		v, err := buf.ReadInt(4)
		return v, err
	case TypeShort, TypeYear:
		if col.Unsigned() {
			v, err := buf.ReadUint(2)
			return uint64(v), err
		}
		v, err := buf.ReadInt(2)
		return v, err
	case TypeTiny:
		if col.Unsigned() {
			v, err := buf.ReadUint(1)
			return uint64(v), err
		}
		v, err := buf.ReadInt(1)
		return v, err
	case TypeDouble:
		v, err := buf.ReadUint(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(v), nil
	case TypeFloat:
		v, err := buf.ReadUint(4)
		if err != nil {
			return nil, err
		}
		return float32(math.Float32frombits(uint32(v))), nil
	case TypeDate, TypeDateTime, TypeTimestamp:
		return decodeDateTime(buf, convertToTimestamp)
	case TypeTime:
		return decodeTime(buf)
	case TypeNull:
		return nil, nil
	}
	return nil, fmt.Errorf("decoding column %q: unsupported type 0x%02x", col.Name, col.Type)
}

// decodeDateTime decodes the lenenc-prefixed date tuple. Valid lengths
// are 0 (invalid-date sentinel), 4 (date), 7 (+ time) and 11
// (+ microseconds).
func decodeDateTime(buf *binbuf.Buffer, convertToTimestamp bool) (any, error) {
	n, err := buf.ReadLenenc()
	if err != nil {
		return nil, err
	}
	data, err := buf.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}

	var t time.Time
	switch n {
	case 0:
		// zero date
	case 4, 7, 11:
		year := int(data[0]) | int(data[1])<<8
		t = time.Date(year, time.Month(data[2]), int(data[3]), 0, 0, 0, 0, time.UTC)
		if n >= 7 {
			t = t.Add(time.Duration(data[4])*time.Hour +
				time.Duration(data[5])*time.Minute +
				time.Duration(data[6])*time.Second)
		}
		if n == 11 {
			micros := uint32(data[7]) | uint32(data[8])<<8 | uint32(data[9])<<16 | uint32(data[10])<<24
			t = t.Add(time.Duration(micros) * time.Microsecond)
		}
	default:
		return nil, ErrMalformedPacket
	}

	if convertToTimestamp {
		if t.IsZero() {
			return int64(0), nil
		}
		return t.UnixMilli(), nil
	}
	return t, nil
}

// decodeTime decodes the lenenc-prefixed TIME tuple as a signed
// duration. Valid lengths are 0, 8 (sign + days + H/M/S) and 12
// (+ microseconds).
func decodeTime(buf *binbuf.Buffer) (any, error) {
	n, err := buf.ReadLenenc()
	if err != nil {
		return nil, err
	}
	data, err := buf.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}

	switch n {
	case 0:
		return time.Duration(0), nil
	case 8, 12:
		days := uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16 | uint32(data[4])<<24
		d := time.Duration(days)*24*time.Hour +
			time.Duration(data[5])*time.Hour +
			time.Duration(data[6])*time.Minute +
			time.Duration(data[7])*time.Second
		if n == 12 {
			micros := uint32(data[8]) | uint32(data[9])<<8 | uint32(data[10])<<16 | uint32(data[11])<<24
			d += time.Duration(micros) * time.Microsecond
		}
		if data[0] == 1 {
			d = -d
		}
		return d, nil
	}
	return nil, ErrMalformedPacket
}
