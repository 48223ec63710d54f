package protocol

import (
	"io"

	"github.com/sqlwire/sqlwire/internal/binbuf"
)

// MaxPayloadSize is the largest payload a single frame can carry. A
// payload of exactly this size forces a continuation frame, and a body
// that is a multiple of it ends with an empty terminator frame.
const MaxPayloadSize = 1<<24 - 1

// ExactReader is the pull interface frames are read from. It is
// satisfied by transport.FramedReader.
type ExactReader interface {
	// ReadExact returns exactly n bytes, or an error if the stream
	// ends first.
	ReadExact(n int) ([]byte, error)
}

// WriteFrames writes payload as one or more frames starting at seq,
// splitting at MaxPayloadSize. A payload that is an exact multiple of
// the split size is terminated by an empty frame so the peer can tell
// the body has ended. Returns the next sequence id.
func WriteFrames(w io.Writer, payload []byte, seq byte) (byte, error) {
	for {
		size := len(payload)
		if size > MaxPayloadSize {
			size = MaxPayloadSize
		}
		header := []byte{byte(size), byte(size >> 8), byte(size >> 16), seq}
		if _, err := w.Write(header); err != nil {
			return seq, err
		}
		if size > 0 {
			if _, err := w.Write(payload[:size]); err != nil {
				return seq, err
			}
		}
		seq++
		payload = payload[size:]
		if size < MaxPayloadSize {
			return seq, nil
		}
	}
}

// FrameHeader is the decoded 4-byte frame header.
type FrameHeader struct {
	Length int
	Seq    byte
}

// ReadFrameHeader reads and decodes one frame header.
func ReadFrameHeader(r ExactReader) (FrameHeader, error) {
	h, err := r.ReadExact(4)
	if err != nil {
		return FrameHeader{}, err
	}
	return FrameHeader{
		Length: int(h[0]) | int(h[1])<<8 | int(h[2])<<16,
		Seq:    h[3],
	}, nil
}

// ReadPacket reads one logical packet, reassembling MaxPayloadSize
// continuations, and verifies the sequence id of every frame against
// expectSeq. Returns the payload and the next expected sequence id.
func ReadPacket(r ExactReader, expectSeq byte) ([]byte, byte, error) {
	var payload []byte
	for {
		h, err := ReadFrameHeader(r)
		if err != nil {
			return nil, expectSeq, err
		}
		if h.Seq != expectSeq {
			return nil, expectSeq, ErrPacketSync
		}
		expectSeq++

		var data []byte
		if h.Length > 0 {
			data, err = r.ReadExact(h.Length)
			if err != nil {
				return nil, expectSeq, err
			}
		}

		// Common case: a packet that fits one frame.
		if h.Length < MaxPayloadSize && payload == nil {
			return data, expectSeq, nil
		}
		payload = append(payload, data...)
		if h.Length < MaxPayloadSize {
			return payload, expectSeq, nil
		}
	}
}

// IsOK reports whether payload is an OK packet.
func IsOK(payload []byte) bool {
	return len(payload) > 0 && payload[0] == okHeader
}

// IsErr reports whether payload is an ERR packet.
func IsErr(payload []byte) bool {
	return len(payload) > 0 && payload[0] == errHeader
}

// IsEOF reports whether payload is an EOF packet: first byte 0xFE and
// total length under 9 bytes.
func IsEOF(payload []byte) bool {
	return len(payload) > 0 && payload[0] == eofHeader && len(payload) < 9
}

// OK is a decoded OK packet.
type OK struct {
	AffectedRows uint64
	LastInsertID uint64
	Status       uint16
	Warnings     uint16
}

// ParseOK decodes an OK packet payload.
func ParseOK(payload []byte) (*OK, error) {
	if !IsOK(payload) {
		return nil, ErrMalformedPacket
	}
	buf := binbuf.New(payload[1:])
	ok := &OK{}
	var err error
	if ok.AffectedRows, err = buf.ReadLenenc(); err != nil {
		return nil, ErrMalformedPacket
	}
	if ok.LastInsertID, err = buf.ReadLenenc(); err != nil {
		return nil, ErrMalformedPacket
	}
	// Status and warning counts are absent in very short packets.
	if buf.Len() >= 2 {
		s, _ := buf.ReadUint(2)
		ok.Status = uint16(s)
	}
	if buf.Len() >= 2 {
		w, _ := buf.ReadUint(2)
		ok.Warnings = uint16(w)
	}
	return ok, nil
}

// ParseErr decodes an ERR packet payload.
func ParseErr(payload []byte) *ServerError {
	if !IsErr(payload) || len(payload) < 3 {
		return &ServerError{Message: "malformed error packet"}
	}
	buf := binbuf.New(payload[1:])
	code, _ := buf.ReadUint(2)
	e := &ServerError{Code: uint16(code)}
	// Optional SQL state: '#' marker followed by five bytes.
	if buf.Len() > 0 && payload[3] == '#' {
		buf.ReadBytes(1)
		if state, err := buf.ReadStringN(5); err == nil {
			e.State = state
		}
	}
	msg, _ := buf.ReadStringN(buf.Len())
	e.Message = msg
	return e
}
