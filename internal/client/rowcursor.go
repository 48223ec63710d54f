package client

import (
	"errors"
	"io"

	"github.com/sqlwire/sqlwire/internal/binbuf"
	"github.com/sqlwire/sqlwire/internal/protocol"
	"github.com/sqlwire/sqlwire/internal/transport"
)

// errTruncatedValue means a row value ran past the end of its packet
// with no continuation frame to carry it. The packet boundary is
// intact, so the failure stays per-task.
var errTruncatedValue = errors.New("mysql: row value truncated")

// rowCursor walks one row packet's payload. Values that straddle a
// 16 MiB packet boundary are carried across by appending the next
// continuation frame and re-decoding from the saved offset; values
// bound for a sink are streamed frame by frame instead of buffered.
type rowCursor struct {
	s    *session
	buf  *binbuf.Buffer
	more bool // current packet continues in further frames
}

// startRowPacket reads the first frame of the next packet in the row
// phase.
func (s *session) startRowPacket() (*rowCursor, error) {
	h, err := protocol.ReadFrameHeader(s.fr)
	if err != nil {
		return nil, err
	}
	if h.Seq != s.seq {
		return nil, protocol.ErrPacketSync
	}
	s.seq++

	var payload []byte
	if h.Length > 0 {
		payload, err = s.fr.ReadExact(h.Length)
		if err != nil {
			return nil, err
		}
	}
	return &rowCursor{
		s:    s,
		buf:  binbuf.New(payload),
		more: h.Length == protocol.MaxPayloadSize,
	}, nil
}

// appendNextFrame pulls the next continuation frame into the buffer.
func (rc *rowCursor) appendNextFrame() error {
	if !rc.more {
		return errTruncatedValue
	}
	h, err := protocol.ReadFrameHeader(rc.s.fr)
	if err != nil {
		return err
	}
	if h.Seq != rc.s.seq {
		return protocol.ErrPacketSync
	}
	rc.s.seq++

	if h.Length > 0 {
		payload, err := rc.s.fr.ReadExact(h.Length)
		if err != nil {
			return err
		}
		rc.buf.Append(payload)
	}
	rc.more = h.Length == protocol.MaxPayloadSize
	return nil
}

// ensure retries decode across packet-boundary underflows: on a short
// buffer it rewinds to the saved offset, appends the next continuation
// frame and decodes again.
func (rc *rowCursor) ensure(decode func() (any, error)) (any, error) {
	for {
		save := rc.buf.Pos()
		v, err := decode()
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, binbuf.ErrShortBuffer) {
			return nil, err
		}
		rc.buf.Seek(save)
		if err := rc.appendNextFrame(); err != nil {
			return nil, err
		}
	}
}

func (rc *rowCursor) ensureBytes(n int) ([]byte, error) {
	v, err := rc.ensure(func() (any, error) {
		return rc.buf.ReadBytes(n)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (rc *rowCursor) ensureLenenc() (uint64, error) {
	v, err := rc.ensure(func() (any, error) {
		return rc.buf.ReadLenenc()
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func (rc *rowCursor) ensureValue(col *protocol.Column, convertToTimestamp bool) (any, error) {
	return rc.ensure(func() (any, error) {
		return protocol.DecodeValue(rc.buf, col, convertToTimestamp)
	})
}

// streamTo pumps exactly total bytes of the current value into w,
// crossing packet boundaries as needed. Backpressure is the sink's
// blocking Write. A sink failure does not stop consumption: the
// remaining bytes are discarded so the connection stays aligned.
// Returns (sinkErr, fatal).
func (rc *rowCursor) streamTo(w io.Writer, total uint64) (error, error) {
	var sinkErr error
	var copied uint64

	writeOut := func(p []byte) {
		if sinkErr != nil {
			return
		}
		if _, err := w.Write(p); err != nil {
			sinkErr = err
		}
	}

	for copied < total {
		if rc.buf.Len() > 0 {
			n := rc.buf.Len()
			if rem := total - copied; uint64(n) > rem {
				n = int(rem)
			}
			p, _ := rc.buf.ReadBytes(n)
			writeOut(p)
			copied += uint64(n)
			continue
		}

		if !rc.more {
			return sinkErr, errTruncatedValue
		}
		h, err := protocol.ReadFrameHeader(rc.s.fr)
		if err != nil {
			return sinkErr, err
		}
		if h.Seq != rc.s.seq {
			return sinkErr, protocol.ErrPacketSync
		}
		rc.s.seq++
		rc.more = h.Length == protocol.MaxPayloadSize

		take := h.Length
		if rem := total - copied; uint64(take) > rem {
			take = int(rem)
		}
		if take > 0 {
			sub, err := rc.s.fr.ReadSubStream(take)
			if err != nil {
				return sinkErr, err
			}
			if err := pump(sub, writeOut); err != nil {
				return sinkErr, err
			}
			copied += uint64(take)
		}
		// The rest of the frame belongs to the columns that follow.
		if h.Length > take {
			rest, err := rc.s.fr.ReadExact(h.Length - take)
			if err != nil {
				return sinkErr, err
			}
			rc.buf.Append(rest)
		}
	}
	return sinkErr, nil
}

// pump drains sub fully, handing chunks to writeOut.
func pump(sub *transport.SubStream, writeOut func([]byte)) error {
	chunk := make([]byte, 64*1024)
	for {
		n, err := sub.Read(chunk)
		if n > 0 {
			writeOut(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
