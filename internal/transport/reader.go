package transport

import (
	"errors"
	"io"
)

// ErrPendingSubStream is returned when a read is attempted while a
// sub-stream from ReadSubStream has not been fully consumed. Reads are
// strictly sequential; the transport cannot skip ahead.
var ErrPendingSubStream = errors.New("transport: sub-stream not fully consumed")

// FramedReader is a pull-based reader over a byte stream. The protocol
// engine drives it with exact-size reads for packet headers and small
// payloads, and with bounded sub-streams for oversized column values
// that go straight into caller sinks.
type FramedReader struct {
	r   io.Reader
	sub *SubStream
}

// NewFramedReader wraps r.
func NewFramedReader(r io.Reader) *FramedReader {
	return &FramedReader{r: r}
}

// ReadExact returns a buffer of exactly n bytes, blocking until enough
// bytes arrive. If the stream ends first it returns ErrClosed.
func (f *FramedReader) ReadExact(n int) ([]byte, error) {
	if f.sub != nil && f.sub.remaining > 0 {
		return nil, ErrPendingSubStream
	}
	f.sub = nil
	buf := make([]byte, n)
	if _, err := io.ReadFull(f.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return buf, nil
}

// ReadSubStream returns a reader that yields the next n bytes of the
// stream and then ends. The sub-stream must be fully consumed (or
// drained with Discard) before the next read on the parent.
func (f *FramedReader) ReadSubStream(n int) (*SubStream, error) {
	if f.sub != nil && f.sub.remaining > 0 {
		return nil, ErrPendingSubStream
	}
	s := &SubStream{f: f, remaining: n}
	f.sub = s
	return s, nil
}

// SubStream is a bounded view of the parent stream.
type SubStream struct {
	f         *FramedReader
	remaining int
}

// Len returns the number of bytes the sub-stream will still yield.
func (s *SubStream) Len() int { return s.remaining }

// Read implements io.Reader. After the bounded region is consumed it
// returns io.EOF; a stream ending early yields ErrClosed.
func (s *SubStream) Read(p []byte) (int, error) {
	if s.remaining == 0 {
		return 0, io.EOF
	}
	if len(p) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.f.r.Read(p)
	s.remaining -= n
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrClosed
		}
		return n, err
	}
	return n, nil
}

// Discard drains any unconsumed bytes so the parent reader can
// continue. Error paths in the engine call this before reusing the
// reader.
func (s *SubStream) Discard() error {
	if s.remaining == 0 {
		return nil
	}
	_, err := io.Copy(io.Discard, s)
	return err
}
