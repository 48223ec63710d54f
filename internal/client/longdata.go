package client

import (
	"errors"
	"fmt"
	"io"

	"github.com/sqlwire/sqlwire/internal/binbuf"
	"github.com/sqlwire/sqlwire/internal/protocol"
)

// longDataChunkSize bounds one COM_STMT_SEND_LONG_DATA payload. The
// server accumulates the chunks keyed by statement and param id until
// the execute arrives.
const longDataChunkSize = 15 * 1024 * 1024

// sendLongData pumps a stream parameter to the server in bounded
// chunks before the execute packet is assembled. Each chunk is its own
// command, so every frame starts at sequence id zero. Backpressure on
// the source is the blocking read; on the socket, the blocking write.
//
// Any failure here — including a source read error — poisons the
// server-side blob for this statement, so errors are session-fatal.
func (s *session) sendLongData(stmtID uint32, paramID uint16, src io.Reader) error {
	chunk := make([]byte, longDataChunkSize)
	var total int64
	sent := false

	for {
		n, err := io.ReadFull(src, chunk)
		if n > 0 {
			if werr := s.writeLongDataChunk(stmtID, paramID, chunk[:n]); werr != nil {
				return werr
			}
			total += int64(n)
			sent = true
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading long-data source: %w", err)
		}
	}

	// A fully empty stream still announces the parameter.
	if !sent {
		if err := s.writeLongDataChunk(stmtID, paramID, nil); err != nil {
			return err
		}
	}

	if s.c.metrics != nil {
		s.c.metrics.LongData(s.c.name, "out", total)
	}
	s.c.log.Debug("long data sent",
		"session", s.id, "statement", stmtID, "param", paramID, "bytes", total)
	return nil
}

func (s *session) writeLongDataChunk(stmtID uint32, paramID uint16, data []byte) error {
	buf := binbuf.New(nil)
	buf.WriteBytes([]byte{protocol.ComStmtSendLongData})
	buf.WriteUint(uint64(stmtID), 4)
	buf.WriteUint(uint64(paramID), 2)
	buf.WriteBytes(data)

	if _, err := protocol.WriteFrames(s.conn, buf.Bytes(), 0); err != nil {
		return fmt.Errorf("writing to transport: %w", err)
	}
	return nil
}
