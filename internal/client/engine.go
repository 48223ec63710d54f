package client

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/sqlwire/sqlwire/internal/binbuf"
	"github.com/sqlwire/sqlwire/internal/protocol"
	"github.com/sqlwire/sqlwire/internal/transport"
)

// session is one authenticated connection. The engine goroutine is its
// only user, so no locking is needed; a fatal error from any method
// discards the whole session, prepared cache included.
type session struct {
	c     *Client
	id    string
	conn  net.Conn
	fr    *transport.FramedReader
	seq   byte
	db    string
	cache *preparedCache
}

func newSession(c *Client, conn net.Conn) *session {
	return &session{
		c:     c,
		id:    uuid.NewString(),
		conn:  conn,
		fr:    transport.NewFramedReader(conn),
		db:    c.cfg.Database,
		cache: newPreparedCache(),
	}
}

// readPacket reads one logical packet, verifying and advancing the
// sequence id.
func (s *session) readPacket() ([]byte, error) {
	payload, next, err := protocol.ReadPacket(s.fr, s.seq)
	s.seq = next
	return payload, err
}

// writeCommand writes a command payload, resetting the sequence id to
// the task's base of zero.
func (s *session) writeCommand(payload []byte) error {
	s.seq = 0
	return s.writePayload(payload)
}

// writePayload writes a payload continuing the current sequence id
// (used for the handshake response, which follows the server's seq 0
// greeting).
func (s *session) writePayload(payload []byte) error {
	next, err := protocol.WriteFrames(s.conn, payload, s.seq)
	s.seq = next
	if err != nil {
		return fmt.Errorf("writing to transport: %w", err)
	}
	return nil
}

// authenticate performs the v10 handshake on a fresh connection.
func (s *session) authenticate() error {
	s.seq = 0
	payload, err := s.readPacket()
	if err != nil {
		return ErrDisconnected
	}
	if protocol.IsErr(payload) {
		se := protocol.ParseErr(payload)
		return s.loginFailed(&protocol.AuthError{Code: se.Code, Message: se.Message})
	}

	hs, err := protocol.ParseHandshake(payload)
	if err != nil {
		return err
	}
	if s.c.handlers.OnHandshake != nil {
		s.c.handlers.OnHandshake(hs)
	}
	s.c.log.Debug("handshake received",
		"session", s.id,
		"server_version", hs.ServerVersion,
		"auth_plugin", hs.AuthPlugin)

	resp, err := protocol.BuildHandshakeResponse(hs, s.c.cfg.User, s.c.cfg.Password, s.c.cfg.Database, s.c.cfg.charsetID())
	if err != nil {
		return s.loginFailed(&protocol.AuthError{Message: err.Error()})
	}
	if err := s.writePayload(resp); err != nil {
		return ErrDisconnected
	}

	payload, err = s.readPacket()
	if err != nil {
		return ErrDisconnected
	}
	res, err := protocol.ClassifyAuthPacket(hs.AuthPlugin, payload)
	if res == protocol.AuthReadMore {
		// caching_sha2 fast-auth accepted; the real OK follows.
		payload, err = s.readPacket()
		if err != nil {
			return ErrDisconnected
		}
		res, err = protocol.ClassifyAuthPacket(protocol.AuthNativePassword, payload)
	}
	if res != protocol.AuthOK {
		var ae *protocol.AuthError
		if errors.As(err, &ae) {
			return s.loginFailed(ae)
		}
		return err
	}
	s.c.log.Info("authenticated", "session", s.id, "database", s.db)
	return nil
}

func (s *session) loginFailed(ae *protocol.AuthError) error {
	if s.c.handlers.OnLoginError != nil {
		s.c.handlers.OnLoginError(ae.Code, ae.Message)
	}
	return ae
}

// runTask executes one task. A non-nil return means the connection is
// lost and the session must be discarded; per-task failures are
// resolved into the task and return nil.
func (s *session) runTask(t *task) error {
	switch t.kind {
	case taskPing:
		return s.runSimple(t, []byte{protocol.ComPing}, "")
	case taskUse:
		payload := append([]byte{protocol.ComInitDB}, t.sql...)
		return s.runSimple(t, payload, t.sql)
	default:
		return s.runQuery(t)
	}
}

// runSimple handles the single-packet OK/ERR commands (PING, INIT_DB).
// newDB, when non-empty, becomes the current database on OK.
func (s *session) runSimple(t *task, payload []byte, newDB string) error {
	if err := s.writeCommand(payload); err != nil {
		return err
	}
	resp, err := s.readPacket()
	if err != nil {
		return err
	}
	if protocol.IsErr(resp) {
		t.resolve(nil, protocol.ParseErr(resp))
		return nil
	}
	ok, err := protocol.ParseOK(resp)
	if err != nil {
		t.resolve(nil, err)
		return nil
	}
	if newDB != "" {
		s.db = newDB
	}
	t.resolve(&Reply{Result: resultFromOK(ok)}, nil)
	return nil
}

func (s *session) runQuery(t *task) error {
	h, hit := s.cache.get(s.db, t.sql)
	if !hit {
		var taskErr error
		var fatal error
		h, taskErr, fatal = s.prepare(t.sql)
		if fatal != nil {
			return fatal
		}
		if taskErr != nil {
			t.resolve(nil, taskErr)
			return nil
		}
		s.cache.put(s.db, t.sql, h)
		if s.c.metrics != nil {
			s.c.metrics.PrepareIssued(s.c.name)
			s.c.metrics.SetPreparedCacheSize(s.c.name, s.cache.size())
		}
		if s.c.handlers.OnPrepareCached != nil {
			s.c.handlers.OnPrepareCached(t.sql, h)
		}
	}

	if len(t.params) != int(h.ParamsNum) {
		t.resolve(nil, &ParamMismatchError{Given: len(t.params), Expected: int(h.ParamsNum)})
		return nil
	}

	params := make([]protocol.Param, len(t.params))
	for i, p := range t.params {
		ep, err := protocol.EncodeParam(p)
		if err != nil {
			t.resolve(nil, err)
			return nil
		}
		params[i] = ep
	}

	// Stream parameters go out before the execute body so the server
	// already holds the blob keyed by statement and param id.
	for i, p := range params {
		if p.Stream != nil {
			if err := s.sendLongData(h.StatementID, uint16(i), p.Stream); err != nil {
				return err
			}
		}
	}

	if err := s.writeCommand(buildExecute(h, params)); err != nil {
		return err
	}
	return s.readQueryResponse(t)
}

// prepare issues COM_STMT_PREPARE and drains the definition packets.
// Returns (handle, taskErr, fatal).
func (s *session) prepare(sql string) (PreparedHandle, error, error) {
	var h PreparedHandle
	if err := s.writeCommand(append([]byte{protocol.ComStmtPrepare}, sql...)); err != nil {
		return h, nil, err
	}
	payload, err := s.readPacket()
	if err != nil {
		return h, nil, err
	}
	if protocol.IsErr(payload) {
		return h, protocol.ParseErr(payload), nil
	}
	if !protocol.IsOK(payload) || len(payload) < 9 {
		return h, nil, protocol.ErrMalformedPacket
	}

	buf := binbuf.New(payload[1:])
	id, _ := buf.ReadUint(4)
	cols, _ := buf.ReadUint(2)
	params, _ := buf.ReadUint(2)
	h = PreparedHandle{
		StatementID: uint32(id),
		ColumnsNum:  uint16(cols),
		ParamsNum:   uint16(params),
	}

	// One definition packet per parameter and per column, each set
	// closed by an EOF.
	if h.ParamsNum > 0 {
		if err := s.drainUntilEOF(); err != nil {
			return h, nil, err
		}
	}
	if h.ColumnsNum > 0 {
		if err := s.drainUntilEOF(); err != nil {
			return h, nil, err
		}
	}
	return h, nil, nil
}

func (s *session) drainUntilEOF() error {
	for {
		payload, err := s.readPacket()
		if err != nil {
			return err
		}
		if protocol.IsEOF(payload) {
			return nil
		}
	}
}

// buildExecute assembles the COM_STMT_EXECUTE payload: opcode,
// statement id, no-cursor byte, iteration count 1, then (when the
// statement has parameters) NULL bitmap, new-params-bound flag,
// type/flag pairs and inline value bytes. Stream parameters contribute
// their type pair only.
func buildExecute(h PreparedHandle, params []protocol.Param) []byte {
	buf := binbuf.New(nil)
	buf.WriteBytes([]byte{protocol.ComStmtExecute})
	buf.WriteUint(uint64(h.StatementID), 4)
	buf.WriteBytes([]byte{0x00})
	buf.WriteUint(1, 4)

	if len(params) > 0 {
		bitmap := make([]byte, (len(params)+7)/8)
		for i, p := range params {
			if p.Null {
				bitmap[i/8] |= 1 << (uint(i) & 7)
			}
		}
		buf.WriteBytes(bitmap)
		buf.WriteBytes([]byte{0x01})
		for _, p := range params {
			buf.WriteBytes([]byte{p.Type, p.Flag})
		}
		for _, p := range params {
			if p.Stream == nil && !p.Null {
				buf.WriteBytes(p.Data)
			}
		}
	}
	return buf.Bytes()
}

// readQueryResponse consumes the execute response: an immediate OK for
// statements without a result set, otherwise column definitions, an
// EOF, the binary rows and the closing EOF.
func (s *session) readQueryResponse(t *task) error {
	payload, err := s.readPacket()
	if err != nil {
		return err
	}
	if protocol.IsErr(payload) {
		t.resolve(nil, protocol.ParseErr(payload))
		return nil
	}
	if protocol.IsOK(payload) {
		ok, perr := protocol.ParseOK(payload)
		if perr != nil {
			t.resolve(nil, perr)
			return nil
		}
		t.resolve(&Reply{Result: resultFromOK(ok)}, nil)
		return nil
	}

	count, err := binbuf.New(payload).ReadLenenc()
	if err != nil {
		return protocol.ErrMalformedPacket
	}

	rs := &Resultset{Columns: make([]*protocol.Column, 0, count)}
	for i := 0; i < int(count); i++ {
		p, err := s.readPacket()
		if err != nil {
			return err
		}
		col, perr := protocol.ParseColumn(p)
		if perr != nil {
			return perr
		}
		rs.Columns = append(rs.Columns, col)
		if s.c.handlers.OnColumnDescribed != nil {
			s.c.handlers.OnColumnDescribed(col, t.sql)
		}
	}
	p, err := s.readPacket()
	if err != nil {
		return err
	}
	if !protocol.IsEOF(p) {
		return protocol.ErrMalformedPacket
	}

	return s.readRows(t, rs)
}

// readRows drives the RECV_ROWS phase frame by frame so oversized
// column values can be streamed to sinks without buffering whole
// packets.
func (s *session) readRows(t *task, rs *Resultset) error {
	rowIdx := 0
	for {
		rc, err := s.startRowPacket()
		if err != nil {
			return err
		}
		head := rc.buf.Bytes()
		if !rc.more && protocol.IsEOF(head) {
			t.resolve(&Reply{Resultset: rs}, nil)
			return nil
		}
		if !rc.more && protocol.IsErr(head) {
			t.resolve(nil, protocol.ParseErr(head))
			return nil
		}

		row, taskErr, fatal := s.decodeRow(rc, t, rs, rowIdx)
		if fatal != nil {
			return fatal
		}
		if taskErr != nil {
			// The connection survives a per-row decode failure: the
			// remainder of the result set is drained before the task
			// is failed.
			if err := s.abandonRows(rc); err != nil {
				return err
			}
			t.resolve(nil, taskErr)
			return nil
		}
		rs.Rows = append(rs.Rows, row)
		rowIdx++
	}
}

// classifyRowErr splits a row-phase error into its per-task and
// session-fatal forms. Frame-level failures (stream closed, sequence
// desync, socket errors) kill the session; decode failures inside an
// intact packet fail only the task.
func classifyRowErr(err error) (taskErr, fatal error) {
	if err == nil {
		return nil, nil
	}
	if errors.Is(err, transport.ErrClosed) || errors.Is(err, transport.ErrPendingSubStream) ||
		errors.Is(err, protocol.ErrPacketSync) {
		return nil, err
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return nil, err
	}
	return err, nil
}

// decodeRow decodes one binary row. Returns (row, taskErr, fatal).
func (s *session) decodeRow(rc *rowCursor, t *task, rs *Resultset, rowIdx int) ([]any, error, error) {
	// Row header byte 0x00.
	if _, err := rc.ensureBytes(1); err != nil {
		taskErr, fatal := classifyRowErr(err)
		return nil, taskErr, fatal
	}

	n := len(rs.Columns)
	// The binary row NULL bitmap is offset by 2 bit positions.
	bitmapLen := (n + 7 + 2) / 8
	bitmap, err := rc.ensureBytes(bitmapLen)
	if err != nil {
		taskErr, fatal := classifyRowErr(err)
		return nil, taskErr, fatal
	}
	// The cursor's backing array may grow; keep a stable copy.
	bitmap = append([]byte(nil), bitmap...)

	row := make([]any, n)
	for i, col := range rs.Columns {
		bit := i + 2
		if bitmap[bit/8]&(1<<(uint(bit)&7)) != 0 {
			row[i] = nil
			continue
		}

		if col.VariableLength && t.onLongData != nil {
			length, err := rc.ensureLenenc()
			if err != nil {
				taskErr, fatal := classifyRowErr(err)
				return nil, taskErr, fatal
			}
			sink := t.onLongData(length, col, rowIdx, rs)
			if sink != nil {
				sinkErr, streamErr := rc.streamTo(sink, length)
				closeErr := sink.Close()
				if streamErr != nil {
					taskErr, fatal := classifyRowErr(streamErr)
					return nil, taskErr, fatal
				}
				if sinkErr == nil {
					sinkErr = closeErr
				}
				if sinkErr != nil {
					return nil, fmt.Errorf("long-data sink: %w", sinkErr), nil
				}
				if s.c.metrics != nil {
					s.c.metrics.LongData(s.c.name, "in", int64(length))
				}
				row[i] = longDataPlaceholder(col.Type, length)
				continue
			}
			data, err := rc.ensureBytes(int(length))
			if err != nil {
				taskErr, fatal := classifyRowErr(err)
				return nil, taskErr, fatal
			}
			row[i] = protocol.ValueFromBytes(col, data)
			continue
		}

		v, err := rc.ensureValue(col, s.c.cfg.ConvertToTimestamp)
		if err != nil {
			taskErr, fatal := classifyRowErr(err)
			return nil, taskErr, fatal
		}
		row[i] = v
	}
	return row, nil, nil
}

// abandonRows discards the remainder of a result set after a per-task
// failure so the connection stays usable: first any continuation
// frames of the current packet, then whole packets until the closing
// EOF or an ERR.
func (s *session) abandonRows(rc *rowCursor) error {
	for rc.more {
		if err := rc.appendNextFrame(); err != nil {
			return err
		}
	}
	for {
		payload, err := s.readPacket()
		if err != nil {
			return err
		}
		if protocol.IsEOF(payload) || protocol.IsErr(payload) {
			return nil
		}
	}
}
