package client

import (
	"bytes"
	"io"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/sqlwire/sqlwire/internal/binbuf"
	"github.com/sqlwire/sqlwire/internal/protocol"
)

type testSink struct {
	bytes.Buffer
	closed bool
}

func (s *testSink) Close() error {
	s.closed = true
	return nil
}

func pattern(n int, mod byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i) % mod
	}
	return p
}

func TestLongDataOutboundChunking(t *testing.T) {
	const streamSize = 40 * 1024 * 1024
	blob := pattern(streamSize, 251)

	var chunks atomic.Int32
	c, _ := newTestClient(t, nil, func(sc *script) {
		sc.serveHandshake(protocol.AuthNativePassword, "root123")

		cmd := sc.readCmd()
		if cmd[0] != protocol.ComStmtPrepare {
			sc.t.Errorf("expected prepare, got %#x", cmd[0])
			runtime.Goexit()
		}
		sc.write(prepareOKPayload(7, 0, 2))
		sc.write(columnPayload("?", protocol.TypeVarString, 0))
		sc.write(columnPayload("?", protocol.TypeVarString, 0))
		sc.write(eofPayload())

		// The stream parameter arrives as bounded long-data chunks
		// before the execute packet.
		var offset int
		for {
			cmd = sc.readCmd()
			if cmd[0] != protocol.ComStmtSendLongData {
				break
			}
			chunks.Add(1)
			buf := binbuf.New(cmd[1:])
			stmtID, _ := buf.ReadUint(4)
			paramID, _ := buf.ReadUint(2)
			if stmtID != 7 || paramID != 0 {
				sc.t.Errorf("long data addressed to stmt %d param %d", stmtID, paramID)
			}
			data := cmd[7:]
			if len(data) > longDataChunkSize {
				sc.t.Errorf("chunk of %d bytes exceeds the 15 MiB bound", len(data))
			}
			if data[0] != blob[offset] || data[len(data)-1] != blob[offset+len(data)-1] {
				sc.t.Errorf("chunk at offset %d corrupted", offset)
			}
			offset += len(data)
		}
		if offset != streamSize {
			sc.t.Errorf("received %d long-data bytes, want %d", offset, streamSize)
		}

		// The execute packet carries only the inline parameter.
		if cmd[0] != protocol.ComStmtExecute {
			sc.t.Errorf("expected execute after long data, got %#x", cmd[0])
			runtime.Goexit()
		}
		want := binbuf.New(nil)
		want.WriteBytes([]byte{protocol.ComStmtExecute, 7, 0, 0, 0, 0x00, 1, 0, 0, 0})
		want.WriteBytes([]byte{0x00, 0x01})
		want.WriteBytes([]byte{protocol.TypeLongBlob, 0x00, protocol.TypeLong, 0x80})
		want.WriteUint(172017002, 4)
		if !bytes.Equal(cmd, want.Bytes()) {
			sc.t.Errorf("execute = %x\nwant      %x", cmd, want.Bytes())
		}
		sc.write(okPayload(1, 0))
	})

	res, err := c.Exec(testCtx(t), "UPDATE info.student SET bo=? WHERE studentId=?",
		bytes.NewReader(blob), 172017002)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.AffectedRows != 1 {
		t.Errorf("affected rows = %d, want 1", res.AffectedRows)
	}
	if chunks.Load() != 3 {
		t.Errorf("long-data chunks = %d, want 3", chunks.Load())
	}
}

func serveBlobSelect(blobLen int, mod byte) func(sc *script) {
	return func(sc *script) {
		sc.serveHandshake(protocol.AuthNativePassword, "root123")

		sc.readCmd() // prepare
		sc.write(prepareOKPayload(5, 1, 0))
		sc.write(columnPayload("bo", protocol.TypeLongBlob, 0x0090))
		sc.write(eofPayload())

		sc.readCmd() // execute
		sc.write([]byte{0x01})
		sc.write(columnPayload("bo", protocol.TypeLongBlob, 0x0090))
		sc.write(eofPayload())

		row := binbuf.New(nil)
		row.WriteBytes([]byte{0x00, 0x00})
		row.WriteLenenc(uint64(blobLen))
		row.WriteBytes(pattern(blobLen, mod))
		sc.write(row.Bytes())
		sc.write(eofPayload())
	}
}

func TestInboundBlobStreamedToSink(t *testing.T) {
	const blobLen = 1000
	c, _ := newTestClient(t, nil, serveBlobSelect(blobLen, 249))

	sink := &testSink{}
	onLongData := func(length uint64, col *protocol.Column, rowIndex int, partial *Resultset) io.WriteCloser {
		if length != blobLen || col.Name != "bo" || rowIndex != 0 {
			t.Errorf("onLongData(%d, %q, %d)", length, col.Name, rowIndex)
		}
		return sink
	}

	rs, err := c.QueryWithSinks(testCtx(t), "SELECT bo FROM info.student LIMIT 1", nil, onLongData)
	if err != nil {
		t.Fatalf("QueryWithSinks: %v", err)
	}
	if rs.Rows[0][0] != "[long_blob] length:1000" {
		t.Errorf("placeholder cell = %v", rs.Rows[0][0])
	}
	if !sink.closed {
		t.Error("sink not closed")
	}
	if !bytes.Equal(sink.Bytes(), pattern(blobLen, 249)) {
		t.Errorf("sink received %d bytes, corrupted or short", sink.Len())
	}
}

func TestInboundBlobAcrossPacketBoundary(t *testing.T) {
	// A blob of exactly one max payload pushes the row packet past the
	// 16 MiB split: the tail of the value arrives in a continuation
	// frame and is pumped into the sink without rebuffering.
	blobLen := protocol.MaxPayloadSize
	c, _ := newTestClient(t, nil, serveBlobSelect(blobLen, 247))

	sink := &testSink{}
	rs, err := c.QueryWithSinks(testCtx(t), "SELECT bo FROM info.student LIMIT 1", nil,
		func(length uint64, col *protocol.Column, rowIndex int, partial *Resultset) io.WriteCloser {
			return sink
		})
	if err != nil {
		t.Fatalf("QueryWithSinks: %v", err)
	}
	if sink.Len() != blobLen {
		t.Fatalf("sink received %d bytes, want %d", sink.Len(), blobLen)
	}
	got := sink.Bytes()
	if got[0] != 0 || got[blobLen-1] != byte(blobLen-1)%247 {
		t.Error("sink contents corrupted at the packet boundary")
	}
	if rs.Rows[0][0] != longDataPlaceholder(protocol.TypeLongBlob, uint64(blobLen)) {
		t.Errorf("placeholder cell = %v", rs.Rows[0][0])
	}
}

func TestInboundBlobInlineWithoutSink(t *testing.T) {
	// Returning nil from onLongData decodes the value in place.
	const blobLen = 64
	c, _ := newTestClient(t, nil, serveBlobSelect(blobLen, 61))

	rs, err := c.QueryWithSinks(testCtx(t), "SELECT bo FROM info.student LIMIT 1", nil,
		func(length uint64, col *protocol.Column, rowIndex int, partial *Resultset) io.WriteCloser {
			return nil
		})
	if err != nil {
		t.Fatalf("QueryWithSinks: %v", err)
	}
	cell, ok := rs.Rows[0][0].([]byte)
	if !ok || !bytes.Equal(cell, pattern(blobLen, 61)) {
		t.Errorf("inline cell = %v", rs.Rows[0][0])
	}
}
