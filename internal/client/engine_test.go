package client

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sqlwire/sqlwire/internal/protocol"
)

func encodeAll(t *testing.T, values ...any) []protocol.Param {
	t.Helper()
	params := make([]protocol.Param, len(values))
	for i, v := range values {
		p, err := protocol.EncodeParam(v)
		if err != nil {
			t.Fatalf("EncodeParam(%v): %v", v, err)
		}
		params[i] = p
	}
	return params
}

func TestBuildExecuteNullBitmap(t *testing.T) {
	h := PreparedHandle{StatementID: 3, ParamsNum: 9}
	// Params 0 and 8 are null: bits 0 of byte 0 and 0 of byte 1.
	values := []any{nil, 1, 2, 3, 4, 5, 6, 7, nil}
	payload := buildExecute(h, encodeAll(t, values...))

	if payload[0] != protocol.ComStmtExecute {
		t.Fatalf("opcode = %#x", payload[0])
	}
	bitmap := payload[10:12]
	if !bytes.Equal(bitmap, []byte{0x01, 0x01}) {
		t.Errorf("null bitmap = %x, want 0101", bitmap)
	}
	if payload[12] != 0x01 {
		t.Errorf("new-params-bound flag = %#x", payload[12])
	}

	types := payload[13 : 13+2*len(values)]
	if types[0] != protocol.TypeNull || types[2*8] != protocol.TypeNull {
		t.Errorf("null params not typed NULL: %x", types)
	}
	// Null parameters contribute no value bytes: 7 tiny ints follow
	// the type block.
	if got := len(payload) - (13 + 2*len(values)); got != 7 {
		t.Errorf("value block = %d bytes, want 7", got)
	}
}

func TestBuildExecuteNoParams(t *testing.T) {
	h := PreparedHandle{StatementID: 12}
	payload := buildExecute(h, nil)
	want := []byte{protocol.ComStmtExecute, 12, 0, 0, 0, 0x00, 1, 0, 0, 0}
	if !bytes.Equal(payload, want) {
		t.Errorf("payload = %x, want %x", payload, want)
	}
}

func TestBuildExecuteOmitsStreamData(t *testing.T) {
	h := PreparedHandle{StatementID: 1, ParamsNum: 1}
	payload := buildExecute(h, encodeAll(t, strings.NewReader("blob")))

	// Type pair present, no inline value bytes.
	wantLen := 10 + 1 + 1 + 2
	if len(payload) != wantLen {
		t.Errorf("payload = %d bytes, want %d", len(payload), wantLen)
	}
	if payload[12] != protocol.TypeLongBlob {
		t.Errorf("stream param type = %#x", payload[12])
	}
}

func TestLongDataPlaceholder(t *testing.T) {
	if got := longDataPlaceholder(protocol.TypeLongBlob, 12345); got != "[long_blob] length:12345" {
		t.Errorf("placeholder = %q", got)
	}
	if got := longDataPlaceholder(protocol.TypeJSON, 9); got != "[json] length:9" {
		t.Errorf("placeholder = %q", got)
	}
}

func TestPreparedCacheKeying(t *testing.T) {
	pc := newPreparedCache()
	pc.put("db1", "SELECT 1", PreparedHandle{StatementID: 1})
	pc.put("db2", "SELECT 1", PreparedHandle{StatementID: 2})

	h, ok := pc.get("db1", "SELECT 1")
	if !ok || h.StatementID != 1 {
		t.Errorf("db1 lookup = %+v, %v", h, ok)
	}
	h, ok = pc.get("db2", "SELECT 1")
	if !ok || h.StatementID != 2 {
		t.Errorf("db2 lookup = %+v, %v", h, ok)
	}
	if _, ok := pc.get("db3", "SELECT 1"); ok {
		t.Error("unknown database key matched")
	}
	if pc.size() != 2 {
		t.Errorf("size = %d", pc.size())
	}
}
