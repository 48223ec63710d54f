package protocol

import (
	"bytes"
	"errors"
	"testing"
)

// sliceReader adapts a byte slice to the ExactReader pull interface.
type sliceReader struct {
	data []byte
}

func (r *sliceReader) ReadExact(n int) ([]byte, error) {
	if n > len(r.data) {
		return nil, errors.New("short read")
	}
	p := r.data[:n]
	r.data = r.data[n:]
	return p, nil
}

func frameStream(t *testing.T, payload []byte, seq byte) *sliceReader {
	t.Helper()
	var out bytes.Buffer
	if _, err := WriteFrames(&out, payload, seq); err != nil {
		t.Fatalf("WriteFrames: %v", err)
	}
	return &sliceReader{data: out.Bytes()}
}

func TestWriteFramesSmall(t *testing.T) {
	var out bytes.Buffer
	next, err := WriteFrames(&out, []byte{0xaa, 0xbb, 0xcc}, 5)
	if err != nil {
		t.Fatalf("WriteFrames: %v", err)
	}
	if next != 6 {
		t.Errorf("next seq = %d, want 6", next)
	}
	want := []byte{0x03, 0x00, 0x00, 0x05, 0xaa, 0xbb, 0xcc}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("frame = %x, want %x", out.Bytes(), want)
	}
}

func TestWriteFramesSplit(t *testing.T) {
	// A body spanning one full frame plus a remainder.
	body := make([]byte, MaxPayloadSize+10)
	for i := range body {
		body[i] = byte(i)
	}
	r := frameStream(t, body, 0)

	got, next, err := ReadPacket(r, 0)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if next != 2 {
		t.Errorf("next seq = %d, want 2", next)
	}
	if !bytes.Equal(got, body) {
		t.Error("reassembled payload differs from body")
	}
}

func TestWriteFramesExactMultiple(t *testing.T) {
	// A body of exactly one max payload needs an empty terminator
	// frame.
	body := make([]byte, MaxPayloadSize)
	var out bytes.Buffer
	next, err := WriteFrames(&out, body, 0)
	if err != nil {
		t.Fatalf("WriteFrames: %v", err)
	}
	if next != 2 {
		t.Errorf("next seq = %d, want 2 (data frame + empty terminator)", next)
	}
	tail := out.Bytes()[len(out.Bytes())-4:]
	if !bytes.Equal(tail, []byte{0x00, 0x00, 0x00, 0x01}) {
		t.Errorf("missing empty terminator frame, tail = %x", tail)
	}

	got, _, err := ReadPacket(&sliceReader{data: out.Bytes()}, 0)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if len(got) != MaxPayloadSize {
		t.Errorf("reassembled %d bytes, want %d", len(got), MaxPayloadSize)
	}
}

func TestReadPacketSeqMismatch(t *testing.T) {
	r := frameStream(t, []byte{0x00}, 3)
	if _, _, err := ReadPacket(r, 0); !errors.Is(err, ErrPacketSync) {
		t.Errorf("got %v, want ErrPacketSync", err)
	}
}

func TestClassifiers(t *testing.T) {
	if !IsOK([]byte{0x00, 0x00, 0x00}) {
		t.Error("IsOK failed on OK packet")
	}
	if !IsErr([]byte{0xff, 0x01, 0x02}) {
		t.Error("IsErr failed on ERR packet")
	}
	if !IsEOF([]byte{0xfe, 0x00, 0x00, 0x02, 0x00}) {
		t.Error("IsEOF failed on 5-byte EOF packet")
	}
	// A 0xFE first byte with payload >= 9 bytes is a data packet, not
	// an EOF.
	if IsEOF([]byte{0xfe, 1, 2, 3, 4, 5, 6, 7, 8, 9}) {
		t.Error("IsEOF misclassified long 0xFE packet")
	}
}

func TestParseOK(t *testing.T) {
	// affected=3 (lenenc), insert id=7, status=0x0002, warnings=1
	ok, err := ParseOK([]byte{0x00, 0x03, 0x07, 0x02, 0x00, 0x01, 0x00})
	if err != nil {
		t.Fatalf("ParseOK: %v", err)
	}
	if ok.AffectedRows != 3 || ok.LastInsertID != 7 || ok.Status != 2 || ok.Warnings != 1 {
		t.Errorf("ParseOK = %+v", ok)
	}
}

func TestParseErr(t *testing.T) {
	payload := append([]byte{0xff, 0x15, 0x04, '#', 'H', 'Y', '0', '0', '0'}, "Access denied"...)
	se := ParseErr(payload)
	if se.Code != 1045 {
		t.Errorf("code = %d, want 1045", se.Code)
	}
	if se.State != "HY000" {
		t.Errorf("state = %q, want HY000", se.State)
	}
	if se.Message != "Access denied" {
		t.Errorf("message = %q", se.Message)
	}
}

func TestParseErrWithoutState(t *testing.T) {
	payload := append([]byte{0xff, 0x15, 0x04}, "denied"...)
	se := ParseErr(payload)
	if se.Code != 1045 || se.Message != "denied" {
		t.Errorf("ParseErr = %+v", se)
	}
}
