package protocol

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	frames := []*Frame{
		{Op: OpHello, Payload: []byte(`{"type":"A","name":"a1"}`)},
		{Op: OpWelcome, Payload: []byte(`{"type":"B","name":"b1"}`)},
		{Op: OpPing},
		{Op: OpPong},
		{Op: OpData, Payload: []byte("application bytes")},
	}

	for _, f := range frames {
		buf, err := f.Encode()
		if err != nil {
			t.Fatalf("Encode(%s) failed: %v", f.Op.Name(), err)
		}
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", f.Op.Name(), err)
		}
		if got.Op != f.Op || got.Flags != f.Flags {
			t.Errorf("round trip %s: got %s", f.Op.Name(), got)
		}
		if len(f.Payload) == 0 && len(got.Payload) == 0 {
			continue
		}
		if !reflect.DeepEqual(got.Payload, f.Payload) {
			t.Errorf("round trip %s payload = %q, want %q", f.Op.Name(), got.Payload, f.Payload)
		}
	}
}

func TestEncodeTooLarge(t *testing.T) {
	f := &Frame{Op: OpData, Payload: make([]byte, MaxPayloadSize+1)}
	if _, err := f.Encode(); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Encode oversized payload: got %v, want ErrFrameTooLarge", err)
	}
}

func TestTryDecodeHeader(t *testing.T) {
	f := &Frame{Op: OpData, Payload: []byte("hello")}
	buf, _ := f.Encode()

	h, ok := TryDecodeHeader(buf)
	if !ok {
		t.Fatal("TryDecodeHeader rejected a valid header")
	}
	if h.Op != OpData || h.PayloadLength != 5 || h.PayloadOffset != HeaderSize {
		t.Errorf("header = %+v", h)
	}

	p, err := h.Payload(buf)
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}
	if string(p) != "hello" {
		t.Errorf("payload = %q, want %q", p, "hello")
	}

	// Short buffer.
	if _, ok := TryDecodeHeader(buf[:HeaderSize-1]); ok {
		t.Error("TryDecodeHeader accepted a short buffer")
	}

	// Oversized declared length.
	bad := make([]byte, HeaderSize)
	bad[2], bad[3], bad[4], bad[5] = 0xFF, 0xFF, 0xFF, 0xFF
	if _, ok := TryDecodeHeader(bad); ok {
		t.Error("TryDecodeHeader accepted an oversized length")
	}
}

func TestHeaderPayloadTruncated(t *testing.T) {
	f := &Frame{Op: OpData, Payload: []byte("hello")}
	buf, _ := f.Encode()

	h, _ := TryDecodeHeader(buf)
	if _, err := h.Payload(buf[:len(buf)-1]); err == nil {
		t.Error("Payload should fail on a truncated buffer")
	}
	if _, err := Decode(buf[:len(buf)-1]); err == nil {
		t.Error("Decode should fail on a truncated buffer")
	}
}

func TestFrameReaderWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)

	sent := []*Frame{
		{Op: OpPing},
		{Op: OpData, Payload: []byte("first")},
		{Op: OpData, Payload: []byte("second")},
	}
	for _, f := range sent {
		if err := w.Write(f); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	r := NewFrameReader(&buf)
	for _, want := range sent {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if got.Op != want.Op || string(got.Payload) != string(want.Payload) {
			t.Errorf("Read = %s %q, want %s %q", got.Op.Name(), got.Payload, want.Op.Name(), want.Payload)
		}
	}
	if _, err := r.Read(); err != io.EOF {
		t.Errorf("Read at end = %v, want io.EOF", err)
	}
}

func TestFrameReaderRaw(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	if err := w.Write(&Frame{Op: OpData, Payload: []byte("raw")}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	wire := append([]byte(nil), buf.Bytes()...)

	raw, err := NewFrameReader(&buf).ReadRaw()
	if err != nil {
		t.Fatalf("ReadRaw failed: %v", err)
	}
	if !bytes.Equal(raw, wire) {
		t.Errorf("ReadRaw = %x, want %x", raw, wire)
	}
	h, ok := TryDecodeHeader(raw)
	if !ok || h.Op != OpData {
		t.Errorf("raw buffer header = %+v ok=%v", h, ok)
	}
}

func TestOpCodeClassification(t *testing.T) {
	for _, op := range []OpCode{OpHello, OpWelcome, OpPing, OpPong} {
		if !op.IsControl() {
			t.Errorf("%s should be a control opcode", op.Name())
		}
	}
	if OpData.IsControl() {
		t.Error("DATA should not be a control opcode")
	}
	if OpCode(0x7F).Name() != "UNKNOWN" {
		t.Errorf("unknown opcode name = %q", OpCode(0x7F).Name())
	}
}
