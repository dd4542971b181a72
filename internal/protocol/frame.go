package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrFrameTooLarge is returned when a frame exceeds the maximum size.
	ErrFrameTooLarge = errors.New("frame payload exceeds maximum size")

	// ErrInvalidFrame is returned when a frame is malformed.
	ErrInvalidFrame = errors.New("invalid frame")
)

// Frame is a single wire protocol envelope.
// Header format (6 bytes):
//
//	Op     [1 byte]  - Opcode
//	Flags  [1 byte]  - Reserved, zero
//	Length [4 bytes] - Payload length (big-endian)
type Frame struct {
	Op      OpCode
	Flags   uint8
	Payload []byte
}

// Header is the decoded fixed-size prefix of a frame. PayloadOffset
// and PayloadLength locate the payload inside the buffer the header
// was decoded from.
type Header struct {
	Op            OpCode
	Flags         uint8
	PayloadOffset int
	PayloadLength int
}

// Encode serializes the frame to bytes.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = byte(f.Op)
	buf[1] = f.Flags
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// TryDecodeHeader decodes a frame header from the front of buf.
// It reports false when buf is too short or the declared payload
// exceeds MaxPayloadSize.
func TryDecodeHeader(buf []byte) (Header, bool) {
	if len(buf) < HeaderSize {
		return Header{}, false
	}
	length := binary.BigEndian.Uint32(buf[2:6])
	if length > MaxPayloadSize {
		return Header{}, false
	}
	return Header{
		Op:            OpCode(buf[0]),
		Flags:         buf[1],
		PayloadOffset: HeaderSize,
		PayloadLength: int(length),
	}, true
}

// Payload extracts the payload slice described by h from buf. The
// returned slice aliases buf.
func (h Header) Payload(buf []byte) ([]byte, error) {
	end := h.PayloadOffset + h.PayloadLength
	if end > len(buf) {
		return nil, fmt.Errorf("%w: buffer too short for payload", ErrInvalidFrame)
	}
	return buf[h.PayloadOffset:end], nil
}

// Decode deserializes a complete frame from buf. The payload is copied.
func Decode(buf []byte) (*Frame, error) {
	h, ok := TryDecodeHeader(buf)
	if !ok {
		return nil, fmt.Errorf("%w: bad header", ErrInvalidFrame)
	}
	p, err := h.Payload(buf)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, len(p))
	copy(payload, p)
	return &Frame{Op: h.Op, Flags: h.Flags, Payload: payload}, nil
}

// String returns a debug representation of the frame.
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{Op=%s, Flags=0x%02x, PayloadLen=%d}",
		f.Op.Name(), f.Flags, len(f.Payload))
}

// FrameReader reads frames from an io.Reader, reassembling across
// short reads.
type FrameReader struct {
	r      io.Reader
	header [HeaderSize]byte
}

// NewFrameReader creates a new FrameReader.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Read reads the next frame.
func (fr *FrameReader) Read() (*Frame, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		return nil, err
	}

	h, ok := TryDecodeHeader(fr.header[:])
	if !ok {
		return nil, fmt.Errorf("%w: bad header", ErrInvalidFrame)
	}

	payload := make([]byte, h.PayloadLength)
	if h.PayloadLength > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return nil, err
		}
	}

	return &Frame{Op: h.Op, Flags: h.Flags, Payload: payload}, nil
}

// ReadRaw reads the next frame and returns its full wire image,
// header included.
func (fr *FrameReader) ReadRaw() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		return nil, err
	}

	h, ok := TryDecodeHeader(fr.header[:])
	if !ok {
		return nil, fmt.Errorf("%w: bad header", ErrInvalidFrame)
	}

	buf := make([]byte, HeaderSize+h.PayloadLength)
	copy(buf, fr.header[:])
	if h.PayloadLength > 0 {
		if _, err := io.ReadFull(fr.r, buf[HeaderSize:]); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// FrameWriter writes frames to an io.Writer.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter creates a new FrameWriter.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// Write writes a frame.
func (fw *FrameWriter) Write(f *Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	_, err = fw.w.Write(data)
	return err
}
