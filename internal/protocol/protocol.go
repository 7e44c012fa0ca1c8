// Package protocol implements the wire format spoken between the capture
// extension and the host over the local socket.
//
// Every record is a fixed 16 byte header followed by the raw payload:
//
//	type   uint32  frame type tag
//	width  uint32  pixel width
//	height uint32  pixel height
//	length uint32  payload length in bytes
//	payload [length]byte
//
// All integers are big-endian. There are no delimiters and no escaping; the
// receiver demarcates records purely by the length field.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the size of the record header in bytes
// Type(4) + Width(4) + Height(4) + Length(4) = 16
const HeaderSize = 16

// MaxPayload bounds the payload a decoder will allocate for one record
const MaxPayload = 256 << 20

var (
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds maximum size")
	ErrShortHeader     = errors.New("protocol: truncated header")
)

// FrameType identifies what a record carries
type FrameType uint32

const (
	FrameTypeVideo    FrameType = 1
	FrameTypeAudioApp FrameType = 2
	FrameTypeAudioMic FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeVideo:
		return "video"
	case FrameTypeAudioApp:
		return "audio-app"
	case FrameTypeAudioMic:
		return "audio-mic"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// Header is the fixed-size prefix of every record
type Header struct {
	Type   FrameType
	Width  uint32
	Height uint32
	Length uint32
}

// Record is one decoded wire unit
type Record struct {
	Type    FrameType
	Width   uint32
	Height  uint32
	Payload []byte
}

// Header returns the header that precedes r on the wire
func (r Record) Header() Header {
	return Header{
		Type:   r.Type,
		Width:  r.Width,
		Height: r.Height,
		Length: uint32(len(r.Payload)),
	}
}

// PutHeader encodes h into the first HeaderSize bytes of buf
func PutHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Type))
	binary.BigEndian.PutUint32(buf[4:8], h.Width)
	binary.BigEndian.PutUint32(buf[8:12], h.Height)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
}

// ParseHeader decodes a header from the first HeaderSize bytes of buf
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		Type:   FrameType(binary.BigEndian.Uint32(buf[0:4])),
		Width:  binary.BigEndian.Uint32(buf[4:8]),
		Height: binary.BigEndian.Uint32(buf[8:12]),
		Length: binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}

// AppendRecord appends the encoded record to dst and returns the extended slice
func AppendRecord(dst []byte, r Record) []byte {
	var hdr [HeaderSize]byte
	PutHeader(hdr[:], r.Header())
	dst = append(dst, hdr[:]...)
	return append(dst, r.Payload...)
}

// WriteRecord writes one record to w
func WriteRecord(w io.Writer, r Record) (int, error) {
	return w.Write(AppendRecord(make([]byte, 0, HeaderSize+len(r.Payload)), r))
}

// Decoder reads consecutive records from a byte stream
type Decoder struct {
	r   io.Reader
	hdr [HeaderSize]byte
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next reads the next record. It returns io.EOF on a clean end of stream
// between records and io.ErrUnexpectedEOF when the stream ends mid-record.
func (d *Decoder) Next() (Record, error) {
	if _, err := io.ReadFull(d.r, d.hdr[:]); err != nil {
		return Record{}, err
	}

	h, err := ParseHeader(d.hdr[:])
	if err != nil {
		return Record{}, err
	}
	if h.Length > MaxPayload {
		return Record{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, h.Length)
	}

	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, err
	}

	return Record{
		Type:    h.Type,
		Width:   h.Width,
		Height:  h.Height,
		Payload: payload,
	}, nil
}
