// Package protocol implements the binary frame protocol spoken between hub
// clients and the hub.
//
// It solves TCP's sticky packet problem by using a fixed-size 14-byte header
// followed by a variable-length body. The receiver reads the header first to
// determine the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ hrp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// Request, OneWay and Response frames carry an encoded message.Request or
// message.Response. StreamOpen has no body; StreamItem carries an encoded
// message.Envelope and reuses the StreamOpen sequence number.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic number bytes: "hrp" (hub rpc protocol).
// Used to reject non-protocol connections (e.g., HTTP clients hitting the
// wrong port) before any body is read.
const (
	MagicNumber byte = 0x68 // 'h'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame body. A corrupt length field must not
	// make the reader allocate gigabytes.
	MaxBodyLen uint32 = 64 << 20
)

// MsgType distinguishes the kinds of frames.
type MsgType byte

const (
	MsgTypeRequest    MsgType = 0 // Client → Hub two-way call
	MsgTypeResponse   MsgType = 1 // Hub → Client reply to a Request
	MsgTypeHeartbeat  MsgType = 2 // KeepAlive ping (no body)
	MsgTypeOneWay     MsgType = 3 // Client → Hub call with no reply
	MsgTypeStreamOpen MsgType = 4 // Client → Hub subscribe to the broadcast stream
	MsgTypeStreamItem MsgType = 5 // Hub → Client one broadcast value
	MsgTypeStreamEnd  MsgType = 6 // Hub → Client the stream is over
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRequest:
		return "request"
	case MsgTypeResponse:
		return "response"
	case MsgTypeHeartbeat:
		return "heartbeat"
	case MsgTypeOneWay:
		return "one-way"
	case MsgTypeStreamOpen:
		return "stream-open"
	case MsgTypeStreamItem:
		return "stream-item"
	case MsgTypeStreamEnd:
		return "stream-end"
	}
	return fmt.Sprintf("msgtype(%d)", byte(t))
}

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
	CodecTypeGob    byte = 2
)

var (
	ErrInvalidMagic       = errors.New("invalid magic number")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrUnsupportedCodec   = errors.New("unsupported codec type")
	ErrUnsupportedMsgType = errors.New("unsupported message type")
	ErrBodyTooLarge       = errors.New("frame body too large")
)

// Header represents the fixed 14-byte frame header.
type Header struct {
	CodecType byte    // Serialization format of the body
	MsgType   MsgType // See the MsgType constants
	Seq       uint32  // Matches a response or stream item to its request
	BodyLen   uint32  // Body length in bytes
}

// Encode writes a complete frame (header + body) to w. BodyLen is taken from
// body, not from h.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different requests will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) > MaxBodyLen {
		return fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(body))
	}
	// Header and body go out in one Write so a frame is never split by a
	// concurrent writer that forgot the lock.
	buf := make([]byte, HeaderSize, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))
	buf = append(buf, body...)

	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, and message type.
// Uses io.ReadFull to guarantee exactly N bytes are read, preventing partial reads.
func Decode(r io.Reader) (*Header, []byte, error) {
	// Step 1: Read the fixed 14-byte header
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	// Step 2: Validate magic number: reject non-protocol connections
	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("%w: %x", ErrInvalidMagic, headerBuf[0:3])
	}

	// Step 3: Validate version
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, headerBuf[3])
	}

	// Step 4: Validate codec type
	if headerBuf[4] > CodecTypeGob {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedCodec, headerBuf[4])
	}

	// Step 5: Validate message type
	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeStreamEnd {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedMsgType, headerBuf[5])
	}

	// Step 6: Parse sequence number and body length
	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, bodyLen)
	}

	// Step 7: Read exactly bodyLen bytes
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}
