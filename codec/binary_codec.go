package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hubrpc/message"
)

// BinaryCodec is a hand-laid length-prefixed encoding for frame bodies.
// It only understands *message.Request, *message.Response and
// *message.Envelope; payload values must go through JSON or Gob.
//
//	string   = uint16 len + bytes
//	blob     = uint32 len + bytes
//	Envelope = string(TypeID) blob(Payload)
//	Request  = string(ID) string(ClientID) string(Interface) string(Method)
//	           uint8(Status) uint16(argc) Envelope*argc
//	Response = string(ID) string(ClientID) string(Interface) string(Method)
//	           uint8(Status) uint8(hasResult) [Envelope] string(Code) blob(Error)
type BinaryCodec struct{}

var errBinaryType = errors.New("BinaryCodec: v must be *Request, *Response or *Envelope")

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	w := &binaryWriter{}
	switch msg := v.(type) {
	case *message.Envelope:
		w.envelope(msg)
	case *message.Request:
		w.header(msg.ID, msg.ClientID, msg.Interface, msg.Method, msg.Status)
		if len(msg.Args) > 0xffff {
			return nil, fmt.Errorf("BinaryCodec: too many arguments: %d", len(msg.Args))
		}
		w.uint16(uint16(len(msg.Args)))
		for i := range msg.Args {
			w.envelope(&msg.Args[i])
		}
	case *message.Response:
		w.header(msg.ID, msg.ClientID, msg.Interface, msg.Method, msg.Status)
		if msg.Result != nil {
			w.uint8(1)
			w.envelope(msg.Result)
		} else {
			w.uint8(0)
		}
		w.string(msg.Code)
		w.blob([]byte(msg.Error))
	default:
		return nil, errBinaryType
	}
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	r := &binaryReader{data: data}
	switch msg := v.(type) {
	case *message.Envelope:
		*msg = r.envelope()
	case *message.Request:
		msg.ID, msg.ClientID, msg.Interface, msg.Method, msg.Status = r.header()
		argc := int(r.uint16())
		msg.Args = nil
		for i := 0; i < argc && r.err == nil; i++ {
			msg.Args = append(msg.Args, r.envelope())
		}
	case *message.Response:
		msg.ID, msg.ClientID, msg.Interface, msg.Method, msg.Status = r.header()
		msg.Result = nil
		if r.uint8() == 1 {
			env := r.envelope()
			msg.Result = &env
		}
		msg.Code = r.string()
		msg.Error = string(r.blob())
	default:
		return errBinaryType
	}
	return r.err
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

type binaryWriter struct {
	buf []byte
	err error
}

func (w *binaryWriter) uint8(v uint8) { w.buf = append(w.buf, v) }

func (w *binaryWriter) uint16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *binaryWriter) string(s string) {
	if len(s) > 0xffff {
		w.err = fmt.Errorf("BinaryCodec: string too long: %d bytes", len(s))
		return
	}
	w.uint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *binaryWriter) blob(b []byte) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *binaryWriter) envelope(e *message.Envelope) {
	w.string(e.TypeID)
	w.blob(e.Payload)
}

func (w *binaryWriter) header(id, clientID, iface, method string, status message.Status) {
	w.string(id)
	w.string(clientID)
	w.string(iface)
	w.string(method)
	w.uint8(uint8(status))
}

// binaryReader keeps the first error and returns zero values afterwards,
// so decoders can read straight through and check err once.
type binaryReader struct {
	data   []byte
	offset int
	err    error
}

func (r *binaryReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offset+n > len(r.data) {
		r.err = fmt.Errorf("BinaryCodec: truncated body at offset %d", r.offset)
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *binaryReader) uint8() uint8 {
	if b := r.next(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *binaryReader) uint16() uint16 {
	if b := r.next(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *binaryReader) string() string {
	n := int(r.uint16())
	return string(r.next(n))
}

func (r *binaryReader) blob() []byte {
	b := r.next(4)
	if b == nil {
		return nil
	}
	n := binary.BigEndian.Uint32(b)
	src := r.next(int(n))
	if src == nil {
		return nil
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

func (r *binaryReader) envelope() message.Envelope {
	return message.Envelope{TypeID: r.string(), Payload: r.blob()}
}

func (r *binaryReader) header() (id, clientID, iface, method string, status message.Status) {
	id = r.string()
	clientID = r.string()
	iface = r.string()
	method = r.string()
	status = message.Status(r.uint8())
	return
}
