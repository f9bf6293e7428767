// Package codec provides the serializers used for frame bodies and for
// Envelope payloads.
//
// Frame bodies (message.Request, message.Response, message.Envelope) can use
// any codec. Envelope payloads are arbitrary values and need a general
// serializer, so only JSON and Gob are valid payload codecs.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
	CodecTypeGob    CodecType = 2
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary, 2=Gob
}

func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}
	case CodecTypeGob:
		return &GobCodec{}
	}

	return &BinaryCodec{}
}

// ParseCodecType maps a configuration name to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "json", "":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	case "gob":
		return CodecTypeGob, nil
	}
	return 0, fmt.Errorf("codec: unknown codec %q", name)
}

// IsPayloadCodec reports whether t can serialize arbitrary values.
func IsPayloadCodec(t CodecType) bool {
	return t == CodecTypeJSON || t == CodecTypeGob
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	case CodecTypeGob:
		return "gob"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}
