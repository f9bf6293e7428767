package codec

import (
	"bytes"
	"encoding/gob"
)

// GobCodec serializes values with encoding/gob. Each Encode produces a
// self-describing stream, so payloads can be decoded independently.
type GobCodec struct{}

func (c *GobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *GobCodec) Decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (c *GobCodec) Type() CodecType {
	return CodecTypeGob
}
