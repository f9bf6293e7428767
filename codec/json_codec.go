package codec

import (
	"errors"

	"github.com/goccy/go-json"
)

// JSONCodec is the default codec for both frame bodies and payloads.
// Field matching on decode is case-insensitive, so payloads produced by
// peers with different naming conventions still land in the right fields.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New("JSONCodec: empty input")
	}
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
