// Package codec provides the opaque encode/decode pair used for every payload
// exchanged over a channel: call arguments, keyword arguments and results.
// The channel manager never inspects encoded bytes.
package codec

import (
	"github.com/savsgio/gotils/strconv"
)

// Codec defines a simple interface for marshaling payload values.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// MarshalString encodes v and returns the result as a string without copying.
func MarshalString(c Codec, v any) (string, error) {
	buf, err := c.Marshal(v)
	if err != nil {
		return "", err
	}
	return strconv.B2S(buf), nil
}

// UnmarshalString decodes the string form of an encoded payload without copying.
func UnmarshalString(c Codec, data string, v any) error {
	return c.Unmarshal(strconv.S2B(data), v)
}
