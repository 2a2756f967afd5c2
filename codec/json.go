package codec

import (
	"encoding/json"
)

type jsonCodec struct{}

// JSON returns a JSON codec. Content-Type: text/json (what the browser-side
// library has always sent and expected for live channel payloads).
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) ContentType() string { return "text/json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
