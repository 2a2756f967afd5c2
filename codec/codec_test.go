package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	c := JSON()
	assert.Equal(t, "text/json", c.ContentType())

	in := []any{"s2c0", "ping", []any{float64(1), "two"}}
	buf, err := c.Marshal(in)
	require.NoError(t, err)

	var out []any
	require.NoError(t, c.Unmarshal(buf, &out))
	assert.Equal(t, in, out)
}

func TestMsgpackRoundTrip(t *testing.T) {
	c := Msgpack()
	assert.Equal(t, "application/msgpack", c.ContentType())

	in := map[string]string{"method": "echo"}
	buf, err := c.Marshal(in)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, c.Unmarshal(buf, &out))
	assert.Equal(t, in, out)
}

func TestMarshalString(t *testing.T) {
	s, err := MarshalString(JSON(), map[string]bool{"ok": true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, s)

	var v map[string]bool
	require.NoError(t, UnmarshalString(JSON(), s, &v))
	assert.True(t, v["ok"])
}
