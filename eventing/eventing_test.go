package eventing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwire/comet/logger"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	c := NewMemoryClient(logger.NewTestLogger())
	defer c.Close()

	var got []string
	sub, err := c.Subscribe(context.Background(), SubjectChannelCreated, func(ctx context.Context, msg Message) {
		got = append(got, string(msg.Data()))
	})
	require.NoError(t, err)

	require.NoError(t, c.Publish(context.Background(), SubjectChannelCreated, []byte("one")))
	require.NoError(t, c.Publish(context.Background(), SubjectChannelDisconnected, []byte("other subject")))
	require.NoError(t, c.Publish(context.Background(), SubjectChannelCreated, []byte("two")))
	assert.Equal(t, []string{"one", "two"}, got)

	require.NoError(t, sub.Close())
	require.NoError(t, c.Publish(context.Background(), SubjectChannelCreated, []byte("three")))
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestMemoryPublishHeaders(t *testing.T) {
	c := NewMemoryClient(logger.NewTestLogger())
	defer c.Close()

	var headers Headers
	_, err := c.Subscribe(context.Background(), "subject", func(ctx context.Context, msg Message) {
		headers = msg.Headers()
	})
	require.NoError(t, err)

	require.NoError(t, c.Publish(context.Background(), "subject", nil, WithHeader("reason", "timeout")))
	assert.Equal(t, "timeout", headers.Get("reason"))
}

func TestMemoryClosedClientRejects(t *testing.T) {
	c := NewMemoryClient(logger.NewTestLogger())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Publish(context.Background(), SubjectChannelCreated, []byte("late")), ErrClientClosed)
	_, err := c.Subscribe(context.Background(), SubjectChannelCreated, func(ctx context.Context, msg Message) {})
	assert.ErrorIs(t, err, ErrClientClosed)
}
