package eventing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loopwire/comet/logger"
)

type redisMsgPayload struct {
	InternalID      string  `msgpack:"id"`
	InternalData    []byte  `msgpack:"data"`
	InternalHeaders Headers `msgpack:"headers"`
}

func (m *redisMsgPayload) Data() []byte {
	return m.InternalData
}

func (m *redisMsgPayload) Headers() Headers {
	return m.InternalHeaders
}

type redisSubscriber struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func (s *redisSubscriber) Close() error {
	s.cancel()
	return s.pubsub.Close()
}

type redisEventingClient struct {
	rdb    *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
	logger logger.Logger
}

var _ Client = (*redisEventingClient)(nil)

// NewRedisClient returns an event client backed by redis pub/sub.
func NewRedisClient(ctx context.Context, logger logger.Logger, rdb *redis.Client) (Client, error) {
	ctx, cancel := context.WithCancel(ctx)
	return &redisEventingClient{
		rdb:    rdb,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(map[string]interface{}{"component": "eventing"}),
	}, nil
}

func (c *redisEventingClient) Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error {
	spanCtx, span := tracer.Start(ctx, "Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	options := &publishOptions{}
	for _, opt := range opts {
		opt(options)
	}
	msg := redisMsgPayload{
		InternalID:      uuid.NewString(),
		InternalData:    data,
		InternalHeaders: make(Headers),
	}
	for _, header := range options.Headers {
		if len(header) == 2 {
			msg.InternalHeaders[header[0]] = header[1]
		}
	}

	payload, err := msgpack.Marshal(msg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := c.rdb.Publish(spanCtx, subject, payload).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (c *redisEventingClient) Subscribe(ctx context.Context, subject string, cb MessageCallback) (Subscriber, error) {
	pubsub := c.rdb.Subscribe(ctx, subject)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	subCtx, cancel := context.WithCancel(c.ctx)
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg redisMsgPayload
				if err := msgpack.Unmarshal([]byte(m.Payload), &msg); err != nil {
					c.logger.Error("failed to unmarshal message on %s: %s", subject, err)
					continue
				}
				cb(subCtx, &msg)
			}
		}
	}()
	return &redisSubscriber{pubsub: pubsub, cancel: cancel}, nil
}

func (c *redisEventingClient) Close() error {
	c.cancel()
	return nil
}
