package eventing

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/loopwire/comet/logger"
)

type memoryMsg struct {
	data    []byte
	headers Headers
}

func (m *memoryMsg) Data() []byte {
	return m.data
}

func (m *memoryMsg) Headers() Headers {
	return m.headers
}

type memorySubscriber struct {
	client  *memoryEventingClient
	subject string
	id      string
}

func (s *memorySubscriber) Close() error {
	s.client.unsubscribe(s.subject, s.id)
	return nil
}

type memoryEventingClient struct {
	mu          sync.Mutex
	subscribers map[string]map[string]MessageCallback
	logger      logger.Logger
	closed      bool
}

var _ Client = (*memoryEventingClient)(nil)

// NewMemoryClient returns an in-process event client, for embedding and tests.
func NewMemoryClient(logger logger.Logger) Client {
	return &memoryEventingClient{
		subscribers: make(map[string]map[string]MessageCallback),
		logger:      logger.With(map[string]interface{}{"component": "eventing"}),
	}
}

func (c *memoryEventingClient) Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error {
	options := &publishOptions{}
	for _, opt := range opts {
		opt(options)
	}
	headers := make(Headers)
	for _, header := range options.Headers {
		if len(header) == 2 {
			headers[header[0]] = header[1]
		}
	}
	msg := &memoryMsg{data: data, headers: headers}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	cbs := make([]MessageCallback, 0, len(c.subscribers[subject]))
	for _, cb := range c.subscribers[subject] {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(ctx, msg)
	}
	return nil
}

func (c *memoryEventingClient) Subscribe(ctx context.Context, subject string, cb MessageCallback) (Subscriber, error) {
	id := uuid.NewString()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if c.subscribers[subject] == nil {
		c.subscribers[subject] = make(map[string]MessageCallback)
	}
	c.subscribers[subject][id] = cb
	c.mu.Unlock()
	return &memorySubscriber{client: c, subject: subject, id: id}, nil
}

func (c *memoryEventingClient) unsubscribe(subject string, id string) {
	c.mu.Lock()
	delete(c.subscribers[subject], id)
	c.mu.Unlock()
}

func (c *memoryEventingClient) Close() error {
	c.mu.Lock()
	c.subscribers = make(map[string]map[string]MessageCallback)
	c.closed = true
	c.mu.Unlock()
	return nil
}
