// Package eventing publishes channel lifecycle events (created, disconnected)
// so operators can watch live channel churn from outside the process.
package eventing

import (
	"context"
	"errors"
)

// ErrClientClosed is returned by Publish and Subscribe on a closed client.
var ErrClientClosed = errors.New("eventing: client closed")

// Subjects published by the channel registry.
const (
	SubjectChannelCreated      = "channel.created"
	SubjectChannelDisconnected = "channel.disconnected"
)

// Message represents a message received from the event system
type Message interface {
	Data() []byte
	Headers() Headers
}

// Headers represents message headers
type Headers map[string]string

func (h Headers) Get(key string) string {
	return h[key]
}

func (h Headers) Set(key string, value string) {
	h[key] = value
}

type MessageCallback func(ctx context.Context, msg Message)

type Subscriber interface {
	// Close stops the subscriber
	Close() error
}

type PublishOption func(*publishOptions)

type publishOptions struct {
	Headers [][]string
}

func WithHeader(key, value string) PublishOption {
	return func(o *publishOptions) {
		o.Headers = append(o.Headers, []string{key, value})
	}
}

// Client defines the interface for event clients
type Client interface {
	// Publish publishes a message to a subject
	Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error
	// Subscribe subscribes to a subject
	Subscribe(ctx context.Context, subject string, cb MessageCallback) (Subscriber, error)
	// Close closes the client
	Close() error
}
