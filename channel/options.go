package channel

import (
	"context"
	"time"

	"github.com/loopwire/comet/eventing"
)

const (
	// DefaultTransportLimit bounds the number of concurrently waiting
	// transports per channel.
	DefaultTransportLimit = 2
	// DefaultDisconnectTimeout is how long a channel may sit with zero active
	// transports before it is considered lost.
	DefaultDisconnectTimeout = 30 * time.Second
	// DefaultIdleTimeout is how long a waiting transport may sit in the queue
	// with nothing to deliver before it is closed with an empty payload.
	DefaultIdleTimeout = 300 * time.Second
	// DefaultContentType labels response frame payloads on the wire.
	DefaultContentType = "text/json"
)

// Handler services a client-issued call. Positional and keyword argument
// payloads arrive already decoded; the returned value is encoded into the
// response frame when the call is correlated.
type Handler func(ctx context.Context, args []any, kw map[string]any) (any, error)

type config struct {
	transportLimit    int
	idleTimeout       time.Duration
	disconnectTimeout time.Duration
	contentType       string
	scheduler         Scheduler
	handlers          map[string]Handler
	events            eventing.Client
}

func defaultConfig() config {
	return config{
		transportLimit:    DefaultTransportLimit,
		idleTimeout:       DefaultIdleTimeout,
		disconnectTimeout: DefaultDisconnectTimeout,
		contentType:       DefaultContentType,
		scheduler:         NewScheduler(),
		handlers:          map[string]Handler{},
	}
}

// Option customizes channels created by a Registry.
type Option func(*config)

// WithTransportLimit sets the waiting transport queue capacity.
func WithTransportLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.transportLimit = n
		}
	}
}

// WithIdleTimeout sets the per-transport idle delay.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithDisconnectTimeout sets the no-transports disconnect delay.
func WithDisconnectTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.disconnectTimeout = d
		}
	}
}

// WithContentType sets the content type label used in response frames.
func WithContentType(ct string) Option {
	return func(c *config) {
		if ct != "" {
			c.contentType = ct
		}
	}
}

// WithScheduler replaces the wall-clock timer service.
func WithScheduler(s Scheduler) Option {
	return func(c *config) {
		if s != nil {
			c.scheduler = s
		}
	}
}

// WithHandlers registers the handler map channels are created with. Unknown
// method names fail with ErrMethodNotFound.
func WithHandlers(handlers map[string]Handler) Option {
	return func(c *config) {
		for name, h := range handlers {
			c.handlers[name] = h
		}
	}
}

// WithEventing publishes channel lifecycle events to the given client.
func WithEventing(events eventing.Client) Option {
	return func(c *config) {
		c.events = events
	}
}
