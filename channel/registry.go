package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loopwire/comet/eventing"
	"github.com/loopwire/comet/logger"
	"github.com/loopwire/comet/token"
)

// Registry owns the token -> live channel mapping. It is created with the
// server and torn down with it; channels hold only their token, never a
// reference back into the registry's map.
type Registry struct {
	log logger.Logger
	cfg config

	mu       sync.Mutex
	channels map[string]*Channel
	closed   bool
}

// NewRegistry returns an empty registry. Options become the template for every
// channel it creates.
func NewRegistry(log logger.Logger, opts ...Option) *Registry {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{
		log:      log.WithPrefix("registry"),
		cfg:      cfg,
		channels: make(map[string]*Channel),
	}
}

// Create generates a new unguessable token, registers a fresh channel under it
// and opens the channel. Possessing the token grants full control of the
// channel.
func (r *Registry) Create(ctx context.Context) (*Channel, string, error) {
	tok, err := token.New()
	if err != nil {
		return nil, "", fmt.Errorf("registry: generating channel token: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, "", ErrRegistryClosed
	}
	ch := newChannel(tok, r.log, r.cfg)
	ch.onDisconnect = func(reason error) {
		r.Remove(tok)
		r.publishDisconnected(tok, reason)
	}
	if err := ch.Open(); err != nil {
		r.mu.Unlock()
		return nil, "", err
	}
	r.channels[tok] = ch
	r.mu.Unlock()

	r.log.Info("rendered new live channel %s", tok)
	r.publishCreated(ctx, tok)
	return ch, tok, nil
}

// Resolve maps a client-presented token to its live channel. A missing token
// means a brand new client; an unknown one means a long-expired client or a
// forged token. Either way the client gets a fresh channel.
func (r *Registry) Resolve(ctx context.Context, tok string) (*Channel, error) {
	if tok != "" {
		r.mu.Lock()
		ch, ok := r.channels[tok]
		r.mu.Unlock()
		if ok {
			return ch, nil
		}
		r.log.Warn("unknown channel token %q", tok)
	}
	ch, _, err := r.Create(ctx)
	return ch, err
}

// Get returns the channel registered under tok, if any.
func (r *Registry) Get(tok string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[tok]
	return ch, ok
}

// Remove deregisters a token. Normally called exactly once, from the channel's
// disconnect; removing an unknown token is a no-op.
func (r *Registry) Remove(tok string) {
	r.mu.Lock()
	_, ok := r.channels[tok]
	delete(r.channels, tok)
	r.mu.Unlock()
	if ok {
		r.log.Info("removed live channel %s", tok)
	}
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Channels returns a snapshot of all live channels.
func (r *Registry) Channels() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// Close disconnects every live channel and refuses further creates. Safe to
// call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	chans := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		chans = append(chans, ch)
	}
	r.mu.Unlock()
	for _, ch := range chans {
		ch.Disconnect(ErrRegistryClosed)
	}
}

type lifecycleEvent struct {
	Token  string `json:"token"`
	Reason string `json:"reason,omitempty"`
}

func (r *Registry) publishCreated(ctx context.Context, tok string) {
	if r.cfg.events == nil {
		return
	}
	data, _ := json.Marshal(lifecycleEvent{Token: tok})
	if err := r.cfg.events.Publish(ctx, eventing.SubjectChannelCreated, data); err != nil {
		r.log.Error("publishing channel.created: %s", err)
	}
}

func (r *Registry) publishDisconnected(tok string, reason error) {
	if r.cfg.events == nil {
		return
	}
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	data, _ := json.Marshal(lifecycleEvent{Token: tok, Reason: msg})
	if err := r.cfg.events.Publish(context.Background(), eventing.SubjectChannelDisconnected, data); err != nil {
		r.log.Error("publishing channel.disconnected: %s", err)
	}
}
