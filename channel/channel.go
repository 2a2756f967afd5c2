// Package channel implements the live channel manager: a per-session state
// machine that turns sequential short-lived HTTP long-poll connections into a
// persistent, bidirectional RPC channel.
//
// A note on timeout/disconnect logic: whenever a channel goes from some
// transports to no transports, a timer starts; whenever it goes from no
// transports to some transports, the timer is stopped; if the timer ever
// expires the connection is considered lost. Every time a transport is added a
// timer is started; when the transport is used up, the timer is stopped; if
// the timer ever expires, the transport is closed empty and the client
// reconnects. If any transport is ever disconnected mid-flight, the connection
// is considered lost. This lets the server notice clients who actively leave
// (closed window, browser navigates away) and network congestion/errors
// (unplugged ethernet cable, etc).
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/loopwire/comet/logger"
)

// Channel is one logical, long-lived duplex session with a remote client,
// addressed by an unguessable token. All mutable state is serialized behind a
// single mutex; channels are fully independent of each other.
type Channel struct {
	token string
	log   logger.Logger
	cfg   config

	mu           sync.Mutex
	opened       bool
	disconnected bool
	reason       error

	queue      []*Transport
	waiters    []chan *Transport
	active     int
	idleTimers map[*Transport]TimerHandle

	noTransportsTimer TimerHandle

	// timerGen invalidates a no-transports timer callback that was already in
	// flight when the timer it belongs to was canceled or replaced
	timerGen int

	callCounter int
	pending     map[string]*PendingCall

	disconnectWaiters []chan error

	// closed when the channel disconnects; unblocks suspended takers
	closedCh chan struct{}

	// set by the registry so teardown removes the token mapping
	onDisconnect func(reason error)
}

func newChannel(token string, log logger.Logger, cfg config) *Channel {
	// each channel gets its own handler map so Register stays channel-local
	handlers := make(map[string]Handler, len(cfg.handlers))
	for name, h := range cfg.handlers {
		handlers[name] = h
	}
	cfg.handlers = handlers
	return &Channel{
		token: token,
		log:   log.With(map[string]interface{}{"channel": token}),
		cfg:   cfg,
	}
}

// Token returns the opaque identifier addressing this channel.
func (c *Channel) Token() string {
	return c.token
}

// Open performs the channel's one-time initialization and arms the
// no-transports timer, since no transport exists yet. Calling it twice is a
// programming error and returns ErrAlreadyOpen.
func (c *Channel) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return ErrAlreadyOpen
	}
	c.opened = true
	c.queue = nil
	c.pending = make(map[string]*PendingCall)
	c.idleTimers = make(map[*Transport]TimerHandle)
	c.closedCh = make(chan struct{})
	c.active = 0
	c.armNoTransportsLocked()
	return nil
}

// Register adds a handler for a client-callable method name.
func (c *Channel) Register(method string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.handlers[method] = h
}

// SubmitTransport offers an inbound long-poll request to the channel. If the
// queue is at capacity it fails with ErrOverflow and the transport is treated
// as already logically closed: the caller completes the HTTP response with an
// empty payload and does not raise further.
func (c *Channel) SubmitTransport(t *Transport) error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return ErrDisconnected
	}
	if len(c.waiters) > 0 {
		// a taker is already suspended: hand the transport straight through.
		// The channel saw activity, so the no-transports window restarts.
		// Each waiter channel is buffered and popped exactly once, so the send
		// cannot block; it must happen under the lock so a taker canceled at
		// the same moment sees the hand-off when it drains its channel.
		w := c.waiters[0]
		c.waiters = c.waiters[1:]
		c.restartNoTransportsLocked()
		w <- t
		c.mu.Unlock()
		return nil
	}
	if len(c.queue) >= c.cfg.transportLimit {
		c.mu.Unlock()
		return ErrOverflow
	}
	if c.active == 0 {
		c.cancelNoTransportsLocked()
	}
	c.active++
	c.queue = append(c.queue, t)
	c.idleTimers[t] = c.cfg.scheduler.ScheduleAfter(c.cfg.idleTimeout, func() {
		c.idleTimeout(t)
	})
	c.mu.Unlock()
	return nil
}

// TakeTransport suspends until a waiting transport is available, dequeues it
// and cancels its idle timer. It is used whenever the channel has content to
// deliver: an outgoing call or a response to an incoming one.
func (c *Channel) TakeTransport(ctx context.Context) (*Transport, error) {
	c.mu.Lock()
	if c.disconnected {
		reason := c.reason
		c.mu.Unlock()
		return nil, reason
	}
	if len(c.queue) > 0 {
		t := c.dequeueLocked()
		c.mu.Unlock()
		return t, nil
	}
	w := make(chan *Transport, 1)
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	select {
	case t := <-w:
		return t, nil
	case <-c.closedCh:
		c.mu.Lock()
		reason := c.reason
		c.removeWaiterLocked(w)
		c.mu.Unlock()
		// a submit may have raced the disconnect and handed us a transport
		select {
		case t := <-w:
			t.Complete(Frame{Kind: FrameEmpty})
		default:
		}
		return nil, reason
	case <-ctx.Done():
		c.mu.Lock()
		c.removeWaiterLocked(w)
		c.mu.Unlock()
		select {
		case t := <-w:
			// handed off just before cancellation: use it anyway rather than
			// leaving the HTTP request hanging
			return t, nil
		default:
		}
		return nil, ctx.Err()
	}
}

// dequeueLocked pops the oldest waiting transport and does the accounting
// shared by TakeTransport and the idle timeout: idle timer canceled, active
// count decremented, no-transports timer rearmed on the 1 -> 0 transition.
func (c *Channel) dequeueLocked() *Transport {
	t := c.queue[0]
	c.queue = c.queue[1:]
	if h, ok := c.idleTimers[t]; ok {
		h.Cancel()
		delete(c.idleTimers, t)
	}
	c.active--
	if c.active == 0 {
		c.armNoTransportsLocked()
	}
	return t
}

func (c *Channel) removeWaiterLocked(w chan *Transport) {
	for i, cand := range c.waiters {
		if cand == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// CallRemote issues a call to the client. It consumes a waiting transport,
// writes a call frame down it and registers a pending call that the client's
// eventual respond action resolves. Call ids are strictly increasing and never
// reused for the channel's lifetime.
func (c *Channel) CallRemote(ctx context.Context, method string, args ...any) (*PendingCall, error) {
	t, err := c.TakeTransport(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.disconnected {
		reason := c.reason
		c.mu.Unlock()
		t.Complete(Frame{Kind: FrameEmpty})
		return nil, reason
	}
	id := fmt.Sprintf("s2c%d", c.callCounter)
	c.callCounter++
	pc := newPendingCall(id)
	c.pending[id] = pc
	c.mu.Unlock()

	t.Complete(Frame{Kind: FrameCall, CallID: id, Method: method, Args: args})
	c.log.Debug("issued remote call %s %s", id, method)
	return pc, nil
}

// HandleCall services a client-issued call. The handler runs asynchronously.
// When requestID is non-empty the result (or the error, as a structured error
// object) is delivered down a transport as a response frame; otherwise the
// call is fire-and-forget and errors are only logged.
func (c *Channel) HandleCall(ctx context.Context, method string, requestID string, args []any, kw map[string]any) {
	c.mu.Lock()
	h, ok := c.cfg.handlers[method]
	c.mu.Unlock()
	if !ok {
		err := fmt.Errorf("%w: %s", ErrMethodNotFound, method)
		if requestID == "" {
			c.log.Warn("call to unknown method %q", method)
			return
		}
		go c.deliverResult(requestID, nil, err)
		return
	}
	go func() {
		result, err := invokeHandler(ctx, h, args, kw)
		if requestID == "" {
			if err != nil {
				c.log.Error("unhandled error in event handler %q: %s", method, err)
			}
			return
		}
		c.deliverResult(requestID, result, err)
	}()
}

// invokeHandler runs h and converts a panic into an error so a misbehaving
// handler cannot take down the dispatcher.
func invokeHandler(ctx context.Context, h Handler, args []any, kw map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, args, kw)
}

// deliverResult sends a response frame for a correlated client call down the
// next available transport. Errors become structured error objects.
func (c *Channel) deliverResult(requestID string, result any, callErr error) {
	value := result
	if callErr != nil {
		value = map[string]any{"error": callErr.Error()}
	}
	t, err := c.TakeTransport(context.Background())
	if err != nil {
		c.log.Debug("dropping response for %s: %s", requestID, err)
		return
	}
	t.Complete(Frame{
		Kind:        FrameResponse,
		ResponseTo:  requestID,
		ContentType: c.cfg.contentType,
		Value:       value,
	})
}

// HandleRespond resolves the pending call identified by responseID with the
// client-supplied positional and keyword payloads. An unknown or stale id is
// logged and ignored; responses may arrive in any order.
func (c *Channel) HandleRespond(responseID string, args []any, kw map[string]any) {
	c.mu.Lock()
	pc, ok := c.pending[responseID]
	if ok {
		delete(c.pending, responseID)
	}
	c.mu.Unlock()
	if !ok {
		c.log.Warn("unknown response id %q", responseID)
		return
	}
	pc.resolve(CallResult{Args: args, Kw: kw})
}

// idleTimeout fires when a waiting transport has sat in the queue with nothing
// to deliver for the idle duration. Only that transport is closed; the client
// is expected to open a replacement.
func (c *Channel) idleTimeout(t *Transport) {
	c.mu.Lock()
	if _, ok := c.idleTimers[t]; !ok {
		// consumed or failed concurrently with the timer firing
		c.mu.Unlock()
		return
	}
	delete(c.idleTimers, t)
	for i, cand := range c.queue {
		if cand == t {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	c.active--
	if c.active == 0 && !c.disconnected {
		c.armNoTransportsLocked()
	}
	c.mu.Unlock()
	c.log.Debug("closing idle transport")
	t.Complete(Frame{Kind: FrameEmpty})
}

// TransportFailed is invoked when a transport's underlying HTTP connection
// fails before its completion slot is fulfilled. A broken transport always
// tears the channel down.
func (c *Channel) TransportFailed(t *Transport, reason error) {
	c.mu.Lock()
	if h, ok := c.idleTimers[t]; ok {
		// still waiting in the queue: undo its accounting before teardown
		h.Cancel()
		delete(c.idleTimers, t)
		for i, cand := range c.queue {
			if cand == t {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				break
			}
		}
		c.active--
	}
	c.mu.Unlock()
	c.Disconnect(reason)
}

// Disconnect performs the terminal, idempotent channel teardown: cancels all
// timers, fails every pending call and disconnect waiter with reason, flushes
// queued transports with empty payloads and removes the channel from its
// registry.
func (c *Channel) Disconnect(reason error) {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	c.reason = reason
	c.cancelNoTransportsLocked()
	for t, h := range c.idleTimers {
		h.Cancel()
		delete(c.idleTimers, t)
	}
	queued := c.queue
	c.queue = nil
	c.active = 0
	calls := c.pending
	c.pending = make(map[string]*PendingCall)
	waiters := c.disconnectWaiters
	c.disconnectWaiters = nil
	onDisconnect := c.onDisconnect
	if c.closedCh != nil {
		close(c.closedCh)
	}
	c.mu.Unlock()

	for _, t := range queued {
		t.Complete(Frame{Kind: FrameEmpty})
	}
	for _, pc := range calls {
		pc.fail(reason)
	}
	for _, w := range waiters {
		w <- reason
	}
	if onDisconnect != nil {
		onDisconnect(reason)
	}
	c.log.Info("disconnected: %s", reason)
}

// NotifyOnDisconnect returns a channel that yields the disconnect reason
// exactly once. If the channel has already disconnected it yields the stored
// reason immediately.
func (c *Channel) NotifyOnDisconnect() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := make(chan error, 1)
	if c.disconnected {
		w <- c.reason
		return w
	}
	c.disconnectWaiters = append(c.disconnectWaiters, w)
	return w
}

// Disconnected reports whether the terminal disconnect has occurred.
func (c *Channel) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// ActiveTransports returns the number of currently waiting transports.
func (c *Channel) ActiveTransports() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// PendingCalls returns the number of outstanding server-issued calls.
func (c *Channel) PendingCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Channel) armNoTransportsLocked() {
	if c.noTransportsTimer != nil || c.disconnected {
		return
	}
	c.timerGen++
	gen := c.timerGen
	c.noTransportsTimer = c.cfg.scheduler.ScheduleAfter(c.cfg.disconnectTimeout, func() {
		c.noTransportsTimeout(gen)
	})
}

func (c *Channel) cancelNoTransportsLocked() {
	if c.noTransportsTimer != nil {
		c.noTransportsTimer.Cancel()
		c.noTransportsTimer = nil
	}
}

func (c *Channel) restartNoTransportsLocked() {
	c.cancelNoTransportsLocked()
	c.armNoTransportsLocked()
}

// noTransportsTimeout fires when the active count has been zero continuously
// for the disconnect duration.
func (c *Channel) noTransportsTimeout(gen int) {
	c.mu.Lock()
	if c.disconnected || gen != c.timerGen || c.noTransportsTimer == nil {
		// canceled or replaced while this callback was in flight
		c.mu.Unlock()
		return
	}
	c.noTransportsTimer = nil
	c.mu.Unlock()
	c.Disconnect(ErrConnectionTimeout)
}
