package channel

import (
	"context"
	"time"
)

// CallResult is the positional and keyword payload a client sends back in
// response to a server-issued call. Both payloads are independent; a respond
// action may carry either or both.
type CallResult struct {
	Args []any
	Kw   map[string]any
}

type callOutcome struct {
	result CallResult
	err    error
}

// PendingCall correlates a server-issued call with its eventual client
// response. It is resolved by a matching respond action or failed by the
// channel's disconnect.
type PendingCall struct {
	id      string
	issued  time.Time
	outcome chan callOutcome
}

func newPendingCall(id string) *PendingCall {
	return &PendingCall{
		id:      id,
		issued:  time.Now(),
		outcome: make(chan callOutcome, 1),
	}
}

// ID returns the correlation id the client must echo in its Response-Id header.
func (p *PendingCall) ID() string {
	return p.id
}

// Issued returns when the call was written to a transport.
func (p *PendingCall) Issued() time.Time {
	return p.issued
}

// Wait blocks until the client responds, the channel disconnects, or ctx is
// done.
func (p *PendingCall) Wait(ctx context.Context) (CallResult, error) {
	select {
	case o := <-p.outcome:
		return o.result, o.err
	case <-ctx.Done():
		return CallResult{}, ctx.Err()
	}
}

func (p *PendingCall) resolve(r CallResult) {
	p.outcome <- callOutcome{result: r}
}

func (p *PendingCall) fail(err error) {
	p.outcome <- callOutcome{err: err}
}
