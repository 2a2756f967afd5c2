package channel

import (
	"sync"
	"time"
)

// Transport represents exactly one open long-poll HTTP request. It holds a
// write-once completion slot; fulfilling the slot ends the HTTP response. A
// transport is owned by its channel's queue until dequeued, timed out or
// flushed by a disconnect.
type Transport struct {
	created time.Time
	done    chan Frame
	once    sync.Once
}

// NewTransport returns a transport awaiting a single response frame.
func NewTransport() *Transport {
	return &Transport{
		created: time.Now(),
		done:    make(chan Frame, 1),
	}
}

// Complete fulfills the transport's completion slot. It reports whether this
// call was the one that completed it; later calls are no-ops.
func (t *Transport) Complete(f Frame) bool {
	completed := false
	t.once.Do(func() {
		t.done <- f
		completed = true
	})
	return completed
}

// Done yields the frame that completes this transport's HTTP response.
func (t *Transport) Done() <-chan Frame {
	return t.done
}

// Age returns how long the transport has been open.
func (t *Transport) Age() time.Duration {
	return time.Since(t.created)
}
