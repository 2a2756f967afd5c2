package channel

// FrameKind discriminates the payload delivered down a transport.
type FrameKind int

const (
	// FrameEmpty closes a transport without delivering content. Sent on idle
	// timeout, on queue overflow and when a disconnect flushes the queue.
	FrameEmpty FrameKind = iota
	// FrameCall carries a server-issued call to the client.
	FrameCall
	// FrameResponse carries the result of a client-issued call back down.
	FrameResponse
)

// Frame is the single outbound payload a transport delivers before its HTTP
// response completes.
type Frame struct {
	Kind FrameKind

	// call frames
	CallID string
	Method string
	Args   []any

	// response frames
	ResponseTo  string
	ContentType string
	Value       any
}

// Wire returns the encodable form of the frame: [callId, method, args] for a
// call, [null, correlationId, contentType, value] for a response and [] for an
// empty close.
func (f Frame) Wire() []any {
	switch f.Kind {
	case FrameCall:
		args := f.Args
		if args == nil {
			args = []any{}
		}
		return []any{f.CallID, f.Method, args}
	case FrameResponse:
		return []any{nil, f.ResponseTo, f.ContentType, f.Value}
	default:
		return []any{}
	}
}
