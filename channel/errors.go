package channel

import "errors"

var (
	// ErrOverflow is returned by SubmitTransport when the transport queue is
	// already at capacity. The transport is logically closed: the caller must
	// complete the HTTP response immediately with an empty payload.
	ErrOverflow = errors.New("channel: transport queue overflow")

	// ErrDisconnected is returned by operations invoked on a channel after its
	// terminal disconnect.
	ErrDisconnected = errors.New("channel: disconnected")

	// ErrAlreadyOpen is returned by Open on a channel that was already opened.
	ErrAlreadyOpen = errors.New("channel: already opened")

	// ErrMethodNotFound wraps the name of a client-called method that has no
	// registered handler.
	ErrMethodNotFound = errors.New("channel: method not found")

	// ErrConnectionTimeout is the disconnect reason used when a channel has had
	// no transports for the full disconnect delay.
	ErrConnectionTimeout = errors.New("channel: no transports created by client")

	// ErrRegistryClosed is the disconnect reason used when the registry that
	// owns a channel is shut down.
	ErrRegistryClosed = errors.New("channel: registry closed")
)
