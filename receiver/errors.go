package receiver

import (
	"errors"
)

var (
	// ErrResourceExhausted is returned by [Subsystem.Start] when a receive
	// context cannot be created, e.g. because the registry is full.
	ErrResourceExhausted = errors.New("receiver: resource exhausted")

	// ErrCanceled is delivered, wrapping the cause, when a receive ended
	// because it was canceled. No further receive is submitted.
	ErrCanceled = errors.New("receiver: receive canceled")

	// ErrClosed is delivered, wrapping the cause, when a receive ended
	// because the socket was closed. No further receive is submitted.
	ErrClosed = errors.New("receiver: socket closed")

	// ErrShutdown is returned by [Subsystem.Start] after [Subsystem.Close].
	ErrShutdown = errors.New("receiver: subsystem closed")
)

// TransportError is delivered when a receive failed for any other reason.
// The subscription continues.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "receiver: transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }
