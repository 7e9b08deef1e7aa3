package barrier

import "errors"

var (
	// ErrTimeout is returned when quorum was not reached within the bound.
	// Recoverable: the caller proceeds unsynchronized.
	ErrTimeout = errors.New("barrier: timeout waiting for quorum")

	// ErrProtocolViolation is returned when a participant arrives twice in the
	// same generation.
	ErrProtocolViolation = errors.New("barrier: protocol violation")

	// ErrClosed is returned to waiters when the barrier is closed.
	ErrClosed = errors.New("barrier: closed")

	// ErrUnknownGroup is returned by Shared for an unregistered group name.
	ErrUnknownGroup = errors.New("barrier: unknown group")
)
