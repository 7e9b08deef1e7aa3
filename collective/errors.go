package collective

import "errors"

var (
	// ErrNotController is returned when a renderer calls a controller-only
	// operation.
	ErrNotController = errors.New("collective: not the controller")

	// ErrNotRenderer is returned when the controller calls a renderer-only
	// operation.
	ErrNotRenderer = errors.New("collective: not a renderer")

	// ErrTimeout is returned when a vote or arrival was not answered in time.
	ErrTimeout = errors.New("collective: timeout")

	// ErrClosed is returned after Close or Leave.
	ErrClosed = errors.New("collective: closed")

	// ErrDisconnected is returned when a message cannot be sent because the
	// transport is down.
	ErrDisconnected = errors.New("collective: disconnected")

	// ErrStaleScene is returned by BroadcastScene for a version that is not
	// newer than the last broadcast.
	ErrStaleScene = errors.New("collective: stale scene version")

	// ErrBadMessage is returned for malformed wire messages.
	ErrBadMessage = errors.New("collective: bad message")
)
