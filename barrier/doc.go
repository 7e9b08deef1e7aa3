// Package barrier implements the rendezvous primitives that hold callers until a
// quorum of distinct participants has arrived.
//
// # Philosophy
//
// "Release everyone at once, or nobody." A generation is released by closing a
// single channel, so every waiter of that generation observes the release at the
// same instant. There are no partial releases.
//
// # Barrier
//
// A Barrier has a quorum size and a generation counter:
//
//	b := barrier.New(3)
//	gen, err := b.Arrive(ctx, "rank-1") // blocks until 3 distinct participants arrived
//
// ArriveTimeout bounds the wait. On ErrTimeout the caller's arrival is withdrawn
// and the caller is expected to continue unsynchronized (degraded mode) instead of
// deadlocking the wall.
//
// Arriving twice in the same generation is a programming error and returns
// ErrProtocolViolation without counting the second arrival.
//
// # Shared
//
// Shared groups several independent barriers under names ("swap", "control"), so
// a node can be mid-wait on one group while taking part in another. Groups never
// wait on each other.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package barrier
