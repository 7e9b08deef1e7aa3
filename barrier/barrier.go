package barrier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Barrier is a generation-counting rendezvous point.
//
// Each generation owns a release channel. The arrival that completes the quorum
// closes that channel and installs a fresh one for the next generation, so all
// waiters of a generation are released together.
//
// Thread-safety: all fields protected by mu.
type Barrier struct {
	mu         sync.Mutex
	quorum     int
	generation uint64
	arrived    map[string]struct{} // participants counted in the current generation
	release    chan struct{}       // closed when the current generation is released
	closed     bool
}

// New creates a barrier that releases once quorum distinct participants arrived.
// A quorum below 1 is treated as 1.
func New(quorum int) *Barrier {
	if quorum < 1 {
		quorum = 1
	}
	return &Barrier{
		quorum:  quorum,
		arrived: make(map[string]struct{}),
		release: make(chan struct{}),
	}
}

// Arrive registers participant in the current generation and blocks until the
// generation is released, ctx is done, or the barrier is closed.
//
// Returns the generation the participant took part in. When ctx expires the
// arrival is withdrawn; a deadline maps to ErrTimeout, a cancellation to
// ctx.Err().
func (b *Barrier) Arrive(ctx context.Context, participant string) (uint64, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, ErrClosed
	}

	gen := b.generation
	if _, dup := b.arrived[participant]; dup {
		b.mu.Unlock()
		return gen, fmt.Errorf("%w: %q arrived twice in generation %d", ErrProtocolViolation, participant, gen)
	}

	b.arrived[participant] = struct{}{}
	if len(b.arrived) >= b.quorum {
		b.advanceLocked()
		b.mu.Unlock()
		return gen, nil
	}
	release := b.release
	b.mu.Unlock()

	select {
	case <-release:
		if b.releasedAfter(gen) {
			return gen, nil
		}
		return gen, ErrClosed

	case <-ctx.Done():
		if !b.withdraw(participant, gen) {
			// Lost the race against the releasing arrival: we were released.
			return gen, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return gen, fmt.Errorf("%w (generation %d)", ErrTimeout, gen)
		}
		return gen, ctx.Err()
	}
}

// ArriveTimeout is Arrive bounded by d.
func (b *Barrier) ArriveTimeout(ctx context.Context, participant string, d time.Duration) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return b.Arrive(ctx, participant)
}

// SetQuorum changes the quorum. If the participants already waiting satisfy the
// new quorum, the current generation is released immediately.
func (b *Barrier) SetQuorum(quorum int) {
	if quorum < 1 {
		quorum = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.quorum = quorum
	if !b.closed && len(b.arrived) > 0 && len(b.arrived) >= b.quorum {
		b.advanceLocked()
	}
}

// Withdraw removes participant's pending arrival from the current generation,
// e.g. when the participant left the cluster. Reports whether it was waiting.
func (b *Barrier) Withdraw(participant string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.arrived[participant]; !ok {
		return false
	}
	delete(b.arrived, participant)
	return true
}

// Close releases all waiters with ErrClosed. Idempotent.
func (b *Barrier) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.release)
}

// Quorum returns the current quorum size.
func (b *Barrier) Quorum() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quorum
}

// Generation returns the current (unreleased) generation.
func (b *Barrier) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Waiting returns how many participants arrived in the current generation.
func (b *Barrier) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.arrived)
}

// advanceLocked releases the current generation. Caller holds mu.
func (b *Barrier) advanceLocked() {
	close(b.release)
	b.release = make(chan struct{})
	b.arrived = make(map[string]struct{}, b.quorum)
	b.generation++
}

// releasedAfter reports whether generation gen was released (as opposed to the
// barrier being closed under it).
func (b *Barrier) releasedAfter(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation > gen
}

// withdraw removes participant from generation gen if that generation is still
// open. Returns false if gen was already released.
func (b *Barrier) withdraw(participant string, gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.generation != gen {
		return false
	}
	delete(b.arrived, participant)
	return true
}
