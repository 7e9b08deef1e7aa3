// Package sources provides ready-made contentsync.DataSource implementations.
//
// Every source satisfies the non-blocking FetchFrame contract: producers push
// frames on their own goroutines, FetchFrame only takes what is already there.
package sources

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/wallsync/contentsync"
)

// ErrStreamClosed is returned by FetchFrame after Close.
var ErrStreamClosed = errors.New("sources: stream closed")

// Stream is a single-slot mailbox between a decoder (movie, pixel stream) and
// the content synchronizer.
//
// Publish never blocks. What happens to an unconsumed frame depends on the
// policy:
//   - DropOldest: the new frame overwrites it (latest wins)
//   - DropNewest: the unconsumed frame is kept and the new one discarded
//
// Frames are never queued: at most one frame is handed out per FetchFrame.
type Stream struct {
	policy contentsync.Policy

	mu      sync.Mutex
	pending *contentsync.Texture // nil = consumed
	last    contentsync.Texture
	fault   error // reported once by the next FetchFrame
	closed  bool
	seq     uint64

	published uint64 // atomic
	dropped   uint64 // atomic
	consumed  uint64 // atomic
}

// StreamStats is a snapshot of a stream's counters.
type StreamStats struct {
	Published uint64
	Dropped   uint64
	Consumed  uint64
}

// NewStream creates an empty stream with the given drop policy.
func NewStream(policy contentsync.Policy) *Stream {
	return &Stream{policy: policy}
}

// Publish offers a frame. Returns false if the frame was dropped.
//
// The stream assigns Seq and, if unset, Timestamp. tex.Data MUST NOT be
// modified after Publish.
func (s *Stream) Publish(tex contentsync.Texture) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	atomic.AddUint64(&s.published, 1)

	if s.pending != nil {
		atomic.AddUint64(&s.dropped, 1)
		if s.policy == contentsync.DropNewest {
			return false
		}
	}

	s.seq++
	tex.Seq = s.seq
	if tex.Timestamp.IsZero() {
		tex.Timestamp = time.Now()
	}
	s.pending = &tex
	return true
}

// Fail reports a decode fault. The next FetchFrame returns it wrapped in
// contentsync.ErrDataSourceFault.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = err
}

// FetchFrame implements contentsync.DataSource.
func (s *Stream) FetchFrame() (contentsync.Texture, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.last, false, ErrStreamClosed
	}
	if s.fault != nil {
		err := s.fault
		s.fault = nil
		return s.last, false, fmt.Errorf("%w: %w", contentsync.ErrDataSourceFault, err)
	}
	if s.pending == nil {
		return s.last, false, nil
	}

	s.last = *s.pending
	s.pending = nil
	atomic.AddUint64(&s.consumed, 1)
	return s.last, true, nil
}

// Close stops the stream. Further Publish calls are dropped. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
}

// Stats returns a snapshot of the stream's counters.
func (s *Stream) Stats() StreamStats {
	return StreamStats{
		Published: atomic.LoadUint64(&s.published),
		Dropped:   atomic.LoadUint64(&s.dropped),
		Consumed:  atomic.LoadUint64(&s.consumed),
	}
}
