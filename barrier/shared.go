package barrier

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Well-known group names.
const (
	// GroupSwap synchronizes buffer swaps.
	GroupSwap = "swap"
	// GroupControl synchronizes control transitions such as pause/resume.
	GroupControl = "control"
)

// Shared is a façade over independent named barriers.
//
// Each group has its own quorum and generation. Arriving on one group never
// affects another, so a participant blocked on "swap" can still be released on
// "control" from a different goroutine.
type Shared struct {
	mu     sync.RWMutex
	groups map[string]*Barrier
}

// NewShared creates a Shared with the given groups, all using quorum.
func NewShared(quorum int, groups ...string) *Shared {
	s := &Shared{groups: make(map[string]*Barrier, len(groups))}
	for _, name := range groups {
		s.groups[name] = New(quorum)
	}
	return s
}

// Add registers a group. If the group exists it is returned unchanged.
func (s *Shared) Add(name string, quorum int) *Barrier {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.groups[name]; ok {
		return b
	}
	b := New(quorum)
	s.groups[name] = b
	return b
}

// Group returns the barrier registered under name.
func (s *Shared) Group(name string) (*Barrier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, name)
	}
	return b, nil
}

// Groups returns the registered group names, sorted.
func (s *Shared) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Arrive arrives at the named group. See Barrier.Arrive.
func (s *Shared) Arrive(ctx context.Context, group, participant string) (uint64, error) {
	b, err := s.Group(group)
	if err != nil {
		return 0, err
	}
	return b.Arrive(ctx, participant)
}

// ArriveTimeout arrives at the named group bounded by d. See Barrier.ArriveTimeout.
func (s *Shared) ArriveTimeout(ctx context.Context, group, participant string, d time.Duration) (uint64, error) {
	b, err := s.Group(group)
	if err != nil {
		return 0, err
	}
	return b.ArriveTimeout(ctx, participant, d)
}

// SetQuorum applies quorum to every group.
func (s *Shared) SetQuorum(quorum int) {
	for _, b := range s.snapshot() {
		b.SetQuorum(quorum)
	}
}

// Withdraw removes participant's pending arrival from every group.
func (s *Shared) Withdraw(participant string) {
	for _, b := range s.snapshot() {
		b.Withdraw(participant)
	}
}

// Close closes every group.
func (s *Shared) Close() {
	for _, b := range s.snapshot() {
		b.Close()
	}
}

func (s *Shared) snapshot() []*Barrier {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Barrier, 0, len(s.groups))
	for _, b := range s.groups {
		out = append(out, b)
	}
	return out
}
