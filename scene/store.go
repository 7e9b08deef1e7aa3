package scene

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrWindowNotFound is returned when a mutation names an unknown window.
	ErrWindowNotFound = errors.New("scene: window not found")
	// ErrNilContent is returned when a window is added without a content.
	ErrNilContent = errors.New("scene: window content is required")
	// ErrStaleVersion is returned by Replica for versions not newer than the current one.
	ErrStaleVersion = errors.New("scene: stale version")
)

// Store is the controller-side, mutable owner of the scene.
//
// Every visible change goes through Update, which bumps Version exactly once and
// returns the new immutable snapshot for broadcasting.
type Store struct {
	mu    sync.Mutex
	scene Scene
}

// NewStore creates a store holding an empty scene at version 0.
func NewStore() *Store {
	return &Store{scene: Scene{Screen: ScreenSettings{State: ScreenOn}}}
}

// Snapshot returns a copy of the current scene.
func (s *Store) Snapshot() Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene.Clone()
}

// Update applies fn to a working copy of the scene. If fn returns nil the copy
// becomes the new scene with Version incremented; otherwise the scene is left
// untouched and the error returned.
func (s *Store) Update(fn func(*Scene) error) (Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.scene.Clone()
	if err := fn(&next); err != nil {
		return s.scene.Clone(), err
	}
	next.Version = s.scene.Version + 1
	s.scene = next

	slog.Debug("scene: version updated", "version", next.Version, "windows", next.Group.Len())
	return next.Clone(), nil
}

// AddWindow appends a window on top of the group. A zero window ID or content
// ID is assigned a fresh UUID.
func (sc *Scene) AddWindow(w Window) (uuid.UUID, error) {
	if w.Content.Type == ContentInvalid {
		return uuid.Nil, ErrNilContent
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Content.ID == uuid.Nil {
		w.Content.ID = uuid.New()
	}
	sc.Group.Windows = append(sc.Group.Windows, w)
	return w.ID, nil
}

// RemoveWindow removes a window explicitly.
func (sc *Scene) RemoveWindow(id uuid.UUID) error {
	i := sc.Group.Index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrWindowNotFound, id)
	}
	sc.Group.Windows = append(sc.Group.Windows[:i:i], sc.Group.Windows[i+1:]...)
	return nil
}

// MoveWindow changes a window's rectangle.
func (sc *Scene) MoveWindow(id uuid.UUID, r Rect) error {
	i := sc.Group.Index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrWindowNotFound, id)
	}
	sc.Group.Windows[i].Rect = r
	return nil
}

// RaiseWindow moves a window to the top of the z-order.
func (sc *Scene) RaiseWindow(id uuid.UUID) error {
	i := sc.Group.Index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrWindowNotFound, id)
	}
	w := sc.Group.Windows[i]
	rest := append(sc.Group.Windows[:i:i], sc.Group.Windows[i+1:]...)
	sc.Group.Windows = append(rest, w)
	return nil
}

// SetContent replaces a window's content. The new content gets a fresh ID so
// the old content's synchronizer is torn down on every node.
func (sc *Scene) SetContent(id uuid.UUID, c Content) error {
	i := sc.Group.Index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrWindowNotFound, id)
	}
	if c.Type == ContentInvalid {
		return ErrNilContent
	}
	if c.ID == uuid.Nil || c.ID == sc.Group.Windows[i].Content.ID {
		c.ID = uuid.New()
	}
	sc.Group.Windows[i].Content = c
	return nil
}

// Replica is the renderer-side read-only view of the scene.
//
// Snapshots are swapped atomically; readers never lock. Versions may be skipped
// (coalesced) but never go backwards.
type Replica struct {
	current atomic.Pointer[Scene]
}

// NewReplica creates a replica holding an empty scene at version 0.
func NewReplica() *Replica {
	r := &Replica{}
	r.current.Store(&Scene{})
	return r
}

// Apply installs s if it is newer than the current snapshot.
func (r *Replica) Apply(s Scene) error {
	for {
		cur := r.current.Load()
		if s.Version <= cur.Version && cur.Version != 0 {
			return fmt.Errorf("%w: have %d, got %d", ErrStaleVersion, cur.Version, s.Version)
		}
		next := s.Clone()
		if r.current.CompareAndSwap(cur, &next) {
			return nil
		}
	}
}

// Current returns the current snapshot. Callers must not mutate it.
func (r *Replica) Current() *Scene {
	return r.current.Load()
}

// Version returns the current version.
func (r *Replica) Version() uint64 {
	return r.current.Load().Version
}
