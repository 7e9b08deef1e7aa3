package contentsync

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/e7canasta/wallsync/scene"
)

// Registry owns the synchronizers of one node.
//
// Data sources are registered by decoders under a content ID. Sync binds a
// synchronizer to every content of the current scene and tears down those whose
// content left the scene, so a synchronizer lives exactly as long as its content.
type Registry struct {
	opts Options

	mu      sync.RWMutex
	sources map[uuid.UUID]DataSource
	syncs   map[uuid.UUID]*Synchronizer
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:    opts,
		sources: make(map[uuid.UUID]DataSource),
		syncs:   make(map[uuid.UUID]*Synchronizer),
	}
}

// Options returns the registry's options.
func (r *Registry) Options() Options { return r.opts }

// Register attaches src to a content ID, replacing any previous source.
func (r *Registry) Register(id uuid.UUID, src DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sources[id] = src
	if s, ok := r.syncs[id]; ok {
		s.bind(src)
	}
	slog.Debug("contentsync: data source registered", "content_id", id)
}

// Unregister detaches the source of a content. Idempotent.
func (r *Registry) Unregister(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sources, id)
	if s, ok := r.syncs[id]; ok {
		s.bind(nil)
	}
}

// Sync reconciles synchronizers with the contents of sc. Returns how many were
// created and removed.
func (r *Registry) Sync(sc *scene.Scene) (created, removed int) {
	contents := sc.Group.Contents()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.syncs {
		if _, ok := contents[id]; !ok {
			delete(r.syncs, id)
			removed++
		}
	}

	for id, c := range contents {
		if _, ok := r.syncs[id]; ok {
			continue
		}
		r.syncs[id] = NewSynchronizer(id, c.Type, r.sources[id], r.opts)
		created++
	}

	if created > 0 || removed > 0 {
		slog.Debug("contentsync: synchronizers reconciled",
			"version", sc.Version,
			"created", created,
			"removed", removed,
			"total", len(r.syncs),
		)
	}
	return created, removed
}

// UpdateAll runs one update cycle over every synchronizer. Faults are isolated
// per content; the joined faults are returned for observability only.
func (r *Registry) UpdateAll() (newFrames int, err error) {
	var errs []error
	for _, s := range r.snapshot() {
		if ferr := s.Update(); ferr != nil {
			errs = append(errs, ferr)
			continue
		}
		if s.HasNewFrame() {
			newFrames++
		}
	}
	return newFrames, errors.Join(errs...)
}

// Synchronizer returns the synchronizer bound to a content.
func (r *Registry) Synchronizer(id uuid.UUID) (*Synchronizer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.syncs[id]
	return s, ok
}

// NeedRedraw reports whether any content got a new frame in the last cycle.
func (r *Registry) NeedRedraw() bool {
	for _, s := range r.snapshot() {
		if s.HasNewFrame() {
			return true
		}
	}
	return false
}

// Len returns the number of live synchronizers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.syncs)
}

// Stats returns per-content statistics sorted by content ID.
func (r *Registry) Stats() []Stats {
	syncs := r.snapshot()
	out := make([]Stats, 0, len(syncs))
	for _, s := range syncs {
		out = append(out, s.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentID.String() < out[j].ContentID.String() })
	return out
}

func (r *Registry) snapshot() []*Synchronizer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Synchronizer, 0, len(r.syncs))
	for _, s := range r.syncs {
		out = append(out, s)
	}
	return out
}
