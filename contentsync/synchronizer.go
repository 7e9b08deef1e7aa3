package contentsync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/e7canasta/wallsync/scene"
)

const (
	// defaultFaultThreshold is the number of consecutive faults before a content
	// is shown as an error tile.
	defaultFaultThreshold = 3

	// faultWarnInterval bounds how often a faulting content is logged.
	faultWarnInterval = 5 * time.Second
)

// Options configures synchronizers created by a Registry.
type Options struct {
	// FaultThreshold is the number of consecutive faults before ErrorTile
	// reports true. Zero means 3.
	FaultThreshold int

	// Policies maps content types to their drop policy. Types not listed use
	// DropOldest.
	Policies map[scene.ContentType]Policy
}

func (o Options) faultThreshold() int {
	if o.FaultThreshold <= 0 {
		return defaultFaultThreshold
	}
	return o.FaultThreshold
}

// PolicyFor returns the drop policy configured for typ.
func (o Options) PolicyFor(typ scene.ContentType) Policy {
	if p, ok := o.Policies[typ]; ok {
		return p
	}
	return DropOldest
}

// Synchronizer caches the latest texture of one content.
//
// Update is called by the render loop; HasNewFrame, CurrentTexture and
// ErrorTile are called by the renderer. All methods are safe for concurrent use.
type Synchronizer struct {
	id             uuid.UUID
	typ            scene.ContentType
	faultThreshold int

	mu                sync.Mutex
	src               DataSource
	current           Texture
	hasTexture        bool
	newFrame          bool
	fetches           uint64
	frames            uint64
	faults            uint64
	consecutiveFaults int
	errorTile         bool

	warn *rate.Limiter
}

// NewSynchronizer binds a synchronizer to a content. src may be nil until the
// decoder registers its source; the content then shows no texture.
func NewSynchronizer(id uuid.UUID, typ scene.ContentType, src DataSource, opts Options) *Synchronizer {
	return &Synchronizer{
		id:             id,
		typ:            typ,
		src:            src,
		faultThreshold: opts.faultThreshold(),
		warn:           rate.NewLimiter(rate.Every(faultWarnInterval), 1),
	}
}

// ContentID returns the bound content's ID.
func (s *Synchronizer) ContentID() uuid.UUID { return s.id }

// Type returns the bound content's type.
func (s *Synchronizer) Type() scene.ContentType { return s.typ }

// Update pulls at most one frame from the data source.
//
// Static contents stop fetching once they hold a texture. On a fault the last
// good texture is kept, the new-frame flag is cleared and a *FaultError is
// returned.
func (s *Synchronizer) Update() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.newFrame = false

	if s.src == nil {
		return nil
	}

	switch s.typ.TextureType() {
	case scene.TextureStatic:
		if s.hasTexture && !s.errorTile {
			return nil
		}
	case scene.TextureDynamic:
	}

	s.fetches++
	tex, ready, err := s.src.FetchFrame()
	if err != nil {
		return s.faultLocked(err)
	}

	if s.errorTile {
		slog.Info("contentsync: content recovered", "content_id", s.id, "type", s.typ)
	}
	s.consecutiveFaults = 0
	s.errorTile = false

	if !ready {
		return nil
	}

	s.current = tex
	s.hasTexture = true
	s.newFrame = true
	s.frames++
	return nil
}

func (s *Synchronizer) faultLocked(err error) error {
	s.faults++
	s.consecutiveFaults++

	if !s.errorTile && s.consecutiveFaults >= s.faultThreshold {
		s.errorTile = true
		slog.Warn("contentsync: content faulting, showing error tile",
			"content_id", s.id,
			"type", s.typ,
			"consecutive_faults", s.consecutiveFaults,
			"error", err,
		)
	} else if s.warn.Allow() {
		slog.Warn("contentsync: data source fault",
			"content_id", s.id,
			"type", s.typ,
			"error", err,
		)
	}

	return &FaultError{ContentID: s.id, Err: err}
}

// HasNewFrame reports whether the last Update produced a new frame.
func (s *Synchronizer) HasNewFrame() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newFrame
}

// CurrentTexture returns the last good texture, if any.
func (s *Synchronizer) CurrentTexture() (Texture, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasTexture
}

// ErrorTile reports whether the content should be drawn as a static error tile.
func (s *Synchronizer) ErrorTile() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorTile
}

// Stats returns a snapshot of the synchronizer's counters.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ContentID:         s.id,
		Type:              s.typ,
		Fetches:           s.fetches,
		Frames:            s.frames,
		Faults:            s.faults,
		ConsecutiveFaults: s.consecutiveFaults,
		ErrorTile:         s.errorTile,
		HasSource:         s.src != nil,
		LastSeq:           s.current.Seq,
	}
}

// bind replaces the data source. The cached texture is dropped so the new
// source's first frame is shown.
func (s *Synchronizer) bind(src DataSource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.src = src
	s.current = Texture{}
	s.hasTexture = false
	s.newFrame = false
	s.consecutiveFaults = 0
	s.errorTile = false
}
