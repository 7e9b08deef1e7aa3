package contentsync

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/wallsync/scene"
)

// ErrDataSourceFault marks a decode or fetch failure inside a DataSource.
var ErrDataSourceFault = errors.New("contentsync: data source fault")

// DataSource produces texture-ready data for one content instance.
//
// FetchFrame MUST NOT block. It returns the newest texture and true if the
// texture changed since the previous call, or the previous texture and false
// otherwise. A non-nil error reports a fault for this fetch only.
type DataSource interface {
	FetchFrame() (Texture, bool, error)
}

// DataSourceFunc adapts a function to DataSource.
type DataSourceFunc func() (Texture, bool, error)

// FetchFrame implements DataSource.
func (f DataSourceFunc) FetchFrame() (Texture, bool, error) { return f() }

// Texture is one decoded frame.
//
// Data MUST NOT be modified after it left the source (zero-copy sharing).
type Texture struct {
	Format    scene.TextureFormat
	Width     int
	Height    int
	Data      []byte
	Tiles     []TileTexture // set by tiled sources (image pyramids)
	Seq       uint64        // source-assigned, monotonically increasing
	Timestamp time.Time
}

// Empty reports whether the texture carries no pixels.
func (t Texture) Empty() bool { return len(t.Data) == 0 && len(t.Tiles) == 0 }

// TileTexture is one tile of a tiled texture.
type TileTexture struct {
	Rect   scene.Rect // in content pixels at LOD 0
	LOD    int
	Width  int
	Height int
	Data   []byte
}

// FaultError is a DataSource fault attributed to a content.
type FaultError struct {
	ContentID uuid.UUID
	Err       error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("contentsync: content %s: %v", e.ContentID, e.Err)
}

// Unwrap returns the underlying error.
func (e *FaultError) Unwrap() error { return e.Err }

// Is makes every FaultError match ErrDataSourceFault.
func (e *FaultError) Is(target error) bool { return target == ErrDataSourceFault }

// Policy decides which frame is dropped when a producer outpaces the wall.
type Policy int

const (
	// DropOldest replaces an unconsumed frame with the new one (latest wins).
	DropOldest Policy = iota
	// DropNewest keeps the unconsumed frame and discards the new one.
	DropNewest
)

func (p Policy) String() string {
	if p == DropNewest {
		return "drop_newest"
	}
	return "drop_oldest"
}

// ParsePolicy parses "drop_oldest" or "drop_newest". Empty means DropOldest.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "drop_oldest":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("contentsync: unknown policy %q", s)
	}
}

// Stats is a snapshot of one synchronizer.
type Stats struct {
	ContentID         uuid.UUID
	Type              scene.ContentType
	Fetches           uint64 // Update calls that reached the source
	Frames            uint64 // fetches that produced a new frame
	Faults            uint64
	ConsecutiveFaults int
	ErrorTile         bool
	HasSource         bool
	LastSeq           uint64
}
