package scene

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Scene is a versioned snapshot of the wall's layout and content selection.
//
// A Scene value is treated as immutable once published: Store hands out clones
// and Replica only swaps whole snapshots.
type Scene struct {
	Version    uint64         `cbor:"version"`
	Group      DisplayGroup   `cbor:"group"`
	Background Background     `cbor:"background"`
	Screen     ScreenSettings `cbor:"screen"`
}

// Clone returns a deep copy of s.
func (s Scene) Clone() Scene {
	c := s
	c.Group.Windows = append([]Window(nil), s.Group.Windows...)
	return c
}

// DisplayGroup is the ordered set of windows. Slice order is z-order: the last
// window is on top.
type DisplayGroup struct {
	Windows []Window `cbor:"windows"`
}

// Len returns the number of windows.
func (g DisplayGroup) Len() int { return len(g.Windows) }

// Index returns the index of the window with the given id, or -1.
func (g DisplayGroup) Index(id uuid.UUID) int {
	for i, w := range g.Windows {
		if w.ID == id {
			return i
		}
	}
	return -1
}

// Window returns the window with the given id.
func (g DisplayGroup) Window(id uuid.UUID) (Window, bool) {
	if i := g.Index(id); i >= 0 {
		return g.Windows[i], true
	}
	return Window{}, false
}

// Contents returns every content referenced by the group, keyed by content ID.
func (g DisplayGroup) Contents() map[uuid.UUID]Content {
	out := make(map[uuid.UUID]Content, len(g.Windows))
	for _, w := range g.Windows {
		out[w.Content.ID] = w.Content
	}
	return out
}

// Visible returns the indices of windows intersecting area, bottom to top.
func (g DisplayGroup) Visible(area Rect) []int {
	var out []int
	for i, w := range g.Windows {
		if w.Rect.Intersects(area) {
			out = append(out, i)
		}
	}
	return out
}

// Tiles cuts the content of window i into tiles of at most tileSize pixels per
// side, at level of detail 0. Used for contents larger than a single texture.
func (g DisplayGroup) Tiles(i int, tileSize int) ([]Tile, error) {
	if i < 0 || i >= len(g.Windows) {
		return nil, fmt.Errorf("scene: window index %d out of range [0,%d)", i, len(g.Windows))
	}
	if tileSize <= 0 {
		return nil, fmt.Errorf("scene: invalid tile size %d", tileSize)
	}

	size := g.Windows[i].Content.Size
	cols := int(math.Ceil(size.W / float64(tileSize)))
	rows := int(math.Ceil(size.H / float64(tileSize)))

	tiles := make([]Tile, 0, cols*rows)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x := float64(c * tileSize)
			y := float64(r * tileSize)
			tiles = append(tiles, Tile{
				Index:  len(tiles),
				Window: i,
				Rect: Rect{
					X: x,
					Y: y,
					W: math.Min(float64(tileSize), size.W-x),
					H: math.Min(float64(tileSize), size.H-y),
				},
			})
		}
	}
	return tiles, nil
}

// Owner resolves a tile's back-reference.
func (g DisplayGroup) Owner(t Tile) (Window, bool) {
	if t.Window < 0 || t.Window >= len(g.Windows) {
		return Window{}, false
	}
	return g.Windows[t.Window], true
}
