package sources

import (
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/draw"

	"github.com/e7canasta/wallsync/contentsync"
	"github.com/e7canasta/wallsync/scene"
)

// toRGBA converts any image into a tightly packed RGBA buffer.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) && rgba.Stride == 4*rgba.Rect.Dx() {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Static serves one decoded image forever.
type Static struct {
	tex contentsync.Texture

	mu     sync.Mutex
	served bool
}

// NewStatic converts img to an RGBA texture once.
func NewStatic(img image.Image) *Static {
	rgba := toRGBA(img)
	return &Static{tex: contentsync.Texture{
		Format: scene.FormatRGBA,
		Width:  rgba.Rect.Dx(),
		Height: rgba.Rect.Dy(),
		Data:   rgba.Pix,
		Seq:    1,
	}}
}

// FetchFrame implements contentsync.DataSource. Only the first call reports a
// new frame.
func (s *Static) FetchFrame() (contentsync.Texture, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := !s.served
	s.served = true
	return s.tex, ready, nil
}

// Pyramid serves a large image as tiles at a selectable level of detail.
//
// All levels are built up front, so switching LOD never blocks FetchFrame.
// Level l is the source scaled by 1/2^l.
type Pyramid struct {
	tileSize int
	levels   [][]contentsync.TileTexture
	dims     []image.Point

	mu      sync.Mutex
	lod     int
	fetched int // LOD last handed out, -1 before the first fetch
	seq     uint64
}

// NewPyramid builds levels 0..maxLOD of img cut into tiles of tileSize pixels.
func NewPyramid(img image.Image, tileSize, maxLOD int) (*Pyramid, error) {
	if tileSize <= 0 {
		return nil, fmt.Errorf("sources: invalid tile size %d", tileSize)
	}
	if maxLOD < 0 {
		return nil, fmt.Errorf("sources: invalid max LOD %d", maxLOD)
	}

	base := toRGBA(img)
	p := &Pyramid{tileSize: tileSize, fetched: -1}

	for lod := 0; lod <= maxLOD; lod++ {
		level := base
		if lod > 0 {
			w := max(1, (base.Rect.Dx()+(1<<lod)-1)>>lod)
			h := max(1, (base.Rect.Dy()+(1<<lod)-1)>>lod)
			level = image.NewRGBA(image.Rect(0, 0, w, h))
			draw.ApproxBiLinear.Scale(level, level.Bounds(), base, base.Bounds(), draw.Src, nil)
		}
		p.levels = append(p.levels, cutTiles(level, tileSize, lod))
		p.dims = append(p.dims, level.Rect.Size())
	}
	return p, nil
}

func cutTiles(level *image.RGBA, tileSize, lod int) []contentsync.TileTexture {
	scale := float64(int(1) << lod)
	b := level.Bounds()

	var tiles []contentsync.TileTexture
	for y := b.Min.Y; y < b.Max.Y; y += tileSize {
		for x := b.Min.X; x < b.Max.X; x += tileSize {
			r := image.Rect(x, y, min(x+tileSize, b.Max.X), min(y+tileSize, b.Max.Y))
			tile := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
			draw.Draw(tile, tile.Bounds(), level, r.Min, draw.Src)

			tiles = append(tiles, contentsync.TileTexture{
				Rect: scene.Rect{
					X: float64(r.Min.X) * scale,
					Y: float64(r.Min.Y) * scale,
					W: float64(r.Dx()) * scale,
					H: float64(r.Dy()) * scale,
				},
				LOD:    lod,
				Width:  r.Dx(),
				Height: r.Dy(),
				Data:   tile.Pix,
			})
		}
	}
	return tiles
}

// Levels returns the number of levels of detail.
func (p *Pyramid) Levels() int { return len(p.levels) }

// SetLOD selects the level served by the next FetchFrame. Out-of-range values
// are clamped.
func (p *Pyramid) SetLOD(lod int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lod = min(max(lod, 0), len(p.levels)-1)
}

// FetchFrame implements contentsync.DataSource. A new frame is reported when
// the selected LOD differs from the one last handed out.
func (p *Pyramid) FetchFrame() (contentsync.Texture, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ready := p.fetched != p.lod
	if ready {
		p.seq++
		p.fetched = p.lod
	}
	return contentsync.Texture{
		Format: scene.FormatRGBA,
		Width:  p.dims[p.lod].X,
		Height: p.dims[p.lod].Y,
		Tiles:  p.levels[p.lod],
		Seq:    p.seq,
	}, ready, nil
}
