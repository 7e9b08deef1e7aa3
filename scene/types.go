package scene

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContentType is the closed set of content variants a window can show.
type ContentType int

const (
	ContentInvalid ContentType = iota
	ContentDynamicTexture
	ContentMovie
	ContentPDF
	ContentWebbrowser
	ContentImagePyramid
	ContentPixelStream
	ContentSVG
	ContentImage
)

// String returns the wire name of the content type.
func (c ContentType) String() string {
	switch c {
	case ContentInvalid:
		return "invalid"
	case ContentDynamicTexture:
		return "dynamic_texture"
	case ContentMovie:
		return "movie"
	case ContentPDF:
		return "pdf"
	case ContentWebbrowser:
		return "webbrowser"
	case ContentImagePyramid:
		return "image_pyramid"
	case ContentPixelStream:
		return "pixel_stream"
	case ContentSVG:
		return "svg"
	case ContentImage:
		return "image"
	default:
		return "invalid"
	}
}

// IsFile reports whether the content is loaded from a file (as opposed to a
// live stream or an application surface).
func (c ContentType) IsFile() bool {
	switch c {
	case ContentInvalid, ContentPixelStream, ContentWebbrowser:
		return false
	default:
		return true
	}
}

// TextureType returns the texture update policy of the content type.
func (c ContentType) TextureType() TextureType {
	switch c {
	case ContentMovie, ContentPixelStream, ContentDynamicTexture, ContentWebbrowser:
		return TextureDynamic
	case ContentImage, ContentSVG, ContentPDF, ContentImagePyramid, ContentInvalid:
		return TextureStatic
	default:
		return TextureStatic
	}
}

// ParseContentType is the inverse of ContentType.String.
func ParseContentType(s string) (ContentType, error) {
	for c := ContentInvalid; c <= ContentImage; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return ContentInvalid, fmt.Errorf("scene: unknown content type %q", s)
}

// TextureType is the texture update policy.
type TextureType int

const (
	// TextureStatic textures are uploaded once and kept until replaced.
	TextureStatic TextureType = iota
	// TextureDynamic textures change at the content's own rate.
	TextureDynamic
)

func (t TextureType) String() string {
	if t == TextureDynamic {
		return "dynamic"
	}
	return "static"
}

// TextureFormat is the pixel layout of a texture.
type TextureFormat int

const (
	FormatRGBA TextureFormat = iota
	FormatYUV420
	FormatYUV422
	FormatYUV444
)

func (f TextureFormat) String() string {
	switch f {
	case FormatYUV420:
		return "yuv420"
	case FormatYUV422:
		return "yuv422"
	case FormatYUV444:
		return "yuv444"
	default:
		return "rgba"
	}
}

// ScreenState is the power state of the wall's displays.
type ScreenState int

const (
	ScreenUndefined ScreenState = iota
	ScreenOn
	ScreenOff
)

func (s ScreenState) String() string {
	switch s {
	case ScreenOn:
		return "on"
	case ScreenOff:
		return "off"
	default:
		return "undefined"
	}
}

// Point is a position in scene coordinates.
type Point struct {
	X float64 `cbor:"x"`
	Y float64 `cbor:"y"`
}

// Size is an extent in scene coordinates (or pixels for Content.Size).
type Size struct {
	W float64 `cbor:"w"`
	H float64 `cbor:"h"`
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	X float64 `cbor:"x"`
	Y float64 `cbor:"y"`
	W float64 `cbor:"w"`
	H float64 `cbor:"h"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Intersects reports whether r and o overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.X+o.W && o.X < r.X+r.W && r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

func (r Rect) String() string {
	return fmt.Sprintf("%g,%g %gx%g", r.X, r.Y, r.W, r.H)
}

// Content describes what a window shows. Pixel data is never part of the scene:
// every node fetches it from its own data sources.
type Content struct {
	ID   uuid.UUID   `cbor:"id"`
	Type ContentType `cbor:"type"`
	URI  string      `cbor:"uri"`
	Size Size        `cbor:"size"` // native size in pixels
	Page int         `cbor:"page,omitempty"`
}

// Window places one content in the scene.
type Window struct {
	ID      uuid.UUID `cbor:"id"`
	Content Content   `cbor:"content"`
	Rect    Rect      `cbor:"rect"`
}

// Tile is a rectangular sub-region of a window's content.
//
// Window is the index of the owning window in its DisplayGroup. A tile never
// outlives the group snapshot it was cut from.
type Tile struct {
	Index  int  `cbor:"index"`
	Window int  `cbor:"window"`
	Rect   Rect `cbor:"rect"` // in content pixels
	LOD    int  `cbor:"lod"`
}

// Background of the wall.
type Background struct {
	Color      string `cbor:"color"`
	ContentURI string `cbor:"uri,omitempty"`
}

// ScreenSettings is wall-wide display state carried with the scene.
type ScreenSettings struct {
	State     ScreenState   `cbor:"state"`
	Locked    bool          `cbor:"locked"`
	Paused    bool          `cbor:"paused"`
	Countdown time.Duration `cbor:"countdown"` // remaining inactivity countdown, zero if inactive
}
