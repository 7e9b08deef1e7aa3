package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/wallsync/barrier"
	"github.com/e7canasta/wallsync/collective"
	"github.com/e7canasta/wallsync/contentsync"
	"github.com/e7canasta/wallsync/contentsync/sources"
	"github.com/e7canasta/wallsync/scene"
	"github.com/e7canasta/wallsync/swapsync"
)

// controlArriveTimeout bounds the pause/resume rendezvous.
const controlArriveTimeout = time.Second

// RenderContext is the wall-wide display state a renderer needs for a frame.
type RenderContext struct {
	ScreenLock  bool
	Countdown   time.Duration
	ScreenState scene.ScreenState
	Paused      bool
}

// FrameInfo is handed to a DrawFunc once per frame.
type FrameInfo struct {
	Scene   *scene.Scene
	Context RenderContext
	Tiles   []scene.Tile // tiles of the windows visible in this node's area
}

// DrawFunc renders one frame into the back buffer.
type DrawFunc func(ctx context.Context, f FrameInfo) error

// Headless draws nothing. Used by nodes without a display.
func Headless(context.Context, FrameInfo) error { return nil }

// NewStream creates a push stream for a content and registers it as the
// content's data source, with the configured policy for typ.
func (n *Node) NewStream(id uuid.UUID, typ scene.ContentType) *sources.Stream {
	s := sources.NewStream(n.registry.Options().PolicyFor(typ))
	n.registry.Register(id, s)
	return s
}

// AttachPipe registers a stream for a content fed by length-prefixed frames
// read from r (a decoder process's stdout, a pixel-streaming socket) until r
// ends or ctx is done.
func (n *Node) AttachPipe(ctx context.Context, id uuid.UUID, typ scene.ContentType, r io.Reader) *sources.Stream {
	s := n.NewStream(id, typ)
	go func() {
		if err := sources.ReadPipe(ctx, r, s); err != nil && ctx.Err() == nil {
			slog.Warn("core: content pipe failed", "rank", n.cfg.Rank, "content_id", id, "error", err)
		}
	}()
	return s
}

// Texture returns the current texture of a content and whether the error
// tile should be shown instead.
func (n *Node) Texture(id uuid.UUID) (tex contentsync.Texture, errorTile bool, ok bool) {
	s, ok := n.registry.Synchronizer(id)
	if !ok {
		return contentsync.Texture{}, false, false
	}
	tex, ok = s.CurrentTexture()
	return tex, s.ErrorTile(), ok
}

// OnSceneVersion installs a scene received from the controller. Content
// synchronizers follow the scene's contents, and any swap still pending for
// an older version is aborted.
func (n *Node) OnSceneVersion(sc scene.Scene) error {
	if n.replica == nil {
		return collective.ErrNotRenderer
	}
	if err := n.replica.Apply(sc); err != nil {
		return err
	}
	n.swap.OnSceneVersion(sc.Version)
	n.registry.Sync(&sc)

	n.mu.Lock()
	n.paused = sc.Screen.Paused
	n.mu.Unlock()

	slog.Debug("core: scene applied", "rank", n.cfg.Rank, "version", sc.Version, "windows", sc.Group.Len())
	return nil
}

func (n *Node) receiveScenes(ctx context.Context) error {
	for {
		up, err := n.ch.NextScene(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, collective.ErrClosed) {
				return nil
			}
			return fmt.Errorf("core: next scene: %w", err)
		}

		sc, err := scene.Decode(up.Payload)
		if err != nil {
			slog.Warn("core: dropping undecodable scene", "version", up.Version, "error", err)
			continue
		}
		sc.Version = up.Version

		n.syncPause(ctx, sc.Screen.Paused)

		if err := n.OnSceneVersion(sc); err != nil {
			if errors.Is(err, scene.ErrStaleVersion) {
				slog.Debug("core: stale scene ignored", "version", sc.Version)
				continue
			}
			return err
		}
	}
}

// syncPause rendezvous with the other renderers before a pause change takes
// effect, so dynamic content freezes on the same scene everywhere.
func (n *Node) syncPause(ctx context.Context, paused bool) {
	if paused == n.Paused() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, controlArriveTimeout)
	defer cancel()

	if err := n.ch.Arrive(ctx, barrier.GroupControl); err != nil {
		slog.Warn("core: control rendezvous failed, applying pause unsynchronized",
			"rank", n.cfg.Rank,
			"paused", paused,
			"error", err,
		)
	}
}

// Paused reports whether dynamic content is frozen.
func (n *Node) Paused() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.paused
}

// Scene returns the scene this renderer currently holds.
func (n *Node) Scene() *scene.Scene {
	if n.replica == nil {
		sc := n.store.Snapshot()
		return &sc
	}
	return n.replica.Current()
}

// RenderContext returns the display state of the current scene.
func (n *Node) RenderContext() RenderContext {
	sc := n.Scene()
	return RenderContext{
		ScreenLock:  sc.Screen.Locked,
		Countdown:   sc.Screen.Countdown,
		ScreenState: sc.Screen.State,
		Paused:      sc.Screen.Paused,
	}
}

// NeedRedraw reports whether the scene changed since the last frame or any
// content has a new frame.
func (n *Node) NeedRedraw() bool {
	n.mu.RLock()
	drawn := n.lastDrawn
	n.mu.RUnlock()
	return n.SceneVersion() != drawn || n.registry.NeedRedraw()
}

// VisibleTiles returns the tiles of every window intersecting this node's
// area. An empty area covers the whole wall.
func (n *Node) VisibleTiles(sc *scene.Scene) ([]scene.Tile, error) {
	a := n.cfg.Render.Area
	area := scene.Rect{X: a.X, Y: a.Y, W: a.W, H: a.H}

	var visible []int
	if area.Empty() {
		for i := range sc.Group.Windows {
			visible = append(visible, i)
		}
	} else {
		visible = sc.Group.Visible(area)
	}

	var tiles []scene.Tile
	for _, i := range visible {
		t, err := sc.Group.Tiles(i, n.cfg.Render.TileSize)
		if err != nil {
			return nil, err
		}
		tiles = append(tiles, t...)
	}
	return tiles, nil
}

// Frame runs one render cycle: pull content (unless paused), draw, then swap
// in lockstep with the other renderers.
func (n *Node) Frame(ctx context.Context, draw DrawFunc) (swapsync.Outcome, error) {
	if n.swap == nil {
		return swapsync.OutOfOrderSwap, collective.ErrNotRenderer
	}

	sc := n.replica.Current()
	if err := n.swap.BeginRender(sc.Version); err != nil {
		return swapsync.OutOfOrderSwap, err
	}

	if !n.Paused() {
		if _, err := n.registry.UpdateAll(); err != nil {
			slog.Debug("core: content faults this frame", "rank", n.cfg.Rank, "error", err)
		}
	}

	tiles, err := n.VisibleTiles(sc)
	if err != nil {
		slog.Warn("core: tiling failed", "version", sc.Version, "error", err)
	}

	if draw != nil {
		// A failed draw still votes and swaps.
		if err := draw(ctx, FrameInfo{Scene: sc, Context: n.RenderContext(), Tiles: tiles}); err != nil {
			slog.Warn("core: draw failed", "rank", n.cfg.Rank, "version", sc.Version, "error", err)
		}
	}

	outcome, err := n.RequestSwap(ctx, sc.Version)
	if err != nil {
		return outcome, err
	}

	n.frames.Tick(time.Now())
	n.mu.Lock()
	n.lastDrawn = sc.Version
	n.mu.Unlock()
	return outcome, nil
}

// RequestSwap reports rendering of version done and blocks until the swap is
// released or times out.
func (n *Node) RequestSwap(ctx context.Context, version uint64) (swapsync.Outcome, error) {
	if n.swap == nil {
		return swapsync.OutOfOrderSwap, collective.ErrNotRenderer
	}
	return n.swap.RequestSwap(ctx, version)
}

func (n *Node) renderLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(n.cfg.Render.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		_, err := n.Frame(ctx, n.opts.Draw)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, swapsync.ErrOutOfOrderSwap):
			// A newer scene arrived mid-frame; the next tick renders it.
		default:
			slog.Warn("core: frame failed", "rank", n.cfg.Rank, "error", err)
		}
	}
}
