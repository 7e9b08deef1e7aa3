// Package core wires the collective channel, scene state, content and swap
// synchronizers of one wall node.
//
// A node is either the controller (rank 0) or a renderer. The controller owns
// the scene.Store and broadcasts every version; renderers follow it through a
// scene.Replica, pull content each frame and swap in lockstep:
//
//	n, _ := core.New(cfg, ch, core.Options{Surface: s, Draw: draw})
//	go n.Run(ctx)
//	...
//	n.Shutdown(shutdownCtx)
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/wallsync/collective"
	"github.com/e7canasta/wallsync/contentsync"
	"github.com/e7canasta/wallsync/internal/config"
	"github.com/e7canasta/wallsync/internal/control"
	"github.com/e7canasta/wallsync/internal/fps"
	"github.com/e7canasta/wallsync/internal/metrics"
	"github.com/e7canasta/wallsync/scene"
	"github.com/e7canasta/wallsync/swapsync"
)

// fpsWindow is the number of frames the FPS counter averages over.
const fpsWindow = 120

// Options are the node's collaborators that do not come from configuration.
type Options struct {
	// Surface is swapped on release. Renderers only; nil uses a no-op surface.
	Surface swapsync.Surface

	// Draw renders one frame. When set, Run drives frames at render.fps;
	// otherwise the embedding renderer calls Frame itself.
	Draw DrawFunc
}

// Node is one process of the wall.
type Node struct {
	cfg  *config.Config
	opts Options
	ch   collective.Channel
	hub  *collective.Hub // controller with an in-process hub

	store    *scene.Store   // controller
	replica  *scene.Replica // renderer
	registry *contentsync.Registry
	swap     *swapsync.Synchronizer
	frames   *fps.Counter
	metrics  *prometheus.Registry

	mqtt    mqtt.Client
	control *control.Handler

	mu        sync.RWMutex
	started   time.Time
	isRunning bool
	paused    bool
	lastDrawn uint64
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a node for cfg on ch. The channel's role must match cfg.Rank.
func New(cfg *config.Config, ch collective.Channel, opts Options) (*Node, error) {
	if ch == nil {
		return nil, fmt.Errorf("core: nil channel")
	}
	if ch.Rank() != cfg.Rank || ch.IsController() != cfg.IsController() {
		return nil, fmt.Errorf("core: channel rank %d does not match configured rank %d", ch.Rank(), cfg.Rank)
	}

	contentOpts, err := cfg.ContentOptions()
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	n := &Node{
		cfg:      cfg,
		opts:     opts,
		ch:       ch,
		registry: contentsync.NewRegistry(contentOpts),
		frames:   fps.NewCounter(fpsWindow),
		done:     make(chan struct{}),
	}

	if cfg.IsController() {
		n.store = scene.NewStore()
		n.hub, _ = ch.(*collective.Hub)
	} else {
		n.replica = scene.NewReplica()

		mode, _ := swapsync.ParseMode(cfg.Swap.Mode)
		surface := opts.Surface
		if surface == nil {
			surface = swapsync.SurfaceFunc(func() error { return nil })
		}
		n.swap, err = swapsync.New(ch, surface, swapsync.Options{
			Timeout:       cfg.Swap.Timeout,
			Mode:          mode,
			DegradedAfter: cfg.Swap.DegradedAfter,
		})
		if err != nil {
			return nil, fmt.Errorf("core: %w", err)
		}
	}

	n.metrics = metrics.NewRegistry(metrics.NewCollector(cfg.Rank, n.metricSources()))

	slog.Info("core: node created",
		"instance_id", cfg.InstanceID,
		"rank", cfg.Rank,
		"controller", cfg.IsController(),
		"renderers", cfg.Renderers,
	)
	return n, nil
}

func (n *Node) metricSources() metrics.Sources {
	src := metrics.Sources{
		Content:      n.registry.Stats,
		SceneVersion: n.SceneVersion,
	}
	if n.hub != nil {
		src.Hub = n.hub.Stats
	}
	if n.swap != nil {
		src.Swap = n.swap.Stats
		src.FPS = n.frames.Stats
	}
	return src
}

// Rank returns the node's rank.
func (n *Node) Rank() int { return n.cfg.Rank }

// IsController reports whether this node is the controller.
func (n *Node) IsController() bool { return n.cfg.IsController() }

// SceneVersion returns the scene version this node currently holds.
func (n *Node) SceneVersion() uint64 {
	if n.store != nil {
		return n.store.Snapshot().Version
	}
	return n.replica.Version()
}

// RegisterDataSource attaches a data source to a content. Renderers only;
// the controller never fetches pixels.
func (n *Node) RegisterDataSource(id uuid.UUID, src contentsync.DataSource) {
	n.registry.Register(id, src)
}

// Run starts the node and blocks until ctx is done, Shutdown is called or a
// component fails.
func (n *Node) Run(ctx context.Context) error {
	n.mu.Lock()
	if n.isRunning {
		n.mu.Unlock()
		return fmt.Errorf("core: node is already running")
	}
	n.isRunning = true
	n.started = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.mu.Unlock()

	defer func() {
		cancel()
		n.mu.Lock()
		n.isRunning = false
		n.mu.Unlock()
		close(n.done)
	}()

	slog.Info("core: node starting", "rank", n.cfg.Rank, "instance_id", n.cfg.InstanceID)

	g, gctx := errgroup.WithContext(ctx)

	if addr := n.cfg.Health.Listen; addr != "" {
		g.Go(func() error { return serveHTTP(gctx, "health", addr, n.HealthHandler()) })
	}

	if n.IsController() {
		if n.hub != nil && n.cfg.Collective.Listen != "" {
			g.Go(func() error {
				return serveHTTP(gctx, "collective", n.cfg.Collective.Listen, n.collectiveHandler())
			})
		}
		if n.cfg.MQTT.Broker != "" {
			if err := n.startControl(gctx); err != nil {
				cancel()
				_ = g.Wait()
				return err
			}
			g.Go(func() error { return n.publishStatusLoop(gctx) })
		}
		// Late joiners are handed the last broadcast scene; publish one now.
		if _, err := n.UpdateScene(gctx, func(*scene.Scene) error { return nil }); err != nil {
			slog.Warn("core: initial scene broadcast failed", "error", err)
		}
	} else {
		g.Go(func() error { return n.receiveScenes(gctx) })
		g.Go(func() error { return n.logStats(gctx, statsLogInterval) })
		if n.opts.Draw != nil {
			g.Go(func() error { return n.renderLoop(gctx) })
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	slog.Info("core: node running", "rank", n.cfg.Rank)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	slog.Info("core: run loop exiting", "rank", n.cfg.Rank, "error", err)
	return err
}

// Shutdown leaves the collective, stops Run and closes the channel.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.RLock()
	running := n.isRunning
	cancel := n.cancel
	started := n.started
	handler, client := n.control, n.mqtt
	n.mu.RUnlock()

	slog.Info("core: shutting down", "rank", n.cfg.Rank)

	// Leave first so the rest of the wall stops waiting on this rank.
	if !n.IsController() {
		if err := n.ch.Leave(ctx); err != nil {
			slog.Warn("core: leave failed", "rank", n.cfg.Rank, "error", err)
		}
	}

	if handler != nil {
		if err := handler.Stop(); err != nil {
			slog.Error("core: failed to stop control handler", "error", err)
		}
	}

	if running && cancel != nil {
		cancel()
		select {
		case <-n.done:
		case <-ctx.Done():
			return fmt.Errorf("core: shutdown: %w", ctx.Err())
		}
	}

	if client != nil {
		client.Disconnect(250)
	}

	if err := n.ch.Close(); err != nil {
		slog.Warn("core: close channel", "error", err)
	}

	slog.Info("core: shutdown complete", "rank", n.cfg.Rank, "uptime", time.Since(started))
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown bound.
func (n *Node) ShutdownTimeout() time.Duration { return n.cfg.ShutdownTimeout() }
