package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/e7canasta/wallsync/collective"
	"github.com/e7canasta/wallsync/internal/control"
	"github.com/e7canasta/wallsync/scene"
)

const statusInterval = 10 * time.Second

// UpdateScene applies fn to the controller's scene and broadcasts the new
// version to every renderer. Broadcasts leave in version order.
func (n *Node) UpdateScene(ctx context.Context, fn func(*scene.Scene) error) (scene.Scene, error) {
	if n.store == nil {
		return scene.Scene{}, collective.ErrNotController
	}

	// The store lock does not cover the broadcast, so serialize both here.
	n.mu.Lock()
	defer n.mu.Unlock()

	sc, err := n.store.Update(fn)
	if err != nil {
		return sc, err
	}

	payload, err := scene.Encode(sc)
	if err != nil {
		return sc, fmt.Errorf("core: encode scene %d: %w", sc.Version, err)
	}
	if err := n.ch.BroadcastScene(ctx, sc.Version, payload); err != nil {
		return sc, fmt.Errorf("core: broadcast scene %d: %w", sc.Version, err)
	}

	slog.Debug("core: scene broadcast", "version", sc.Version, "bytes", len(payload))
	return sc, nil
}

func (n *Node) setScreen(fn func(*scene.ScreenSettings) error) error {
	_, err := n.UpdateScene(context.Background(), func(sc *scene.Scene) error {
		return fn(&sc.Screen)
	})
	return err
}

// Pause freezes dynamic content on every renderer.
func (n *Node) Pause() error {
	return n.setScreen(func(s *scene.ScreenSettings) error {
		if s.Paused {
			return fmt.Errorf("already paused")
		}
		s.Paused = true
		return nil
	})
}

// Resume unfreezes dynamic content.
func (n *Node) Resume() error {
	return n.setScreen(func(s *scene.ScreenSettings) error {
		if !s.Paused {
			return fmt.Errorf("not paused")
		}
		s.Paused = false
		return nil
	})
}

// SetScreen switches the wall's displays on or off.
func (n *Node) SetScreen(on bool) error {
	return n.setScreen(func(s *scene.ScreenSettings) error {
		s.State = scene.ScreenOff
		if on {
			s.State = scene.ScreenOn
		}
		return nil
	})
}

// SetLock locks or unlocks the wall against user interaction.
func (n *Node) SetLock(locked bool) error {
	return n.setScreen(func(s *scene.ScreenSettings) error {
		s.Locked = locked
		return nil
	})
}

// SetCountdown sets the remaining inactivity countdown; zero clears it.
func (n *Node) SetCountdown(d time.Duration) error {
	return n.setScreen(func(s *scene.ScreenSettings) error {
		s.Countdown = d
		return nil
	})
}

func (n *Node) collectiveHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(n.cfg.Collective.Path, collective.NewServer(n.hub))
	return mux
}

func (n *Node) startControl(ctx context.Context) error {
	client, err := control.Connect(ctx, n.cfg.InstanceID, n.cfg.MQTT)
	if err != nil {
		return fmt.Errorf("core: %w", err)
	}
	handler := control.NewHandler(n.cfg.MQTT, client, n.commandCallbacks())

	n.mu.Lock()
	n.mqtt = client
	n.control = handler
	n.mu.Unlock()

	if err := handler.Start(ctx); err != nil {
		return fmt.Errorf("core: failed to start control plane: %w", err)
	}
	return nil
}

func (n *Node) commandCallbacks() control.CommandCallbacks {
	return control.CommandCallbacks{
		OnGetStatus:    n.Status,
		OnPause:        n.Pause,
		OnResume:       n.Resume,
		OnSetScreen:    n.SetScreen,
		OnSetLock:      n.SetLock,
		OnSetCountdown: n.SetCountdown,
		OnShutdown:     n.shutdownViaControl,
	}
}

func (n *Node) shutdownViaControl() error {
	n.mu.RLock()
	cancel := n.cancel
	n.mu.RUnlock()
	if cancel == nil {
		return fmt.Errorf("node is not running")
	}
	cancel()
	return nil
}

func (n *Node) publishStatusLoop(ctx context.Context) error {
	n.mu.RLock()
	handler := n.control
	n.mu.RUnlock()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := handler.PublishStatus(n.Status()); err != nil {
				slog.Warn("core: status publish failed", "error", err)
			}
		}
	}
}
