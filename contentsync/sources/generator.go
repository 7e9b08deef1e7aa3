package sources

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/wallsync/contentsync"
)

// GenerateFunc renders the next frame of a dynamic texture.
type GenerateFunc func(ctx context.Context, frame uint64) (contentsync.Texture, error)

// Generator drives a GenerateFunc on its own goroutine at a fixed interval and
// exposes the results through a Stream, so a slow generator never blocks the
// render loop.
type Generator struct {
	interval time.Duration
	fn       GenerateFunc
	stream   *Stream

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewGenerator creates a generator producing one frame per interval.
func NewGenerator(interval time.Duration, policy contentsync.Policy, fn GenerateFunc) *Generator {
	return &Generator{
		interval: interval,
		fn:       fn,
		stream:   NewStream(policy),
	}
}

// Start spawns the generator goroutine. Returns an error if already started.
func (g *Generator) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return fmt.Errorf("sources: generator already started")
	}
	g.started = true

	ctx, g.cancel = context.WithCancel(ctx)
	g.wg.Add(1)
	go g.run(ctx)
	return nil
}

// Stop cancels the generator and waits for it to exit. Idempotent.
func (g *Generator) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	g.wg.Wait()
	g.stream.Close()
}

func (g *Generator) run(ctx context.Context) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	var frame uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame++
		tex, err := g.fn(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("sources: generator frame failed", "frame", frame, "error", err)
			g.stream.Fail(err)
			continue
		}
		g.stream.Publish(tex)
	}
}

// FetchFrame implements contentsync.DataSource.
func (g *Generator) FetchFrame() (contentsync.Texture, bool, error) {
	return g.stream.FetchFrame()
}

// Stats returns the underlying stream's counters.
func (g *Generator) Stats() StreamStats {
	return g.stream.Stats()
}
