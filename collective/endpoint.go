package collective

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const withdrawTimeout = time.Second

// Endpoint is the renderer side of the collective.
//
// Inbound messages are fed through handle by the transport; outbound messages
// leave through the transport's SendFunc, which is swapped on reconnect.
type Endpoint struct {
	rank int

	lastDecided atomic.Uint64
	connected   atomic.Bool

	mu        sync.Mutex
	send      SendFunc
	latest    SceneUpdate
	hasLatest bool
	delivered uint64
	votes     map[uint64]chan bool
	arrivals  map[string]chan uint64
	expected  []int
	left      bool

	sceneSignal chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	onClose     func() error
}

func newEndpoint(rank int) *Endpoint {
	return &Endpoint{
		rank:        rank,
		votes:       make(map[uint64]chan bool),
		arrivals:    make(map[string]chan uint64),
		sceneSignal: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// setSend installs the outbound link; nil marks the endpoint disconnected.
func (e *Endpoint) setSend(send SendFunc) {
	e.mu.Lock()
	e.send = send
	e.mu.Unlock()
	e.connected.Store(send != nil)
}

func (e *Endpoint) sendMsg(ctx context.Context, m Message) error {
	e.mu.Lock()
	send, left := e.send, e.left
	e.mu.Unlock()

	if left {
		return ErrClosed
	}
	if send == nil {
		return ErrDisconnected
	}
	m.Rank = e.rank
	return send(ctx, m)
}

// handle applies one message from the hub. Never blocks.
func (e *Endpoint) handle(m Message) {
	switch m.Kind {
	case KindSceneUpdate:
		e.mu.Lock()
		if e.hasLatest && m.Version <= e.latest.Version {
			e.mu.Unlock()
			slog.Debug("collective: out-of-date scene ignored", "rank", e.rank, "version", m.Version)
			return
		}
		e.latest = SceneUpdate{Version: m.Version, Payload: m.Payload}
		e.hasLatest = true
		e.mu.Unlock()

		select {
		case e.sceneSignal <- struct{}{}:
		default:
		}

	case KindDecision:
		e.observeDecided(m.LastDecided)
		e.mu.Lock()
		ch, ok := e.votes[m.Frame]
		delete(e.votes, m.Frame)
		e.mu.Unlock()
		if ok {
			ch <- m.Ready
		}

	case KindRelease:
		e.mu.Lock()
		ch, ok := e.arrivals[m.Group]
		delete(e.arrivals, m.Group)
		e.mu.Unlock()
		if ok {
			ch <- m.Generation
		}

	case KindHello, KindRankLeave:
		e.observeDecided(m.LastDecided)
		if m.Expected != nil {
			e.mu.Lock()
			e.expected = slices.Clone(m.Expected)
			e.mu.Unlock()
		}

	default:
		slog.Warn("collective: unexpected message from hub", "rank", e.rank, "kind", m.Kind)
	}
}

func (e *Endpoint) observeDecided(frame uint64) {
	for {
		cur := e.lastDecided.Load()
		if frame <= cur || e.lastDecided.CompareAndSwap(cur, frame) {
			return
		}
	}
}

// Rank implements Channel.
func (e *Endpoint) Rank() int { return e.rank }

// IsController implements Channel.
func (e *Endpoint) IsController() bool { return false }

// BroadcastScene implements Channel.
func (e *Endpoint) BroadcastScene(context.Context, uint64, []byte) error {
	return ErrNotController
}

// NextScene implements Channel.
func (e *Endpoint) NextScene(ctx context.Context) (SceneUpdate, error) {
	for {
		e.mu.Lock()
		if e.hasLatest && e.latest.Version > e.delivered {
			e.delivered = e.latest.Version
			u := e.latest
			e.mu.Unlock()
			return u, nil
		}
		e.mu.Unlock()

		select {
		case <-e.sceneSignal:
		case <-ctx.Done():
			return SceneUpdate{}, ctx.Err()
		case <-e.done:
			return SceneUpdate{}, ErrClosed
		}
	}
}

// VoteReady implements Channel.
func (e *Endpoint) VoteReady(ctx context.Context, v Vote) (bool, error) {
	v.Rank = e.rank
	ch := make(chan bool, 1)

	e.mu.Lock()
	if _, busy := e.votes[v.Frame]; busy {
		e.mu.Unlock()
		return false, fmt.Errorf("collective: vote for frame %d already pending", v.Frame)
	}
	e.votes[v.Frame] = ch
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		if e.votes[v.Frame] == ch {
			delete(e.votes, v.Frame)
		}
		e.mu.Unlock()
	}

	if err := e.sendMsg(ctx, v.message()); err != nil {
		cancel()
		return false, err
	}

	select {
	case ready := <-ch:
		return ready, nil
	case <-ctx.Done():
		cancel()
		select {
		case ready := <-ch:
			return ready, nil
		default:
		}
		e.withdrawVote(v.Frame)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, fmt.Errorf("%w: vote for frame %d", ErrTimeout, v.Frame)
		}
		return false, ctx.Err()
	case <-e.done:
		return false, ErrClosed
	}
}

// withdrawVote tells the hub an abandoned vote must not be counted. Messages on
// a link are ordered, so the withdrawal lands before any later vote.
func (e *Endpoint) withdrawVote(frame uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), withdrawTimeout)
	defer cancel()

	if err := e.sendMsg(ctx, Message{Kind: KindWithdraw, Frame: frame}); err != nil {
		slog.Debug("collective: withdraw vote", "rank", e.rank, "frame", frame, "error", err)
	}
}

// LastDecided implements Channel.
func (e *Endpoint) LastDecided() uint64 { return e.lastDecided.Load() }

// Arrive implements Channel. Only one arrival per group may be pending.
func (e *Endpoint) Arrive(ctx context.Context, group string) error {
	ch := make(chan uint64, 1)

	e.mu.Lock()
	if _, busy := e.arrivals[group]; busy {
		e.mu.Unlock()
		return fmt.Errorf("collective: arrival on %q already pending", group)
	}
	e.arrivals[group] = ch
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		if e.arrivals[group] == ch {
			delete(e.arrivals, group)
		}
		e.mu.Unlock()
	}

	if err := e.sendMsg(ctx, Message{Kind: KindArrive, Group: group}); err != nil {
		cancel()
		return err
	}

	select {
	case gen := <-ch:
		slog.Debug("collective: barrier released", "rank", e.rank, "group", group, "generation", gen)
		return nil
	case <-ctx.Done():
		cancel()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: arrival on %q", ErrTimeout, group)
		}
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

// Expected implements Channel. It reflects the last membership the hub
// announced.
func (e *Endpoint) Expected() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.expected)
}

// Connected reports whether the link to the hub is up.
func (e *Endpoint) Connected() bool { return e.connected.Load() }

// Heartbeat sends a heartbeat every interval until ctx is done or the
// endpoint leaves. Send errors are ignored; the link is repaired elsewhere.
func (e *Endpoint) Heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
		}
		if err := e.sendMsg(ctx, Message{Kind: KindHeartbeat}); errors.Is(err, ErrClosed) {
			return
		}
	}
}

// Leave implements Channel. After Leave every send fails with ErrClosed.
func (e *Endpoint) Leave(ctx context.Context) error {
	err := e.sendMsg(ctx, Message{Kind: KindRankLeave})
	if errors.Is(err, ErrClosed) {
		return nil
	}

	e.mu.Lock()
	e.left = true
	e.mu.Unlock()

	slog.Info("collective: rank left", "rank", e.rank)
	return err
}

// Close implements Channel. Idempotent.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		e.setSend(nil)
		if e.onClose != nil {
			err = e.onClose()
		}
	})
	return err
}
