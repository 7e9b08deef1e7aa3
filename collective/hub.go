package collective

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/e7canasta/wallsync/barrier"
)

// HubOptions configures a Hub.
type HubOptions struct {
	// Renderers lists the renderer ranks expected from the start.
	Renderers []int

	// Grace is how long a rank may stay silent (no message, no heartbeat)
	// before it is removed from the expected set. Zero disables silence
	// detection; a dropped link then departs the rank immediately.
	Grace time.Duration

	// Groups are the barrier groups served by Arrive. Empty means
	// barrier.GroupSwap and barrier.GroupControl.
	Groups []string
}

// HubStats is a snapshot of hub counters.
type HubStats struct {
	Expected       int
	Connected      int
	LastDecided    uint64
	PendingRounds  int
	Decisions      uint64
	ReadyDecisions uint64
	Superseded     uint64
	StaleVotes     uint64
	DuplicateVotes uint64
	WithdrawnVotes uint64
	Departures     uint64
	Broadcasts     uint64
}

type round struct {
	expected map[int]struct{}
	votes    map[int]Vote
}

func (r *round) complete() bool {
	return len(r.expected) > 0 && len(r.votes) == len(r.expected)
}

// decision is ready iff every vote is ready and all report the same version.
func (r *round) decision() bool {
	first := true
	var version uint64
	for _, v := range r.votes {
		if !v.Ready {
			return false
		}
		if first {
			version, first = v.Version, false
			continue
		}
		if v.Version != version {
			return false
		}
	}
	return true
}

type peer struct {
	rank int
	out  *outbox
}

// Hub is the controller side of the collective.
//
// It owns the expected set, tallies votes, runs the network barrier and fans
// scene broadcasts out through one FIFO outbox per rank.
type Hub struct {
	opts HubOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	barriers *barrier.Shared
	liveness *ttlcache.Cache[int, struct{}]

	mu          sync.Mutex
	expected    map[int]struct{}
	peers       map[int]*peer
	rounds      map[uint64]*round
	lastDecided uint64
	lastScene   *Message
	closed      bool
	stats       HubStats
}

// NewHub creates a hub expecting opts.Renderers.
func NewHub(opts HubOptions) *Hub {
	if len(opts.Groups) == 0 {
		opts.Groups = []string{barrier.GroupSwap, barrier.GroupControl}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		barriers: barrier.NewShared(len(opts.Renderers), opts.Groups...),
		expected: make(map[int]struct{}, len(opts.Renderers)),
		peers:    make(map[int]*peer),
		rounds:   make(map[uint64]*round),
	}
	for _, r := range opts.Renderers {
		h.expected[r] = struct{}{}
	}

	if opts.Grace > 0 {
		h.liveness = ttlcache.New(ttlcache.WithTTL[int, struct{}](opts.Grace))
		h.liveness.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[int, struct{}]) {
			if reason != ttlcache.EvictionReasonExpired {
				return
			}
			// Evictions run under the cache's lock.
			go h.depart(item.Key(), "silent for grace period")
		})
		// Ranks that never say hello expire like silent ones.
		for _, r := range opts.Renderers {
			h.liveness.Set(r, struct{}{}, ttlcache.DefaultTTL)
		}
		go h.liveness.Start()
	}

	slog.Info("collective: hub started",
		"renderers", opts.Renderers,
		"grace", opts.Grace,
		"groups", opts.Groups,
	)
	return h
}

func participant(rank int) string { return strconv.Itoa(rank) }

// Attach connects a rank's link. Messages for the rank are delivered through
// send, in order, from a dedicated goroutine. A rank that is not expected is
// re-admitted for future rounds. The returned func detaches the link.
func (h *Hub) Attach(rank int, send SendFunc) (detach func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return func() {}
	}

	if old, ok := h.peers[rank]; ok {
		slog.Warn("collective: rank reattached, replacing link", "rank", rank)
		old.out.close()
	}

	p := &peer{rank: rank, out: newOutbox()}
	h.peers[rank] = p
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := p.out.drain(h.ctx, send); err != nil {
			slog.Warn("collective: send failed, dropping link", "rank", rank, "error", err)
			h.detach(p)
		}
	}()

	h.admitLocked(rank)
	h.touchLocked(rank)

	p.out.push(Message{
		Kind:        KindHello,
		Rank:        rank,
		LastDecided: h.lastDecided,
		Expected:    h.expectedLocked(),
	})
	if h.lastScene != nil {
		p.out.push(*h.lastScene)
	}

	slog.Info("collective: rank attached", "rank", rank, "expected", h.expectedLocked())
	return func() { h.detach(p) }
}

func (h *Hub) detach(p *peer) {
	h.mu.Lock()
	current, ok := h.peers[p.rank]
	if !ok || current != p {
		h.mu.Unlock()
		p.out.close()
		return
	}
	delete(h.peers, p.rank)
	p.out.close()
	grace := h.liveness != nil
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return
	}
	slog.Info("collective: rank link lost", "rank", p.rank)
	if !grace {
		h.depart(p.rank, "link lost")
	}
}

// Handle processes one message received from rank.
func (h *Hub) Handle(rank int, m Message) {
	switch m.Kind {
	case KindHeartbeat, KindHello:
		h.mu.Lock()
		if _, attached := h.peers[rank]; attached {
			h.admitLocked(rank)
		}
		h.touchLocked(rank)
		h.mu.Unlock()

	case KindVote:
		v := Vote{Frame: m.Frame, Rank: rank, Ready: m.Ready, Version: m.Version}
		h.tally(v)

	case KindWithdraw:
		h.withdrawVote(rank, m.Frame)

	case KindRankLeave:
		h.depart(rank, "leave")

	case KindArrive:
		h.mu.Lock()
		h.touchLocked(rank)
		if h.closed {
			h.mu.Unlock()
			return
		}
		h.wg.Add(1)
		h.mu.Unlock()
		go func() {
			defer h.wg.Done()
			h.arrive(rank, m.Group)
		}()

	default:
		slog.Warn("collective: unexpected message from rank", "rank", rank, "kind", m.Kind)
	}
}

func (h *Hub) tally(v Vote) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.touchLocked(v.Rank)

	if _, ok := h.expected[v.Rank]; !ok {
		slog.Debug("collective: vote from rank outside expected set", "rank", v.Rank, "frame", v.Frame)
		h.replyLocked(v.Rank, v.Frame, false)
		return
	}

	if v.Frame <= h.lastDecided {
		h.stats.StaleVotes++
		slog.Debug("collective: stale vote ignored",
			"rank", v.Rank,
			"frame", v.Frame,
			"last_decided", h.lastDecided,
		)
		h.replyLocked(v.Rank, v.Frame, false)
		return
	}

	r, ok := h.rounds[v.Frame]
	if !ok {
		r = &round{
			expected: make(map[int]struct{}, len(h.expected)),
			votes:    make(map[int]Vote, len(h.expected)),
		}
		for rank := range h.expected {
			r.expected[rank] = struct{}{}
		}
		h.rounds[v.Frame] = r
	}

	if _, ok := r.expected[v.Rank]; !ok {
		// Re-admitted after this round opened.
		h.replyLocked(v.Rank, v.Frame, false)
		return
	}
	if _, dup := r.votes[v.Rank]; dup {
		h.stats.DuplicateVotes++
		slog.Warn("collective: duplicate vote ignored", "rank", v.Rank, "frame", v.Frame)
		return
	}

	r.votes[v.Rank] = v
	if r.complete() {
		h.decideLocked(v.Frame)
	}
}

// withdrawVote drops an abandoned vote so a later round for the same frame
// only counts votes whose senders are still waiting.
func (h *Hub) withdrawVote(rank int, frame uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.touchLocked(rank)
	r, ok := h.rounds[frame]
	if !ok {
		return
	}
	if _, voted := r.votes[rank]; !voted {
		return
	}
	delete(r.votes, rank)
	h.stats.WithdrawnVotes++
	if len(r.votes) == 0 {
		delete(h.rounds, frame)
	}
	slog.Debug("collective: vote withdrawn", "rank", rank, "frame", frame)
}

// decideLocked decides frame and supersedes every pending round below it.
func (h *Hub) decideLocked(frame uint64) {
	r := h.rounds[frame]
	delete(h.rounds, frame)

	ready := r.decision()
	h.lastDecided = frame
	h.stats.Decisions++
	if ready {
		h.stats.ReadyDecisions++
	} else {
		slog.Debug("collective: frame decided not ready", "frame", frame, "votes", len(r.votes))
	}
	for rank := range r.votes {
		h.replyLocked(rank, frame, ready)
	}

	for f, pending := range h.rounds {
		if f >= frame {
			continue
		}
		delete(h.rounds, f)
		h.stats.Superseded++
		for rank := range pending.votes {
			h.replyLocked(rank, f, false)
		}
	}
}

func (h *Hub) replyLocked(rank int, frame uint64, ready bool) {
	p, ok := h.peers[rank]
	if !ok {
		return
	}
	p.out.push(Message{Kind: KindDecision, Frame: frame, Ready: ready, LastDecided: h.lastDecided})
}

func (h *Hub) arrive(rank int, group string) {
	gen, err := h.barriers.Arrive(h.ctx, group, participant(rank))
	switch {
	case errors.Is(err, barrier.ErrProtocolViolation):
		// Already waiting in this generation; the pending arrival answers.
		slog.Debug("collective: repeated arrival", "rank", rank, "group", group)
		return
	case err != nil:
		if h.ctx.Err() == nil {
			slog.Warn("collective: arrival failed", "rank", rank, "group", group, "error", err)
		}
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.peers[rank]; ok {
		p.out.push(Message{Kind: KindRelease, Group: group, Generation: gen})
	}
}

// depart removes rank from the expected set and from every pending round and
// barrier generation, then re-evaluates them.
func (h *Hub) depart(rank int, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if _, ok := h.expected[rank]; !ok {
		return
	}
	delete(h.expected, rank)
	h.stats.Departures++
	if h.liveness != nil {
		h.liveness.Delete(rank)
	}

	slog.Warn("collective: rank departed",
		"rank", rank,
		"reason", reason,
		"expected", h.expectedLocked(),
	)

	h.barriers.Withdraw(participant(rank))
	h.barriers.SetQuorum(len(h.expected))

	frames := make([]uint64, 0, len(h.rounds))
	for f, r := range h.rounds {
		delete(r.expected, rank)
		delete(r.votes, rank)
		frames = append(frames, f)
	}
	slices.Sort(frames)
	for _, f := range frames {
		r, ok := h.rounds[f]
		if !ok {
			continue
		}
		if len(r.expected) == 0 {
			delete(h.rounds, f)
			continue
		}
		if r.complete() {
			h.decideLocked(f)
		}
	}

	h.broadcastLocked(Message{Kind: KindRankLeave, Rank: rank, Expected: h.expectedLocked()})
}

func (h *Hub) admitLocked(rank int) {
	if _, ok := h.expected[rank]; ok {
		return
	}
	h.expected[rank] = struct{}{}
	h.barriers.SetQuorum(len(h.expected))
	slog.Info("collective: rank rejoined", "rank", rank, "expected", h.expectedLocked())
	h.broadcastLocked(Message{Kind: KindHello, Rank: rank, Expected: h.expectedLocked()})
}

func (h *Hub) touchLocked(rank int) {
	if h.liveness == nil {
		return
	}
	if _, ok := h.expected[rank]; ok {
		h.liveness.Set(rank, struct{}{}, ttlcache.DefaultTTL)
	}
}

func (h *Hub) broadcastLocked(m Message) {
	for _, p := range h.peers {
		p.out.push(m)
	}
}

func (h *Hub) expectedLocked() []int {
	out := make([]int, 0, len(h.expected))
	for r := range h.expected {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Rank implements Channel.
func (h *Hub) Rank() int { return ControllerRank }

// IsController implements Channel.
func (h *Hub) IsController() bool { return true }

// BroadcastScene implements Channel. Versions must increase strictly.
func (h *Hub) BroadcastScene(ctx context.Context, version uint64, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if h.lastScene != nil && version <= h.lastScene.Version {
		return fmt.Errorf("%w: %d after %d", ErrStaleScene, version, h.lastScene.Version)
	}

	m := Message{Kind: KindSceneUpdate, Version: version, Payload: payload}
	h.lastScene = &m
	h.stats.Broadcasts++
	h.broadcastLocked(m)

	slog.Debug("collective: scene broadcast", "version", version, "bytes", len(payload), "ranks", len(h.peers))
	return nil
}

// NextScene implements Channel.
func (h *Hub) NextScene(context.Context) (SceneUpdate, error) {
	return SceneUpdate{}, ErrNotRenderer
}

// VoteReady implements Channel.
func (h *Hub) VoteReady(context.Context, Vote) (bool, error) {
	return false, ErrNotRenderer
}

// Arrive implements Channel.
func (h *Hub) Arrive(context.Context, string) error { return ErrNotRenderer }

// LastDecided implements Channel.
func (h *Hub) LastDecided() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastDecided
}

// Expected implements Channel.
func (h *Hub) Expected() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.expectedLocked()
}

// Connected returns the ranks with a live link, sorted.
func (h *Hub) Connected() []int {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]int, 0, len(h.peers))
	for r := range h.peers {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.stats
	st.Expected = len(h.expected)
	st.Connected = len(h.peers)
	st.LastDecided = h.lastDecided
	st.PendingRounds = len(h.rounds)
	return st
}

// Leave implements Channel. The controller leaving shuts the hub down.
func (h *Hub) Leave(context.Context) error { return h.Close() }

// Close stops the hub, drops every link and releases barrier waiters.
// Idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for _, p := range h.peers {
		p.out.close()
	}
	h.peers = make(map[int]*peer)
	h.mu.Unlock()

	h.cancel()
	h.barriers.Close()
	if h.liveness != nil {
		h.liveness.Stop()
	}
	h.wg.Wait()

	slog.Info("collective: hub stopped")
	return nil
}
