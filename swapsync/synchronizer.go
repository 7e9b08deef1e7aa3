package swapsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/e7canasta/wallsync/collective"
)

const (
	defaultDegradedAfter = 3
	degradedWarnInterval = 10 * time.Second
	revotePause          = time.Millisecond
)

// Options configures a Synchronizer.
type Options struct {
	// Timeout bounds the quorum wait. Zero means DefaultTimeout.
	Timeout time.Duration

	Mode Mode

	// DegradedAfter is the number of consecutive timeouts after which the node
	// reports itself degraded. Zero means 3.
	DegradedAfter int
}

// Synchronizer is the per-node swap state machine.
type Synchronizer struct {
	voter   Voter
	surface Surface
	opts    Options
	warn    *rate.Limiter

	mu                  sync.Mutex
	state               State
	inProgress          bool
	pendingVersion      uint64
	abort               context.CancelFunc // cancels the pending vote
	aborted             bool
	lastSwapped         uint64
	latestScene         uint64
	frame               uint64
	consecutiveTimeouts int
	stats               Stats
}

// New creates a synchronizer. voter may be nil in ModeHardware.
func New(voter Voter, surface Surface, opts Options) (*Synchronizer, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.DegradedAfter <= 0 {
		opts.DegradedAfter = defaultDegradedAfter
	}
	if voter == nil && opts.Mode == ModeNetwork {
		return nil, fmt.Errorf("swapsync: network mode requires a voter")
	}
	if surface == nil {
		return nil, fmt.Errorf("swapsync: nil surface")
	}

	return &Synchronizer{
		voter:   voter,
		surface: surface,
		opts:    opts,
		warn:    rate.NewLimiter(rate.Every(degradedWarnInterval), 1),
	}, nil
}

// Timeout returns the effective quorum-wait bound.
func (s *Synchronizer) Timeout() time.Duration { return s.opts.Timeout }

// OnSceneVersion records that version was received. Older versions can no
// longer be swapped; a swap pending for an older version is aborted with
// OutOfOrderSwap.
func (s *Synchronizer) OnSceneVersion(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version <= s.latestScene {
		return
	}
	s.latestScene = version

	if s.inProgress && s.pendingVersion < version && s.abort != nil {
		slog.Debug("swapsync: newer scene, aborting pending swap",
			"pending_version", s.pendingVersion,
			"scene_version", version,
		)
		s.aborted = true
		s.abort()
	}
}

// BeginRender marks the start of local rendering for version.
func (s *Synchronizer) BeginRender(version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inProgress {
		return ErrSwapInProgress
	}
	if floor := s.floorLocked(); version < floor {
		return fmt.Errorf("%w: version %d below %d", ErrOutOfOrderSwap, version, floor)
	}
	s.state = StateRendering
	return nil
}

func (s *Synchronizer) floorLocked() uint64 {
	return max(s.lastSwapped, s.latestScene)
}

// RequestSwap reports local rendering of version complete and blocks until
// the swap is released, then swaps the surface.
//
// A not-ready decision re-votes on the next frame until the timeout expires;
// the node then swaps unsynchronized and returns Timeout. If ctx is cancelled
// before release nothing is swapped and ctx.Err() is returned.
func (s *Synchronizer) RequestSwap(ctx context.Context, version uint64) (Outcome, error) {
	start := time.Now()

	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		return OutOfOrderSwap, ErrSwapInProgress
	}
	if floor := s.floorLocked(); version < floor {
		s.stats.OutOfOrder++
		s.state = StateIdle
		s.mu.Unlock()
		slog.Debug("swapsync: out-of-order swap rejected", "version", version, "floor", floor)
		return OutOfOrderSwap, fmt.Errorf("%w: version %d below %d", ErrOutOfOrderSwap, version, floor)
	}

	waitCtx, cancel := context.WithDeadline(ctx, start.Add(s.opts.Timeout))
	defer cancel()

	s.inProgress = true
	s.pendingVersion = version
	s.abort = cancel
	s.aborted = false
	s.state = StateAwaitingQuorum
	s.mu.Unlock()

	outcome := Released
	if s.opts.Mode == ModeNetwork {
		var err error
		outcome, err = s.awaitQuorum(ctx, waitCtx, version)
		if err != nil {
			s.finish(version, outcome, false, time.Since(start), err)
			return outcome, err
		}
	}

	s.mu.Lock()
	s.state = StateReleased
	s.mu.Unlock()

	err := s.surface.SwapBuffers()
	s.finish(version, outcome, true, time.Since(start), nil)
	if err != nil {
		return outcome, fmt.Errorf("swapsync: swap buffers: %w", err)
	}
	return outcome, nil
}

func (s *Synchronizer) awaitQuorum(ctx, waitCtx context.Context, version uint64) (Outcome, error) {
	for {
		// The hub's last decision is the frame counter shared by all ranks.
		frame := s.voter.LastDecided() + 1
		s.mu.Lock()
		s.frame = frame
		s.mu.Unlock()

		ready, err := s.voter.VoteReady(waitCtx, collective.Vote{
			Frame:   frame,
			Rank:    s.voter.Rank(),
			Ready:   true,
			Version: version,
		})

		s.mu.Lock()
		aborted := s.aborted
		s.mu.Unlock()

		switch {
		case aborted:
			return OutOfOrderSwap, fmt.Errorf("%w: newer scene arrived while awaiting quorum for %d", ErrOutOfOrderSwap, version)
		case ctx.Err() != nil:
			return OutOfOrderSwap, ctx.Err()
		case err == nil && ready:
			return Released, nil
		case err == nil:
			if s.voter.LastDecided() < frame {
				// Refused without a decision, e.g. while rejoining.
				select {
				case <-waitCtx.Done():
				case <-time.After(revotePause):
				}
			}
			if ctx.Err() != nil {
				return OutOfOrderSwap, ctx.Err()
			}
			if waitCtx.Err() != nil {
				return Timeout, nil
			}
			slog.Debug("swapsync: frame not ready, re-voting", "frame", frame, "version", version)
			continue
		case errors.Is(err, collective.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			return Timeout, nil
		default:
			// Link trouble: keep the cadence, release at the bound.
			slog.Debug("swapsync: vote failed", "frame", frame, "error", err)
			<-waitCtx.Done()
			if ctx.Err() != nil {
				return OutOfOrderSwap, ctx.Err()
			}
			return Timeout, nil
		}
	}
}

func (s *Synchronizer) finish(version uint64, outcome Outcome, swapped bool, wait time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inProgress = false
	s.abort = nil
	s.state = StateIdle
	s.stats.LastWait = wait

	if !swapped {
		if errors.Is(err, ErrOutOfOrderSwap) {
			s.stats.OutOfOrder++
		}
		return
	}

	s.stats.Swaps++
	s.lastSwapped = max(s.lastSwapped, version)

	switch outcome {
	case Released:
		s.stats.Synchronized++
		if s.stats.Degraded {
			slog.Info("swapsync: synchronized swaps resumed", "frame", s.frame, "version", version)
		}
		s.consecutiveTimeouts = 0
		s.stats.Degraded = false

	case Timeout:
		s.stats.Timeouts++
		s.consecutiveTimeouts++
		if s.consecutiveTimeouts >= s.opts.DegradedAfter {
			s.stats.Degraded = true
			if s.warn.Allow() {
				slog.Warn("swapsync: swaps released unsynchronized",
					"consecutive_timeouts", s.consecutiveTimeouts,
					"timeout", s.opts.Timeout,
					"frame", s.frame,
					"version", version,
				)
			}
		}
	}
}

// State returns the current state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSwapped returns the highest version swapped so far.
func (s *Synchronizer) LastSwapped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSwapped
}

// Degraded reports whether recent swaps kept timing out.
func (s *Synchronizer) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.Degraded
}

// Stats returns a snapshot of the synchronizer.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.State = s.state
	st.Mode = s.opts.Mode
	st.LastSwapped = s.lastSwapped
	st.Frame = s.frame
	return st
}
