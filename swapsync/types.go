package swapsync

import (
	"context"
	"errors"
	"time"

	"github.com/e7canasta/wallsync/collective"
)

var (
	// ErrOutOfOrderSwap is returned with OutOfOrderSwap: the caller must
	// resync to the latest scene version.
	ErrOutOfOrderSwap = errors.New("swapsync: out-of-order swap")

	// ErrSwapInProgress is returned when RequestSwap or BeginRender is called
	// while another swap is awaiting quorum.
	ErrSwapInProgress = errors.New("swapsync: swap in progress")
)

// DefaultTimeout bounds the quorum wait when Options.Timeout is zero.
const DefaultTimeout = 50 * time.Millisecond

// State is the swap state of a node.
type State int

const (
	StateIdle State = iota
	StateRendering
	StateAwaitingQuorum
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRendering:
		return "rendering"
	case StateAwaitingQuorum:
		return "awaiting_quorum"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Outcome is the result of RequestSwap.
type Outcome int

const (
	// Released: every expected rank was ready with the same version.
	Released Outcome = iota
	// Timeout: the quorum wait expired and the node swapped unsynchronized.
	Timeout
	// OutOfOrderSwap: the version is older than one already swapped or
	// announced; nothing was swapped.
	OutOfOrderSwap
)

func (o Outcome) String() string {
	switch o {
	case Released:
		return "released"
	case Timeout:
		return "timeout"
	case OutOfOrderSwap:
		return "out_of_order_swap"
	default:
		return "unknown"
	}
}

// Mode selects how releases are synchronized.
type Mode int

const (
	// ModeNetwork votes through the collective on every swap.
	ModeNetwork Mode = iota
	// ModeHardware trusts a GPU swap group and skips the vote. Version order
	// is still enforced.
	ModeHardware
)

// ParseMode parses "network" or "hardware". Empty means ModeNetwork.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "network":
		return ModeNetwork, true
	case "hardware":
		return ModeHardware, true
	default:
		return ModeNetwork, false
	}
}

func (m Mode) String() string {
	if m == ModeHardware {
		return "hardware"
	}
	return "network"
}

// Voter is the part of collective.Channel the synchronizer needs.
type Voter interface {
	Rank() int
	VoteReady(ctx context.Context, v collective.Vote) (bool, error)
	LastDecided() uint64
}

// Surface performs the actual buffer swap.
type Surface interface {
	SwapBuffers() error
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func() error

// SwapBuffers implements Surface.
func (f SurfaceFunc) SwapBuffers() error { return f() }

// Stats is a snapshot of a synchronizer.
type Stats struct {
	State        State
	Mode         Mode
	Swaps        uint64
	Synchronized uint64
	Timeouts     uint64
	OutOfOrder   uint64
	LastSwapped  uint64
	Frame        uint64
	Degraded     bool
	LastWait     time.Duration
}
