package collective

import "context"

// ControllerRank is the rank of the controller process.
const ControllerRank = 0

// Channel is the node's view of the collective.
//
// Controller-only: BroadcastScene. Renderer-only: NextScene, VoteReady,
// Arrive. Calling the wrong side returns ErrNotController or ErrNotRenderer.
type Channel interface {
	Rank() int
	IsController() bool

	// BroadcastScene delivers a scene version to every renderer, in call order.
	BroadcastScene(ctx context.Context, version uint64, payload []byte) error

	// NextScene blocks until a scene newer than the last returned one is
	// available. Intermediate versions may be skipped, never reordered.
	NextScene(ctx context.Context) (SceneUpdate, error)

	// VoteReady submits a vote and blocks until the decision for v.Frame.
	// A ctx deadline maps to ErrTimeout.
	VoteReady(ctx context.Context, v Vote) (bool, error)

	// LastDecided is the highest frame number decided by the hub so far.
	LastDecided() uint64

	// Arrive blocks until every expected renderer arrived on group.
	Arrive(ctx context.Context, group string) error

	// Expected returns the ranks currently expected to vote, sorted.
	Expected() []int

	// Leave announces a graceful departure.
	Leave(ctx context.Context) error

	Close() error
}

var (
	_ Channel = (*Hub)(nil)
	_ Channel = (*Endpoint)(nil)
)
