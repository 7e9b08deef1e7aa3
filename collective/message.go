package collective

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Kind identifies a wire message.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindHello
	KindHeartbeat
	KindSceneUpdate
	KindVote
	KindDecision
	KindRankLeave
	KindArrive
	KindRelease
	KindWithdraw
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindSceneUpdate:
		return "SCENE_UPDATE"
	case KindVote:
		return "VOTE"
	case KindDecision:
		return "DECISION"
	case KindRankLeave:
		return "RANK_LEAVE"
	case KindArrive:
		return "ARRIVE"
	case KindRelease:
		return "RELEASE"
	case KindWithdraw:
		return "WITHDRAW"
	default:
		return "INVALID"
	}
}

// Message is the single envelope exchanged between hub and endpoints. Which
// fields are meaningful depends on Kind.
type Message struct {
	Kind        Kind   `cbor:"1,keyasint"`
	Rank        int    `cbor:"2,keyasint,omitempty"`
	Frame       uint64 `cbor:"3,keyasint,omitempty"`
	Ready       bool   `cbor:"4,keyasint,omitempty"`
	Version     uint64 `cbor:"5,keyasint,omitempty"`
	Payload     []byte `cbor:"6,keyasint,omitempty"`
	Group       string `cbor:"7,keyasint,omitempty"`
	Generation  uint64 `cbor:"8,keyasint,omitempty"`
	LastDecided uint64 `cbor:"9,keyasint,omitempty"`
	Expected    []int  `cbor:"10,keyasint,omitempty"`
}

// SendFunc delivers one message to the other side of a link.
type SendFunc func(ctx context.Context, m Message) error

// SceneUpdate is a scene broadcast as seen by a renderer.
type SceneUpdate struct {
	Version uint64
	Payload []byte
}

// Vote is one rank's swap readiness for one frame.
type Vote struct {
	Frame   uint64
	Rank    int
	Ready   bool
	Version uint64
}

func (v Vote) message() Message {
	return Message{Kind: KindVote, Frame: v.Frame, Rank: v.Rank, Ready: v.Ready, Version: v.Version}
}

// Encode serializes a message as CBOR.
func Encode(m Message) ([]byte, error) {
	data, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("collective: encode %s: %w", m.Kind, err)
	}
	return data, nil
}

// Decode parses a CBOR message and rejects unknown kinds.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := cbor.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if m.Kind == KindInvalid || m.Kind > KindWithdraw {
		return Message{}, fmt.Errorf("%w: unknown kind %d", ErrBadMessage, m.Kind)
	}
	return m, nil
}
