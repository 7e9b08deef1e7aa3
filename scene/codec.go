package scene

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Encode serializes a scene for the collective channel.
func Encode(s Scene) ([]byte, error) {
	data, err := cbor.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("scene: encode version %d: %w", s.Version, err)
	}
	return data, nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Scene, error) {
	var s Scene
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Scene{}, fmt.Errorf("scene: decode: %w", err)
	}
	return s, nil
}
