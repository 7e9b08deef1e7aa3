package sources

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/wallsync/contentsync"
	"github.com/e7canasta/wallsync/scene"
)

// MaxPipeFrame bounds one frame read from a pipe.
const MaxPipeFrame = 64 << 20

// ErrFrameTooLarge is returned for a length prefix above MaxPipeFrame.
var ErrFrameTooLarge = errors.New("sources: pipe frame too large")

// PipeFrame is one frame written by an external producer (a decoder process,
// a pixel-streaming client).
//
// On the wire every frame is a 4-byte big-endian length followed by the
// msgpack encoding of PipeFrame.
type PipeFrame struct {
	Format string `msgpack:"format"` // rgba, yuv420, yuv422, yuv444; empty means rgba
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Data   []byte `msgpack:"data"`

	// Error reports a producer-side decode failure instead of a frame.
	Error string `msgpack:"error,omitempty"`
}

func parseFormat(s string) (scene.TextureFormat, error) {
	switch s {
	case "", "rgba":
		return scene.FormatRGBA, nil
	case "yuv420":
		return scene.FormatYUV420, nil
	case "yuv422":
		return scene.FormatYUV422, nil
	case "yuv444":
		return scene.FormatYUV444, nil
	default:
		return 0, fmt.Errorf("sources: unknown texture format %q", s)
	}
}

// WritePipeFrame writes one length-prefixed frame to w.
func WritePipeFrame(w io.Writer, f PipeFrame) error {
	data, err := msgpack.Marshal(&f)
	if err != nil {
		return fmt.Errorf("sources: marshal pipe frame: %w", err)
	}
	if len(data) > MaxPipeFrame {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("sources: write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("sources: write pipe frame: %w", err)
	}
	return nil
}

// ReadPipe reads frames from r and publishes them to s until r reaches EOF,
// ctx is done or the framing breaks. A frame that does not decode is reported
// through s.Fail and skipped; the stream is closed on return.
//
// Cancelling ctx only takes effect between frames; close r to interrupt a
// blocked read.
func ReadPipe(ctx context.Context, r io.Reader, s *Stream) error {
	defer s.Close()

	br := bufio.NewReader(r)
	var prefix [4]byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := io.ReadFull(br, prefix[:]); err != nil {
			if errors.Is(err, io.EOF) {
				slog.Debug("sources: pipe closed")
				return nil
			}
			return fmt.Errorf("sources: read length prefix: %w", err)
		}

		n := binary.BigEndian.Uint32(prefix[:])
		if n > MaxPipeFrame {
			return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(br, data); err != nil {
			return fmt.Errorf("sources: read pipe frame (%d bytes): %w", n, err)
		}

		var f PipeFrame
		if err := msgpack.Unmarshal(data, &f); err != nil {
			slog.Warn("sources: undecodable pipe frame", "bytes", n, "error", err)
			s.Fail(err)
			continue
		}
		if f.Error != "" {
			s.Fail(errors.New(f.Error))
			continue
		}
		format, err := parseFormat(f.Format)
		if err != nil {
			s.Fail(err)
			continue
		}

		s.Publish(contentsync.Texture{
			Format: format,
			Width:  f.Width,
			Height: f.Height,
			Data:   f.Data,
		})
	}
}
