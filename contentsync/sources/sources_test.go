package sources

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"testing"
	"time"

	"github.com/e7canasta/wallsync/contentsync"
	"github.com/e7canasta/wallsync/scene"
)

func TestStream_DropOldest(t *testing.T) {
	s := NewStream(contentsync.DropOldest)

	for i := 0; i < 3; i++ {
		if !s.Publish(contentsync.Texture{Data: []byte{byte(i)}}) {
			t.Fatalf("DropOldest should accept frame %d", i)
		}
	}

	tex, ready, err := s.FetchFrame()
	if err != nil || !ready {
		t.Fatalf("FetchFrame: ready=%v err=%v", ready, err)
	}
	if tex.Data[0] != 2 || tex.Seq != 3 {
		t.Errorf("expected latest frame (data=2 seq=3), got data=%d seq=%d", tex.Data[0], tex.Seq)
	}

	if _, ready, _ := s.FetchFrame(); ready {
		t.Error("second fetch without publish should not be ready")
	}

	st := s.Stats()
	if st.Published != 3 || st.Dropped != 2 || st.Consumed != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestStream_DropNewest(t *testing.T) {
	s := NewStream(contentsync.DropNewest)

	s.Publish(contentsync.Texture{Data: []byte{1}})
	if s.Publish(contentsync.Texture{Data: []byte{2}}) {
		t.Error("DropNewest should reject a frame while one is unconsumed")
	}

	tex, _, _ := s.FetchFrame()
	if tex.Data[0] != 1 {
		t.Errorf("expected the first frame to survive, got %d", tex.Data[0])
	}
}

func TestStream_FaultReportedOnce(t *testing.T) {
	s := NewStream(contentsync.DropOldest)
	s.Publish(contentsync.Texture{Data: []byte{7}})
	s.FetchFrame()

	boom := errors.New("decode failed")
	s.Fail(boom)

	tex, ready, err := s.FetchFrame()
	if !errors.Is(err, boom) || !errors.Is(err, contentsync.ErrDataSourceFault) || ready {
		t.Fatalf("expected wrapped fault, got ready=%v err=%v", ready, err)
	}
	if tex.Data[0] != 7 {
		t.Error("fault should return the last good texture")
	}
	if _, _, err := s.FetchFrame(); err != nil {
		t.Errorf("fault should be reported once, got %v", err)
	}
}

func TestStream_Closed(t *testing.T) {
	s := NewStream(contentsync.DropOldest)
	s.Close()
	s.Close()

	if s.Publish(contentsync.Texture{}) {
		t.Error("Publish after Close should be dropped")
	}
	if _, _, err := s.FetchFrame(); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed, got %v", err)
	}
}

func checkerboard(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func TestStatic_ReadyOnce(t *testing.T) {
	s := NewStatic(checkerboard(4, 3))

	tex, ready, err := s.FetchFrame()
	if err != nil || !ready {
		t.Fatalf("first fetch: ready=%v err=%v", ready, err)
	}
	if tex.Width != 4 || tex.Height != 3 || len(tex.Data) != 4*3*4 {
		t.Errorf("unexpected texture %dx%d len=%d", tex.Width, tex.Height, len(tex.Data))
	}
	if _, ready, _ := s.FetchFrame(); ready {
		t.Error("static image should only be ready once")
	}
}

func TestPyramid_Levels(t *testing.T) {
	p, err := NewPyramid(checkerboard(100, 60), 32, 2)
	if err != nil {
		t.Fatalf("NewPyramid: %v", err)
	}
	if p.Levels() != 3 {
		t.Fatalf("expected 3 levels, got %d", p.Levels())
	}

	tex, ready, _ := p.FetchFrame()
	if !ready {
		t.Fatal("first fetch should be ready")
	}
	// 100x60 in 32px tiles: 4 columns x 2 rows.
	if len(tex.Tiles) != 8 {
		t.Errorf("LOD 0: expected 8 tiles, got %d", len(tex.Tiles))
	}

	if _, ready, _ := p.FetchFrame(); ready {
		t.Error("unchanged LOD should not be ready")
	}

	p.SetLOD(2)
	tex, ready, _ = p.FetchFrame()
	if !ready {
		t.Fatal("LOD change should produce a new frame")
	}
	// 25x15 fits one tile, covering the full image at LOD 0 coordinates.
	if tex.Width != 25 || tex.Height != 15 || len(tex.Tiles) != 1 {
		t.Fatalf("LOD 2: %dx%d tiles=%d", tex.Width, tex.Height, len(tex.Tiles))
	}
	if r := tex.Tiles[0].Rect; r.W != 100 || r.H != 60 {
		t.Errorf("LOD 2 tile should map to 100x60, got %v", r)
	}

	p.SetLOD(99)
	if tex, _, _ := p.FetchFrame(); tex.Tiles[0].LOD != 2 {
		t.Error("SetLOD should clamp to the coarsest level")
	}
}

func TestPyramid_InvalidArgs(t *testing.T) {
	img := checkerboard(8, 8)
	if _, err := NewPyramid(img, 0, 1); err == nil {
		t.Error("expected error for zero tile size")
	}
	if _, err := NewPyramid(img, 4, -1); err == nil {
		t.Error("expected error for negative LOD")
	}
}

func TestGenerator_PublishesFrames(t *testing.T) {
	g := NewGenerator(5*time.Millisecond, contentsync.DropOldest,
		func(ctx context.Context, frame uint64) (contentsync.Texture, error) {
			return contentsync.Texture{Data: []byte{byte(frame)}}, nil
		})

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Stop()

	if err := g.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	deadline := time.After(time.Second)
	for {
		_, ready, err := g.FetchFrame()
		if err != nil {
			t.Fatalf("FetchFrame: %v", err)
		}
		if ready {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no frame produced within 1s")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestGenerator_StopClosesStream(t *testing.T) {
	g := NewGenerator(time.Millisecond, contentsync.DropOldest,
		func(ctx context.Context, frame uint64) (contentsync.Texture, error) {
			return contentsync.Texture{}, nil
		})
	g.Start(context.Background())
	g.Stop()
	g.Stop()

	if _, _, err := g.FetchFrame(); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed after Stop, got %v", err)
	}
}

// fetchWithin polls s until it hands out a frame or an error.
func fetchWithin(t *testing.T, s *Stream, d time.Duration) (contentsync.Texture, error) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		tex, ready, err := s.FetchFrame()
		if ready || err != nil {
			return tex, err
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no frame within deadline")
	return contentsync.Texture{}, nil
}

func TestPipe_PublishesFramesAndFaults(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewStream(contentsync.DropOldest)
	done := make(chan error, 1)
	go func() { done <- ReadPipe(context.Background(), pr, s) }()

	frame := PipeFrame{Format: "yuv420", Width: 2, Height: 2, Data: []byte{1, 2, 3, 4, 5, 6}}
	if err := WritePipeFrame(pw, frame); err != nil {
		t.Fatalf("WritePipeFrame: %v", err)
	}
	tex, err := fetchWithin(t, s, time.Second)
	if err != nil {
		t.Fatalf("FetchFrame: %v", err)
	}
	if tex.Format != scene.FormatYUV420 || tex.Width != 2 || !bytes.Equal(tex.Data, frame.Data) {
		t.Errorf("unexpected texture: %+v", tex)
	}

	if err := WritePipeFrame(pw, PipeFrame{Error: "codec error"}); err != nil {
		t.Fatalf("WritePipeFrame: %v", err)
	}
	tex, err = fetchWithin(t, s, time.Second)
	if !errors.Is(err, contentsync.ErrDataSourceFault) {
		t.Errorf("producer error: got %v, want ErrDataSourceFault", err)
	}
	if tex.Seq != 1 {
		t.Errorf("fault should keep the last good frame, got seq %d", tex.Seq)
	}

	pw.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ReadPipe at EOF: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ReadPipe did not return at EOF")
	}
	if _, _, err := s.FetchFrame(); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("stream should be closed after EOF, got %v", err)
	}
}

func TestPipe_OversizedFrameRejected(t *testing.T) {
	s := NewStream(contentsync.DropOldest)
	err := ReadPipe(context.Background(), bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}), s)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}
