package contentsync

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/wallsync/scene"
)

// scriptedSource replays a fixed sequence of fetch results.
type scriptedSource struct {
	steps []fetchResult
	calls int
	last  Texture
}

type fetchResult struct {
	tex   Texture
	ready bool
	err   error
}

func (s *scriptedSource) FetchFrame() (Texture, bool, error) {
	if s.calls >= len(s.steps) {
		s.calls++
		return s.last, false, nil
	}
	r := s.steps[s.calls]
	s.calls++
	if r.err != nil {
		return s.last, false, r.err
	}
	if r.ready {
		s.last = r.tex
	}
	return s.last, r.ready, nil
}

func frame(seq uint64) fetchResult {
	return fetchResult{tex: Texture{Data: []byte{byte(seq)}, Seq: seq}, ready: true}
}

func TestSynchronizer_FaultKeepsLastTexture(t *testing.T) {
	src := &scriptedSource{steps: []fetchResult{
		frame(1), frame(2), frame(3), frame(4),
		{err: errors.New("corrupt packet")},
	}}
	s := NewSynchronizer(uuid.New(), scene.ContentMovie, src, Options{})

	for i := 1; i <= 4; i++ {
		if err := s.Update(); err != nil {
			t.Fatalf("Update %d: unexpected error %v", i, err)
		}
		if !s.HasNewFrame() {
			t.Fatalf("Update %d: expected new frame", i)
		}
	}

	err := s.Update()
	if !errors.Is(err, ErrDataSourceFault) {
		t.Fatalf("Update 5: expected ErrDataSourceFault, got %v", err)
	}
	var fe *FaultError
	if !errors.As(err, &fe) || fe.ContentID != s.ContentID() {
		t.Errorf("Update 5: fault not attributed to content: %v", err)
	}

	if s.HasNewFrame() {
		t.Error("HasNewFrame should be false after a fault")
	}
	tex, ok := s.CurrentTexture()
	if !ok || tex.Seq != 4 {
		t.Errorf("CurrentTexture should still be frame 4, got seq=%d ok=%v", tex.Seq, ok)
	}
	if s.ErrorTile() {
		t.Error("a single fault should not show the error tile")
	}
}

func TestSynchronizer_ErrorTileAfterThreshold(t *testing.T) {
	boom := errors.New("decoder gone")
	src := &scriptedSource{steps: []fetchResult{
		frame(1),
		{err: boom}, {err: boom}, {err: boom},
		frame(2),
	}}
	s := NewSynchronizer(uuid.New(), scene.ContentMovie, src, Options{FaultThreshold: 3})

	s.Update()
	for i := 0; i < 2; i++ {
		s.Update()
		if s.ErrorTile() {
			t.Fatalf("error tile raised after %d faults", i+1)
		}
	}
	s.Update()
	if !s.ErrorTile() {
		t.Fatal("expected error tile after 3 consecutive faults")
	}

	if err := s.Update(); err != nil {
		t.Fatalf("recovery fetch failed: %v", err)
	}
	if s.ErrorTile() {
		t.Error("error tile should clear after a good fetch")
	}
	st := s.Stats()
	if st.Faults != 3 || st.ConsecutiveFaults != 0 || st.Frames != 2 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestSynchronizer_StaticFetchedOnce(t *testing.T) {
	src := &scriptedSource{steps: []fetchResult{frame(1)}}
	s := NewSynchronizer(uuid.New(), scene.ContentImage, src, Options{})

	for i := 0; i < 5; i++ {
		if err := s.Update(); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if src.calls != 1 {
		t.Errorf("static content fetched %d times, want 1", src.calls)
	}
	if s.HasNewFrame() {
		t.Error("HasNewFrame should be false once the static texture is cached")
	}
}

func TestSynchronizer_NoSource(t *testing.T) {
	s := NewSynchronizer(uuid.New(), scene.ContentMovie, nil, Options{})
	if err := s.Update(); err != nil {
		t.Fatalf("Update without source: %v", err)
	}
	if _, ok := s.CurrentTexture(); ok {
		t.Error("expected no texture without a source")
	}
}

func TestSynchronizer_UpdateDoesNotBlock(t *testing.T) {
	src := DataSourceFunc(func() (Texture, bool, error) { return Texture{}, false, nil })
	s := NewSynchronizer(uuid.New(), scene.ContentPixelStream, src, Options{})

	start := time.Now()
	for i := 0; i < 1000; i++ {
		s.Update()
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("1000 updates took %v", elapsed)
	}
}

func TestRegistry_SyncFollowsScene(t *testing.T) {
	store := scene.NewStore()
	sc, err := store.Update(func(sc *scene.Scene) error {
		_, err := sc.AddWindow(scene.Window{
			Content: scene.Content{Type: scene.ContentMovie, URI: "a.mp4"},
			Rect:    scene.Rect{W: 100, H: 100},
		})
		if err != nil {
			return err
		}
		_, err = sc.AddWindow(scene.Window{
			Content: scene.Content{Type: scene.ContentImage, URI: "b.png"},
			Rect:    scene.Rect{X: 100, W: 100, H: 100},
		})
		return err
	})
	if err != nil {
		t.Fatalf("scene update: %v", err)
	}

	r := NewRegistry(Options{})
	ids := make([]uuid.UUID, 0, 2)
	for _, w := range sc.Group.Windows {
		ids = append(ids, w.Content.ID)
	}
	r.Register(ids[0], &scriptedSource{steps: []fetchResult{frame(1)}})

	created, removed := r.Sync(&sc)
	if created != 2 || removed != 0 {
		t.Fatalf("Sync: created=%d removed=%d, want 2/0", created, removed)
	}

	n, err := r.UpdateAll()
	if err != nil {
		t.Fatalf("UpdateAll: %v", err)
	}
	if n != 1 || !r.NeedRedraw() {
		t.Errorf("expected one new frame and a redraw, got n=%d", n)
	}

	sc2, _ := store.Update(func(sc *scene.Scene) error { return sc.RemoveWindow(sc.Group.Windows[0].ID) })
	created, removed = r.Sync(&sc2)
	if created != 0 || removed != 1 || r.Len() != 1 {
		t.Errorf("Sync after removal: created=%d removed=%d len=%d", created, removed, r.Len())
	}
	if _, ok := r.Synchronizer(ids[0]); ok {
		t.Error("synchronizer of removed content should be gone")
	}
}

func TestRegistry_FaultIsolation(t *testing.T) {
	r := NewRegistry(Options{})
	good, bad := uuid.New(), uuid.New()
	r.Register(good, &scriptedSource{steps: []fetchResult{frame(1)}})
	r.Register(bad, DataSourceFunc(func() (Texture, bool, error) {
		return Texture{}, false, errors.New("broken")
	}))

	sc := scene.Scene{Group: scene.DisplayGroup{Windows: []scene.Window{
		{ID: uuid.New(), Content: scene.Content{ID: good, Type: scene.ContentMovie}},
		{ID: uuid.New(), Content: scene.Content{ID: bad, Type: scene.ContentMovie}},
	}}}
	r.Sync(&sc)

	n, err := r.UpdateAll()
	if !errors.Is(err, ErrDataSourceFault) {
		t.Fatalf("expected a data source fault, got %v", err)
	}
	if n != 1 {
		t.Errorf("the healthy content should still get its frame, got %d", n)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": DropOldest, "drop_oldest": DropOldest, "drop_newest": DropNewest} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("fifo"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
