package scene

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestStoreUpdateBumpsVersion(t *testing.T) {
	s := NewStore()

	var id uuid.UUID
	sc, err := s.Update(func(sc *Scene) error {
		var err error
		id, err = sc.AddWindow(Window{
			Content: Content{Type: ContentMovie, URI: "file:///clip.mp4", Size: Size{W: 1920, H: 1080}},
			Rect:    Rect{W: 0.5, H: 0.5},
		})
		return err
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if sc.Version != 1 {
		t.Errorf("Expected version 1, got %d", sc.Version)
	}

	// A failing update leaves version and content untouched.
	_, err = s.Update(func(sc *Scene) error { return sc.RemoveWindow(uuid.New()) })
	if !errors.Is(err, ErrWindowNotFound) {
		t.Fatalf("Expected ErrWindowNotFound, got %v", err)
	}
	if got := s.Snapshot().Version; got != 1 {
		t.Errorf("Failed update changed version to %d", got)
	}

	sc, err = s.Update(func(sc *Scene) error { return sc.RemoveWindow(id) })
	if err != nil {
		t.Fatalf("RemoveWindow failed: %v", err)
	}
	if sc.Version != 2 || sc.Group.Len() != 0 {
		t.Errorf("Expected version 2 with no windows, got version %d with %d windows", sc.Version, sc.Group.Len())
	}
}

func TestStoreSnapshotsAreIsolated(t *testing.T) {
	s := NewStore()
	first, _ := s.Update(func(sc *Scene) error {
		_, err := sc.AddWindow(Window{Content: Content{Type: ContentImage}})
		return err
	})

	first.Group.Windows[0].Rect = Rect{X: 42}
	if got := s.Snapshot().Group.Windows[0].Rect.X; got != 0 {
		t.Errorf("Mutating a snapshot leaked into the store: X=%v", got)
	}
}

func TestSetContentAssignsFreshID(t *testing.T) {
	s := NewStore()
	var id uuid.UUID
	sc, _ := s.Update(func(sc *Scene) error {
		var err error
		id, err = sc.AddWindow(Window{Content: Content{Type: ContentPDF, Page: 1}})
		return err
	})
	old := sc.Group.Windows[0].Content.ID

	sc, err := s.Update(func(sc *Scene) error {
		c := sc.Group.Windows[0].Content
		c.Page = 2
		return sc.SetContent(id, c)
	})
	if err != nil {
		t.Fatalf("SetContent failed: %v", err)
	}
	if sc.Group.Windows[0].Content.ID == old {
		t.Error("Replaced content kept its old ID")
	}
}

func TestRaiseWindow(t *testing.T) {
	var sc Scene
	a, _ := sc.AddWindow(Window{Content: Content{Type: ContentImage}})
	b, _ := sc.AddWindow(Window{Content: Content{Type: ContentImage}})

	if err := sc.RaiseWindow(a); err != nil {
		t.Fatalf("RaiseWindow failed: %v", err)
	}
	got := []uuid.UUID{sc.Group.Windows[0].ID, sc.Group.Windows[1].ID}
	if diff := cmp.Diff([]uuid.UUID{b, a}, got); diff != "" {
		t.Errorf("z-order mismatch (-want +got):\n%s", diff)
	}
}

// TestReplicaAcceptsSkippedVersions verifies 7 then 9 is accepted without 8,
// and anything at or below the current version is rejected.
func TestReplicaAcceptsSkippedVersions(t *testing.T) {
	r := NewReplica()

	if err := r.Apply(Scene{Version: 7}); err != nil {
		t.Fatalf("Apply(7) failed: %v", err)
	}
	if err := r.Apply(Scene{Version: 9}); err != nil {
		t.Fatalf("Apply(9) failed: %v", err)
	}
	if err := r.Apply(Scene{Version: 7}); !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("Apply(7) after 9: expected ErrStaleVersion, got %v", err)
	}
	if err := r.Apply(Scene{Version: 9}); !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("Apply(9) twice: expected ErrStaleVersion, got %v", err)
	}
	if got := r.Version(); got != 9 {
		t.Errorf("Expected version 9, got %d", got)
	}
}

func TestTilesBackReference(t *testing.T) {
	var sc Scene
	sc.AddWindow(Window{Content: Content{Type: ContentImage, Size: Size{W: 100, H: 100}}})
	sc.AddWindow(Window{Content: Content{Type: ContentImagePyramid, Size: Size{W: 1000, H: 600}}})

	tiles, err := sc.Group.Tiles(1, 512)
	if err != nil {
		t.Fatalf("Tiles failed: %v", err)
	}
	if len(tiles) != 4 {
		t.Fatalf("Expected 4 tiles, got %d", len(tiles))
	}

	want := Rect{X: 512, Y: 512, W: 488, H: 88}
	if diff := cmp.Diff(want, tiles[3].Rect); diff != "" {
		t.Errorf("last tile mismatch (-want +got):\n%s", diff)
	}

	for _, tile := range tiles {
		w, ok := sc.Group.Owner(tile)
		if !ok || w.ID != sc.Group.Windows[1].ID {
			t.Errorf("tile %d resolves to wrong window", tile.Index)
		}
	}

	if _, err := sc.Group.Tiles(5, 512); err == nil {
		t.Error("Expected error for out-of-range window")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	var sc Scene
	sc.Version = 12
	sc.Background = Background{Color: "#000000"}
	sc.Screen = ScreenSettings{State: ScreenOn, Locked: true}
	sc.AddWindow(Window{
		Content: Content{Type: ContentPixelStream, URI: "stream://viz", Size: Size{W: 3840, H: 2160}},
		Rect:    Rect{X: 0.1, Y: 0.2, W: 0.3, H: 0.4},
	})

	data, err := Encode(sc)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(sc, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	if _, err := Decode([]byte{0xff, 0x00}); err == nil {
		t.Error("Expected error decoding garbage")
	}
}

func TestContentTypes(t *testing.T) {
	for c := ContentInvalid; c <= ContentImage; c++ {
		got, err := ParseContentType(c.String())
		if err != nil || got != c {
			t.Errorf("ParseContentType(%q) = %v, %v", c.String(), got, err)
		}
	}
	if ContentPixelStream.IsFile() || ContentWebbrowser.IsFile() || ContentInvalid.IsFile() {
		t.Error("stream contents reported as files")
	}
	if !ContentMovie.IsFile() || !ContentImagePyramid.IsFile() {
		t.Error("file contents reported as non-files")
	}
	if ContentMovie.TextureType() != TextureDynamic || ContentImage.TextureType() != TextureStatic {
		t.Error("unexpected texture types")
	}
}
