package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/e7canasta/wallsync/contentsync"
	"github.com/e7canasta/wallsync/scene"
)

const rendererYAML = `
instance_id: wall-a
rank: 2
renderers: 3
collective:
  controller_url: ws://controller:7700/collective
  heartbeat: 200ms
swap:
  timeout: 80ms
  mode: network
content:
  fault_threshold: 5
  policies:
    movie: drop_oldest
    pixel_stream: drop_newest
render:
  area: {x: 1920, y: 0, w: 1920, h: 1080}
`

func TestLoad_RendererDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wall.yaml")
	if err := os.WriteFile(path, []byte(rendererYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.IsController() {
		t.Error("rank 2 should not be the controller")
	}
	if cfg.Swap.Timeout != 80*time.Millisecond {
		t.Errorf("swap.timeout = %v", cfg.Swap.Timeout)
	}
	if cfg.DepartureGrace() != 600*time.Millisecond {
		t.Errorf("grace default = %v, want 3x heartbeat", cfg.DepartureGrace())
	}
	if cfg.ShutdownTimeout() != 5*time.Second || cfg.Render.FPS != 60 || cfg.Render.TileSize != 512 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, cfg.RendererRanks()); diff != "" {
		t.Errorf("RendererRanks mismatch (-want +got):\n%s", diff)
	}

	opts, err := cfg.ContentOptions()
	if err != nil {
		t.Fatalf("ContentOptions: %v", err)
	}
	if opts.FaultThreshold != 5 || opts.PolicyFor(scene.ContentPixelStream) != contentsync.DropNewest {
		t.Errorf("unexpected content options: %+v", opts)
	}
	if opts.PolicyFor(scene.ContentDynamicTexture) != contentsync.DropOldest {
		t.Error("unlisted types should default to drop_oldest")
	}
}

func TestParse_ControllerDefaults(t *testing.T) {
	cfg, err := Parse([]byte("instance_id: wall-a\nrank: 0\nrenderers: 2\nmqtt:\n  broker: localhost:1883\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Collective.Listen != ":7700" || cfg.Collective.Path != "/collective" {
		t.Errorf("collective defaults: %+v", cfg.Collective)
	}
	if cfg.Swap.Timeout != 50*time.Millisecond {
		t.Errorf("default swap timeout = %v", cfg.Swap.Timeout)
	}
	if cfg.MQTT.Topics.Control != "wall/control/wall-a" || cfg.MQTT.Topics.Status != "wall/status/wall-a" {
		t.Errorf("mqtt topics: %+v", cfg.MQTT.Topics)
	}
}

func TestParse_ZeroGraceDepartsOnLinkLoss(t *testing.T) {
	cfg, err := Parse([]byte("instance_id: a\nrenderers: 1\ncollective:\n  grace: 0s\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DepartureGrace() != 0 {
		t.Errorf("explicit 0s grace rewritten to %v", cfg.DepartureGrace())
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing instance", "rank: 0\nrenderers: 1\n", "instance_id is required"},
		{"bad instance", "instance_id: Wall_A\nrenderers: 1\n", "instance_id must match"},
		{"no renderers", "instance_id: a\n", "renderers must be > 0"},
		{"rank out of range", "instance_id: a\nrenderers: 2\nrank: 3\n", "rank must be in"},
		{"renderer without url", "instance_id: a\nrenderers: 2\nrank: 1\n", "controller_url is required"},
		{"grace below heartbeat", "instance_id: a\nrenderers: 1\ncollective:\n  heartbeat: 1s\n  grace: 500ms\n", "grace"},
		{"bad mode", "instance_id: a\nrenderers: 1\nswap:\n  mode: vsync\n", "swap.mode"},
		{"bad policy", "instance_id: a\nrenderers: 1\ncontent:\n  policies:\n    movie: fifo\n", "unknown policy"},
		{"bad content type", "instance_id: a\nrenderers: 1\ncontent:\n  policies:\n    hologram: drop_oldest\n", "unknown content type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}
