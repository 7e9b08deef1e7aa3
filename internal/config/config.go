package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration of one wall node.
type Config struct {
	InstanceID       string           `yaml:"instance_id"`
	Rank             int              `yaml:"rank"`      // 0 = controller
	Renderers        int              `yaml:"renderers"` // renderer ranks are 1..renderers
	ShutdownTimeoutS int              `yaml:"shutdown_timeout_s"`
	Collective       CollectiveConfig `yaml:"collective"`
	Swap             SwapConfig       `yaml:"swap"`
	Content          ContentConfig    `yaml:"content"`
	Render           RenderConfig     `yaml:"render"`
	Health           HealthConfig     `yaml:"health"`
	MQTT             MQTTConfig       `yaml:"mqtt"`
}

// CollectiveConfig configures the links between controller and renderers.
type CollectiveConfig struct {
	Listen        string         `yaml:"listen"`         // controller: websocket listen address
	Path          string         `yaml:"path"`           // controller: websocket path
	ControllerURL string         `yaml:"controller_url"` // renderer: ws://host:port/path
	Grace         *time.Duration `yaml:"grace"`          // silence before a rank is departed; 0s departs on link loss
	Heartbeat     time.Duration  `yaml:"heartbeat"`
	RetryDelay    time.Duration  `yaml:"retry_delay"`
	MaxRetryDelay time.Duration  `yaml:"max_retry_delay"`
}

// SwapConfig configures the swap synchronizer.
type SwapConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	Mode          string        `yaml:"mode"` // network, hardware
	DegradedAfter int           `yaml:"degraded_after"`
}

// ContentConfig configures content synchronizers.
type ContentConfig struct {
	FaultThreshold int               `yaml:"fault_threshold"`
	Policies       map[string]string `yaml:"policies"` // content type -> drop_oldest | drop_newest
}

// RenderConfig describes the part of the wall this node drives.
type RenderConfig struct {
	FPS      int  `yaml:"fps"`
	TileSize int  `yaml:"tile_size"`
	Area     Area `yaml:"area"`
}

// Area is a rectangle in wall coordinates.
type Area struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	W float64 `yaml:"w"`
	H float64 `yaml:"h"`
}

// HealthConfig configures the HTTP health and metrics server.
type HealthConfig struct {
	Listen string `yaml:"listen"` // empty disables the server
}

// MQTTConfig configures the controller's control plane. An empty broker
// disables it.
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic names.
type MQTTTopics struct {
	Control string `yaml:"control"`
	Status  string `yaml:"status"`
}

// IsController reports whether this node is the controller rank.
func (c *Config) IsController() bool { return c.Rank == 0 }

// DepartureGrace returns how long the controller waits before departing a
// silent rank. Zero departs a rank as soon as its link drops.
func (c *Config) DepartureGrace() time.Duration {
	if c.Collective.Grace == nil {
		return 0
	}
	return *c.Collective.Grace
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// RendererRanks returns 1..Renderers.
func (c *Config) RendererRanks() []int {
	ranks := make([]int, 0, c.Renderers)
	for r := 1; r <= c.Renderers; r++ {
		ranks = append(ranks, r)
	}
	return ranks
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
