package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/e7canasta/wallsync/contentsync"
	"github.com/e7canasta/wallsync/scene"
	"github.com/e7canasta/wallsync/swapsync"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in defaults.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.Renderers <= 0 {
		return fmt.Errorf("renderers must be > 0")
	}
	if cfg.Rank < 0 || cfg.Rank > cfg.Renderers {
		return fmt.Errorf("rank must be in [0, %d], got %d", cfg.Renderers, cfg.Rank)
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateCollective(cfg); err != nil {
		return fmt.Errorf("collective: %w", err)
	}

	if cfg.Swap.Timeout < 0 {
		return fmt.Errorf("swap.timeout must be >= 0")
	}
	if cfg.Swap.Timeout == 0 {
		cfg.Swap.Timeout = swapsync.DefaultTimeout
	}
	if _, ok := swapsync.ParseMode(cfg.Swap.Mode); !ok {
		return fmt.Errorf("swap.mode must be 'network' or 'hardware', got %q", cfg.Swap.Mode)
	}
	if cfg.Swap.DegradedAfter <= 0 {
		cfg.Swap.DegradedAfter = 3
	}

	if _, err := cfg.ContentOptions(); err != nil {
		return fmt.Errorf("content: %w", err)
	}

	if cfg.Render.FPS <= 0 {
		cfg.Render.FPS = 60
	}
	if cfg.Render.TileSize <= 0 {
		cfg.Render.TileSize = 512
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("wall/control/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Status == "" {
			cfg.MQTT.Topics.Status = fmt.Sprintf("wall/status/%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{
				"control": 1,
				"status":  0,
			}
		}
	}

	return nil
}

func validateCollective(cfg *Config) error {
	c := &cfg.Collective
	if c.Path == "" {
		c.Path = "/collective"
	}
	if cfg.IsController() {
		if c.Listen == "" {
			c.Listen = ":7700"
		}
	} else if c.ControllerURL == "" {
		return fmt.Errorf("controller_url is required on renderer ranks")
	}

	if c.Heartbeat <= 0 {
		c.Heartbeat = time.Second
	}
	if c.Grace == nil {
		grace := 3 * c.Heartbeat
		c.Grace = &grace
	}
	if g := *c.Grace; g < 0 || (g > 0 && g < c.Heartbeat) {
		return fmt.Errorf("grace (%v) must be 0 or >= heartbeat (%v)", g, c.Heartbeat)
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 5 * time.Second
	}
	return nil
}

// ContentOptions converts the content section into synchronizer options.
func (c *Config) ContentOptions() (contentsync.Options, error) {
	opts := contentsync.Options{
		FaultThreshold: c.Content.FaultThreshold,
		Policies:       make(map[scene.ContentType]contentsync.Policy, len(c.Content.Policies)),
	}
	for name, p := range c.Content.Policies {
		typ, err := scene.ParseContentType(name)
		if err != nil || typ == scene.ContentInvalid {
			return opts, fmt.Errorf("unknown content type %q", name)
		}
		policy, err := contentsync.ParsePolicy(p)
		if err != nil {
			return opts, err
		}
		opts.Policies[typ] = policy
	}
	return opts, nil
}
