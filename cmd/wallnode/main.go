package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v3"

	"github.com/e7canasta/wallsync/collective"
	"github.com/e7canasta/wallsync/internal/config"
	"github.com/e7canasta/wallsync/internal/core"
)

const defaultConfigPath = "config/wall.yaml"

func main() {
	fs := flag.NewFlagSet("wallnode", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	debug := fs.Bool("debug", false, "Enable debug logging")
	rank := fs.Int("rank", -1, "Override the configured rank (0 = controller)")
	healthListen := fs.String("health-listen", "", "Override the health server address")

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("WALL")); err != nil {
		fmt.Fprintf(os.Stderr, "wallnode: %v\n", err)
		os.Exit(2)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := loadConfig(*configPath, *rank, *healthListen)
	if err != nil {
		slog.Error("failed to load configuration", "config", *configPath, "error", err)
		os.Exit(1)
	}

	slog.Info("starting wall node",
		"config", *configPath,
		"instance_id", cfg.InstanceID,
		"rank", cfg.Rank,
		"debug", *debug,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch, err := openChannel(ctx, cfg)
	if err != nil {
		slog.Error("failed to open collective channel", "error", err)
		os.Exit(1)
	}

	opts := core.Options{}
	if !cfg.IsController() {
		opts.Draw = core.Headless
	}
	node, err := core.New(cfg, ch, opts)
	if err != nil {
		slog.Error("failed to create node", "error", err)
		os.Exit(1)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- node.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-errChan:
		if err != nil {
			slog.Error("node error", "error", err)
		} else {
			slog.Info("node stopped (via control shutdown command)")
		}
	}

	shutdownTimeout := node.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := node.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("wall node stopped successfully")
}

func loadConfig(path string, rank int, healthListen string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if rank >= 0 {
		cfg.Rank = rank
	}
	if healthListen != "" {
		cfg.Health.Listen = healthListen
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openChannel(ctx context.Context, cfg *config.Config) (collective.Channel, error) {
	if cfg.IsController() {
		return collective.NewHub(collective.HubOptions{
			Renderers: cfg.RendererRanks(),
			Grace:     cfg.DepartureGrace(),
		}), nil
	}

	return collective.Dial(ctx, collective.DialOptions{
		URL:       cfg.Collective.ControllerURL,
		Rank:      cfg.Rank,
		Heartbeat: cfg.Collective.Heartbeat,
		Reconnect: collective.ReconnectConfig{
			RetryDelay:    cfg.Collective.RetryDelay,
			MaxRetryDelay: cfg.Collective.MaxRetryDelay,
		},
	})
}
