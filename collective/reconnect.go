package collective

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReconnectConfig configures exponential backoff for renderer links.
type ReconnectConfig struct {
	MaxRetries    int           // 0 retries forever
	RetryDelay    time.Duration // initial delay (default: 100ms)
	MaxRetryDelay time.Duration // delay cap (default: 5s)
}

// DefaultReconnectConfig returns the default reconnection configuration.
// A wall renderer never gives up on its controller.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    0,
		RetryDelay:    100 * time.Millisecond,
		MaxRetryDelay: 5 * time.Second,
	}
}

type reconnectState struct {
	currentRetries int
	reconnects     uint32 // atomic, total attempts
}

type connectFunc func(ctx context.Context) error

// runWithReconnect calls connectFn until it succeeds, waiting
// RetryDelay * 2^(attempt-1), capped at MaxRetryDelay, between attempts.
func runWithReconnect(ctx context.Context, connectFn connectFunc, cfg ReconnectConfig, state *reconnectState) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := connectFn(ctx)
		if err == nil {
			state.currentRetries = 0
			return nil
		}

		state.currentRetries++
		atomic.AddUint32(&state.reconnects, 1)

		if cfg.MaxRetries > 0 && state.currentRetries > cfg.MaxRetries {
			return fmt.Errorf("collective: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := calculateBackoff(state.currentRetries, cfg)
		slog.Warn("collective: connect failed, retrying",
			"attempt", state.currentRetries,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
