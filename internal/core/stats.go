package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/e7canasta/wallsync/swapsync"
)

const (
	statsLogInterval = 10 * time.Second

	// Above this share of unsynchronized swaps in one interval the wall is
	// visibly tearing.
	timeoutRateAlert = 0.20
)

// timeoutRate returns the share of swaps between prev and cur that were
// released by timeout.
func timeoutRate(prev, cur swapsync.Stats) (rate float64, swaps uint64) {
	swaps = cur.Swaps - prev.Swaps
	if swaps == 0 {
		return 0, 0
	}
	return float64(cur.Timeouts-prev.Timeouts) / float64(swaps), swaps
}

// logStats periodically logs frame statistics with timeout-rate alerting.
func (n *Node) logStats(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := n.swap.Stats()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		cur := n.swap.Stats()
		rate, swaps := timeoutRate(prev, cur)
		if rate > timeoutRateAlert {
			slog.Warn("core: high unsynchronized swap rate",
				"rank", n.cfg.Rank,
				"timeout_rate_pct", int(rate*100),
				"swaps_last_interval", swaps,
				"expected", n.ch.Expected(),
				"action", "check renderer links",
			)
		}

		fs := n.frames.Stats()
		slog.Info("core: frame stats",
			"rank", n.cfg.Rank,
			"scene_version", n.SceneVersion(),
			"fps", fs.FPSMean,
			"jitter_ms", fs.JitterMean*1000,
			"swaps", cur.Swaps,
			"synchronized", cur.Synchronized,
			"timeouts", cur.Timeouts,
			"contents", n.registry.Len(),
		)
		prev = cur
	}
}
