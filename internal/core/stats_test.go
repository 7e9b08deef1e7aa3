package core

import (
	"testing"

	"github.com/e7canasta/wallsync/swapsync"
)

func TestTimeoutRate(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur swapsync.Stats
		wantRate  float64
		wantSwaps uint64
	}{
		{"idle", swapsync.Stats{Swaps: 10}, swapsync.Stats{Swaps: 10}, 0, 0},
		{"all synchronized", swapsync.Stats{}, swapsync.Stats{Swaps: 60, Synchronized: 60}, 0, 60},
		{"quarter timed out", swapsync.Stats{Swaps: 100, Timeouts: 5}, swapsync.Stats{Swaps: 140, Timeouts: 15}, 0.25, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, swaps := timeoutRate(tt.prev, tt.cur)
			if rate != tt.wantRate || swaps != tt.wantSwaps {
				t.Errorf("timeoutRate() = %v, %d; want %v, %d", rate, swaps, tt.wantRate, tt.wantSwaps)
			}
		})
	}
}
