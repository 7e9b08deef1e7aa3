package fps

import (
	"math"
	"testing"
	"time"
)

func regularTimes(n int, interval time.Duration) []time.Time {
	base := time.Unix(1000, 0)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = base.Add(time.Duration(i) * interval)
	}
	return out
}

func TestCalculate_RegularCadenceIsStable(t *testing.T) {
	times := regularTimes(60, time.Second/60)
	st := Calculate(times, time.Second)

	if math.Abs(st.FPSMean-60) > 0.01 {
		t.Errorf("FPSMean = %.2f, want 60", st.FPSMean)
	}
	if !st.IsStable {
		t.Errorf("regular cadence should be stable: %+v", st)
	}
}

func TestCalculate_StallIsUnstable(t *testing.T) {
	times := regularTimes(30, time.Second/60)
	// One frame held for 200ms, as when a swap times out.
	for i := 15; i < len(times); i++ {
		times[i] = times[i].Add(200 * time.Millisecond)
	}
	span := times[len(times)-1].Sub(times[0]) + time.Second/60
	st := Calculate(times, span)

	if st.IsStable {
		t.Errorf("stalled cadence reported stable: %+v", st)
	}
	if st.JitterMax < 0.15 {
		t.Errorf("JitterMax = %.3fs, want the stall to show", st.JitterMax)
	}
}

func TestCalculate_Empty(t *testing.T) {
	if st := Calculate(nil, time.Second); st.Frames != 0 || st.IsStable {
		t.Errorf("empty input: %+v", st)
	}
}

func TestCounter_Window(t *testing.T) {
	c := NewCounter(10)
	for _, ts := range regularTimes(25, 10*time.Millisecond) {
		c.Tick(ts)
	}

	if c.Total() != 25 {
		t.Errorf("Total = %d, want 25", c.Total())
	}
	st := c.Stats()
	if st.Frames != 10 {
		t.Errorf("window frames = %d, want 10", st.Frames)
	}
	if math.Abs(st.FPSMean-100) > 0.5 {
		t.Errorf("FPSMean = %.2f, want 100", st.FPSMean)
	}
}
