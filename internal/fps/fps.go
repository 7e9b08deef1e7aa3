// Package fps measures the rendered frame rate of a node over a sliding
// window of swap timestamps.
package fps

import (
	"math"
	"sync"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of mean FPS for the cadence to count as stable.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of the
	// expected inter-frame interval.
	jitterStabilityThreshold = 0.20
)

// Stats summarizes a window of frame timestamps.
type Stats struct {
	Frames       int
	Duration     time.Duration
	FPSMean      float64
	FPSStdDev    float64
	FPSMin       float64
	FPSMax       float64
	IsStable     bool
	JitterMean   float64 // seconds
	JitterStdDev float64 // seconds
	JitterMax    float64 // seconds
}

// Calculate computes frame-rate statistics from frame timestamps.
//
// Stable means stddev < 15% of mean FPS and mean jitter < 20% of the expected
// interval. Example: 60 FPS is stable if stddev < 9 and jitter < 3.3ms.
func Calculate(frameTimes []time.Time, totalDuration time.Duration) Stats {
	n := len(frameTimes)
	st := Stats{Frames: n, Duration: totalDuration}
	if n == 0 || totalDuration <= 0 {
		return st
	}

	st.FPSMean = float64(n) / totalDuration.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return st
	}

	st.FPSMin, st.FPSMax = instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, f := range instantaneous {
		st.FPSMin = math.Min(st.FPSMin, f)
		st.FPSMax = math.Max(st.FPSMax, f)
		diff := f - st.FPSMean
		sumSquares += diff * diff
	}
	st.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1.0 / st.FPSMean
	jitters := make([]float64, 0, n-1)
	var jitterSum float64
	for i := 1; i < n; i++ {
		j := math.Abs(frameTimes[i].Sub(frameTimes[i-1]).Seconds() - expected)
		jitters = append(jitters, j)
		jitterSum += j
		st.JitterMax = math.Max(st.JitterMax, j)
	}
	st.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		diff := j - st.JitterMean
		jitterSquares += diff * diff
	}
	st.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	st.IsStable = st.FPSStdDev < st.FPSMean*fpsStabilityThreshold &&
		st.JitterMean < expected*jitterStabilityThreshold
	return st
}

// Counter records frame timestamps in a fixed-size ring.
type Counter struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
	total uint64
}

// NewCounter keeps the last window timestamps. window < 2 is raised to 2.
func NewCounter(window int) *Counter {
	return &Counter{times: make([]time.Time, max(window, 2))}
}

// Tick records a frame at t.
func (c *Counter) Tick(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.times[c.next] = t
	c.next = (c.next + 1) % len(c.times)
	if c.next == 0 {
		c.full = true
	}
	c.total++
}

// Total returns the number of frames recorded since creation.
func (c *Counter) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Stats returns statistics over the current window.
func (c *Counter) Stats() Stats {
	c.mu.Lock()
	var window []time.Time
	if c.full {
		window = append(window, c.times[c.next:]...)
		window = append(window, c.times[:c.next]...)
	} else {
		window = append(window, c.times[:c.next]...)
	}
	c.mu.Unlock()

	if len(window) < 2 {
		return Stats{Frames: len(window)}
	}
	// n timestamps span n-1 intervals.
	span := window[len(window)-1].Sub(window[0])
	per := span / time.Duration(len(window)-1)
	return Calculate(window, span+per)
}
