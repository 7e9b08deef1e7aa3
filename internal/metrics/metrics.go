// Package metrics exposes node statistics in Prometheus format.
//
// Statistics are pulled from the node's components at scrape time, so the
// frame path never touches a metric.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/wallsync/collective"
	"github.com/e7canasta/wallsync/contentsync"
	"github.com/e7canasta/wallsync/internal/fps"
	"github.com/e7canasta/wallsync/swapsync"
)

const namespace = "wallsync"

// Sources are the snapshot functions scraped on every collection. Nil
// sources are skipped.
type Sources struct {
	Hub          func() collective.HubStats
	Swap         func() swapsync.Stats
	Content      func() []contentsync.Stats
	FPS          func() fps.Stats
	SceneVersion func() uint64
}

// Collector is a prometheus.Collector over a node's statistics.
type Collector struct {
	src Sources

	swaps        *prometheus.Desc
	outOfOrder   *prometheus.Desc
	degraded     *prometheus.Desc
	lastWait     *prometheus.Desc
	frame        *prometheus.Desc
	sceneVersion *prometheus.Desc

	renderFPS    *prometheus.Desc
	renderJitter *prometheus.Desc

	contentFrames    *prometheus.Desc
	contentFaults    *prometheus.Desc
	contentErrorTile *prometheus.Desc

	expected   *prometheus.Desc
	connected  *prometheus.Desc
	decisions  *prometheus.Desc
	staleVotes *prometheus.Desc
	dupVotes   *prometheus.Desc
	withdrawn  *prometheus.Desc
	superseded *prometheus.Desc
	departures *prometheus.Desc
	broadcasts *prometheus.Desc
}

// NewCollector creates a collector labelled with the node's rank.
func NewCollector(rank int, src Sources) *Collector {
	labels := prometheus.Labels{"rank": strconv.Itoa(rank)}
	desc := func(subsystem, name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, variable, labels)
	}

	return &Collector{
		src: src,

		swaps:        desc("swap", "total", "Buffer swaps by outcome.", "outcome"),
		outOfOrder:   desc("swap", "out_of_order_total", "Swap requests rejected as out of order."),
		degraded:     desc("swap", "degraded", "1 while swaps keep timing out."),
		lastWait:     desc("swap", "last_wait_seconds", "Quorum wait of the last swap."),
		frame:        desc("swap", "frame", "Last frame number voted on."),
		sceneVersion: desc("scene", "version", "Scene version currently applied."),

		renderFPS:    desc("render", "fps", "Rendered frames per second over the sliding window."),
		renderJitter: desc("render", "jitter_seconds", "Mean inter-frame jitter over the sliding window."),

		contentFrames:    desc("content", "frames_total", "New frames fetched per content.", "content_id", "type"),
		contentFaults:    desc("content", "faults_total", "Data source faults per content.", "content_id", "type"),
		contentErrorTile: desc("content", "error_tile", "1 while a content shows the error tile.", "content_id", "type"),

		expected:   desc("collective", "expected_ranks", "Renderer ranks in the expected set."),
		connected:  desc("collective", "connected_ranks", "Renderer ranks with a live link."),
		decisions:  desc("collective", "decisions_total", "Frame decisions by result.", "result"),
		staleVotes: desc("collective", "stale_votes_total", "Votes for already decided frames."),
		dupVotes:   desc("collective", "duplicate_votes_total", "Duplicate votes within a round."),
		withdrawn:  desc("collective", "withdrawn_votes_total", "Votes withdrawn after their sender timed out."),
		superseded: desc("collective", "superseded_rounds_total", "Rounds superseded by a higher frame."),
		departures: desc("collective", "departures_total", "Ranks removed from the expected set."),
		broadcasts: desc("collective", "scene_broadcasts_total", "Scene versions broadcast."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.swaps, c.outOfOrder, c.degraded, c.lastWait, c.frame, c.sceneVersion,
		c.renderFPS, c.renderJitter,
		c.contentFrames, c.contentFaults, c.contentErrorTile,
		c.expected, c.connected, c.decisions, c.staleVotes, c.dupVotes, c.withdrawn,
		c.superseded, c.departures, c.broadcasts,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	if c.src.Swap != nil {
		st := c.src.Swap()
		counter(c.swaps, float64(st.Synchronized), swapsync.Released.String())
		counter(c.swaps, float64(st.Timeouts), swapsync.Timeout.String())
		counter(c.outOfOrder, float64(st.OutOfOrder))
		gauge(c.degraded, boolFloat(st.Degraded))
		gauge(c.lastWait, st.LastWait.Seconds())
		gauge(c.frame, float64(st.Frame))
	}

	if c.src.SceneVersion != nil {
		gauge(c.sceneVersion, float64(c.src.SceneVersion()))
	}

	if c.src.FPS != nil {
		st := c.src.FPS()
		gauge(c.renderFPS, st.FPSMean)
		gauge(c.renderJitter, st.JitterMean)
	}

	if c.src.Content != nil {
		for _, st := range c.src.Content() {
			id, typ := st.ContentID.String(), st.Type.String()
			counter(c.contentFrames, float64(st.Frames), id, typ)
			counter(c.contentFaults, float64(st.Faults), id, typ)
			gauge(c.contentErrorTile, boolFloat(st.ErrorTile), id, typ)
		}
	}

	if c.src.Hub != nil {
		st := c.src.Hub()
		gauge(c.expected, float64(st.Expected))
		gauge(c.connected, float64(st.Connected))
		counter(c.decisions, float64(st.ReadyDecisions), "ready")
		counter(c.decisions, float64(st.Decisions-st.ReadyDecisions), "not_ready")
		counter(c.staleVotes, float64(st.StaleVotes))
		counter(c.dupVotes, float64(st.DuplicateVotes))
		counter(c.withdrawn, float64(st.WithdrawnVotes))
		counter(c.superseded, float64(st.Superseded))
		counter(c.departures, float64(st.Departures))
		counter(c.broadcasts, float64(st.Broadcasts))
	}
}

// NewRegistry returns a registry with c plus the Go runtime and process
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
