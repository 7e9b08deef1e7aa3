package core

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/e7canasta/wallsync/collective"
	"github.com/e7canasta/wallsync/internal/metrics"
)

// HealthStatus represents the health state of a wall node
type HealthStatus struct {
	Status        string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64  `json:"uptime_seconds"`
	Rank          int    `json:"rank"`
	SceneVersion  uint64 `json:"scene_version"`
	Expected      []int  `json:"expected"`

	// Renderer
	LinkConnected bool `json:"link_connected,omitempty"`
	SwapDegraded  bool `json:"swap_degraded,omitempty"`
	Contents      int  `json:"contents,omitempty"`

	// Controller
	ConnectedRanks []int `json:"connected_ranks,omitempty"`
	MQTTConnected  bool  `json:"mqtt_connected,omitempty"`
}

// HealthCheck returns the current health status of the node
func (n *Node) HealthCheck() HealthStatus {
	n.mu.RLock()
	running := n.isRunning
	started := n.started
	client := n.mqtt
	n.mu.RUnlock()

	status := HealthStatus{
		Status:       "healthy",
		Rank:         n.cfg.Rank,
		SceneVersion: n.SceneVersion(),
		Expected:     n.ch.Expected(),
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	degraded := false
	if n.IsController() {
		if n.hub != nil {
			status.ConnectedRanks = n.hub.Connected()
			degraded = len(status.ConnectedRanks) < n.cfg.Renderers
		}
		if client != nil {
			status.MQTTConnected = client.IsConnected()
			degraded = degraded || !status.MQTTConnected
		}
	} else {
		status.LinkConnected = true
		if ep, ok := n.ch.(*collective.Endpoint); ok {
			status.LinkConnected = ep.Connected()
		}
		status.SwapDegraded = n.swap.Degraded()
		status.Contents = n.registry.Len()
		degraded = !status.LinkConnected || status.SwapDegraded
	}

	switch {
	case !running:
		status.Status = "unhealthy"
	case degraded:
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health endpoint (simple liveness check)
func (n *Node) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	n.mu.RLock()
	started := n.started
	n.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	})
}

// ReadinessHandler handles /readiness endpoint. A degraded node is still
// ready; only an unhealthy one answers 503.
func (n *Node) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := n.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// HealthHandler serves /health, /readiness and /metrics.
func (n *Node) HealthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", n.LivenessHandler)
	mux.HandleFunc("/readiness", n.ReadinessHandler)
	mux.Handle("/metrics", metrics.Handler(n.metrics))
	return mux
}

// serveHTTP serves h on addr until ctx is done.
func serveHTTP(ctx context.Context, name, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:     h,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	slog.Info("core: http server listening", "server", name, "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- server.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("core: http server shutdown", "server", name, "error", err)
	}
	return nil
}
