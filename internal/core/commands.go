package core

import "time"

// Status returns the node status published on the control plane.
func (n *Node) Status() map[string]interface{} {
	n.mu.RLock()
	started := n.started
	running := n.isRunning
	n.mu.RUnlock()

	sc := n.Scene()
	status := map[string]interface{}{
		"instance_id":   n.cfg.InstanceID,
		"rank":          n.cfg.Rank,
		"running":       running,
		"uptime_s":      time.Since(started).Seconds(),
		"scene_version": sc.Version,
		"windows":       sc.Group.Len(),
		"expected":      n.ch.Expected(),
		"screen": map[string]interface{}{
			"state":     sc.Screen.State.String(),
			"locked":    sc.Screen.Locked,
			"paused":    sc.Screen.Paused,
			"countdown": sc.Screen.Countdown.Seconds(),
		},
		"health": n.HealthCheck().Status,
	}

	if n.hub != nil {
		st := n.hub.Stats()
		status["collective"] = map[string]interface{}{
			"connected":       n.hub.Connected(),
			"last_decided":    st.LastDecided,
			"decisions":       st.Decisions,
			"ready_decisions": st.ReadyDecisions,
			"departures":      st.Departures,
		}
	}

	if n.swap != nil {
		st := n.swap.Stats()
		fs := n.frames.Stats()
		status["swap"] = map[string]interface{}{
			"state":        st.State.String(),
			"mode":         st.Mode.String(),
			"synchronized": st.Synchronized,
			"timeouts":     st.Timeouts,
			"degraded":     st.Degraded,
			"fps":          fs.FPSMean,
		}
		status["contents"] = n.registry.Len()
	}

	return status
}
