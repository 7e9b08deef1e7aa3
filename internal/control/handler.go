package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/wallsync/internal/config"
)

const (
	subscribeTimeout = 5 * time.Second
	publishTimeout   = 2 * time.Second
)

// shutdownDelay lets the shutdown response leave before the node stops.
var shutdownDelay = 500 * time.Millisecond

// maxCountdown bounds set_countdown.
const maxCountdown = 24 * time.Hour

// Client is the subset of mqtt.Client the handler uses.
type Client interface {
	IsConnected() bool
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// CommandCallbacks contains callback functions for commands. A nil callback
// answers its command with "not implemented".
type CommandCallbacks struct {
	OnGetStatus    func() map[string]interface{}
	OnPause        func() error
	OnResume       func() error
	OnSetScreen    func(on bool) error
	OnSetLock      func(locked bool) error
	OnSetCountdown func(time.Duration) error
	OnShutdown     func() error
}

// Handler handles wall control commands received over MQTT and publishes
// responses and status on the status topic.
type Handler struct {
	cfg      config.MQTTConfig
	client   Client
	commands chan Command

	mu        sync.RWMutex
	callbacks CommandCallbacks
	stopped   bool
}

// NewHandler creates a new control plane handler
func NewHandler(cfg config.MQTTConfig, client Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start subscribes to the control topic and processes commands until ctx is
// done or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control
	qos := h.cfg.QoS["control"]

	slog.Info("control: subscribing", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}

	slog.Info("control: handler started")

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes and stops command processing. Idempotent.
func (h *Handler) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	close(h.commands)
	h.mu.Unlock()

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.Topics.Control)
		token.WaitTimeout(subscribeTimeout)
	}

	slog.Info("control: handler stopped")
	return nil
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	h.dispatch(msg.Payload())
}

// dispatch parses a raw command and queues it for processing.
func (h *Handler) dispatch(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

func notImplemented(resp *Response, name string) {
	resp.Status = "error"
	resp.Error = name + " not implemented"
}

func applyResult(resp *Response, err error, data map[string]interface{}) {
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return
	}
	resp.Status = "success"
	resp.Data = data
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) {
	resp := Response{CommandAck: cmd.Command}
	cb := h.callbacks

	switch cmd.Command {
	case "get_status":
		if cb.OnGetStatus == nil {
			notImplemented(&resp, cmd.Command)
			break
		}
		resp.Status = "success"
		resp.Data = cb.OnGetStatus()

	case "pause":
		if cb.OnPause == nil {
			notImplemented(&resp, cmd.Command)
			break
		}
		applyResult(&resp, cb.OnPause(), map[string]interface{}{"paused": true})

	case "resume":
		if cb.OnResume == nil {
			notImplemented(&resp, cmd.Command)
			break
		}
		applyResult(&resp, cb.OnResume(), map[string]interface{}{"paused": false})

	case "screen_on", "screen_off":
		if cb.OnSetScreen == nil {
			notImplemented(&resp, cmd.Command)
			break
		}
		on := cmd.Command == "screen_on"
		applyResult(&resp, cb.OnSetScreen(on), map[string]interface{}{"screen_on": on})

	case "lock", "unlock":
		if cb.OnSetLock == nil {
			notImplemented(&resp, cmd.Command)
			break
		}
		locked := cmd.Command == "lock"
		applyResult(&resp, cb.OnSetLock(locked), map[string]interface{}{"locked": locked})

	case "set_countdown":
		if cb.OnSetCountdown == nil {
			notImplemented(&resp, cmd.Command)
			break
		}
		seconds, ok := cmd.Params["seconds"].(float64)
		if !ok || seconds < 0 || seconds > maxCountdown.Seconds() {
			resp.Status = "error"
			resp.Error = fmt.Sprintf("missing or invalid 'seconds' parameter (expected 0 to %.0f)", maxCountdown.Seconds())
			break
		}
		d := time.Duration(seconds * float64(time.Second))
		applyResult(&resp, cb.OnSetCountdown(d), map[string]interface{}{"countdown_s": seconds})

	case "shutdown":
		if cb.OnShutdown == nil {
			notImplemented(&resp, cmd.Command)
			break
		}
		slog.Warn("control: shutdown command received")
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}
		// Respond before triggering shutdown.
		h.sendResponse(resp)

		go func() {
			time.Sleep(shutdownDelay)
			if err := cb.OnShutdown(); err != nil {
				slog.Error("control: shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}
	if err := h.publish(payload); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}
	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

// PublishStatus publishes a status snapshot on the status topic.
func (h *Handler) PublishStatus(status map[string]interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("control: marshal status: %w", err)
	}
	return h.publish(payload)
}

func (h *Handler) publish(payload []byte) error {
	token := h.client.Publish(h.cfg.Topics.Status, h.cfg.QoS["status"], false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("control: publish timeout")
	}
	return token.Error()
}
