package collective

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// maxMessageSize bounds one frame; scene payloads are the largest.
	maxMessageSize = 16 << 20
	writeTimeout   = 5 * time.Second
)

func writeMessage(ctx context.Context, c *websocket.Conn, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageBinary, data)
}

func readMessage(ctx context.Context, c *websocket.Conn) (Message, error) {
	typ, data, err := c.Read(ctx)
	if err != nil {
		return Message{}, err
	}
	if typ != websocket.MessageBinary {
		return Message{}, fmt.Errorf("%w: %v frame", ErrBadMessage, typ)
	}
	return Decode(data)
}

// Server accepts renderer links for a hub over websockets.
type Server struct {
	hub *Hub
}

// NewServer returns an http.Handler serving renderer links for hub.
func NewServer(hub *Hub) *Server {
	return &Server{hub: hub}
}

// ServeHTTP implements http.Handler. The first message on a link must be a
// HELLO carrying the renderer's rank.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("collective: websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(maxMessageSize)

	ctx := r.Context()
	hello, err := readMessage(ctx, c)
	if err != nil {
		slog.Warn("collective: handshake failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if hello.Kind != KindHello || hello.Rank <= ControllerRank {
		c.Close(websocket.StatusPolicyViolation, "expected HELLO from a renderer rank")
		return
	}

	rank := hello.Rank
	detach := s.hub.Attach(rank, func(ctx context.Context, m Message) error {
		return writeMessage(ctx, c, m)
	})
	defer detach()

	slog.Info("collective: renderer connected", "rank", rank, "remote", r.RemoteAddr)

	for {
		m, err := readMessage(ctx, c)
		if err != nil {
			if errors.Is(err, ErrBadMessage) {
				slog.Warn("collective: dropping malformed message", "rank", rank, "error", err)
				continue
			}
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				slog.Warn("collective: renderer link closed", "rank", rank, "error", err)
			}
			return
		}
		s.hub.Handle(rank, m)
	}
}

// DialOptions configures a renderer link.
type DialOptions struct {
	URL       string
	Rank      int
	Heartbeat time.Duration // default: 1s
	Reconnect ReconnectConfig
}

type client struct {
	opts DialOptions
	ep   *Endpoint

	mu   sync.Mutex
	conn *websocket.Conn

	cancel context.CancelFunc
	wg     sync.WaitGroup
	state  reconnectState
}

// Dial connects a renderer to the hub at opts.URL and keeps the link up with
// exponential backoff until the returned endpoint is closed.
//
// Dial returns once the first connection is established or ctx is done.
func Dial(ctx context.Context, opts DialOptions) (*Endpoint, error) {
	if opts.Rank <= ControllerRank {
		return nil, fmt.Errorf("collective: invalid renderer rank %d", opts.Rank)
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = time.Second
	}
	if opts.Reconnect.RetryDelay <= 0 {
		opts.Reconnect = DefaultReconnectConfig()
	}

	cl := &client{opts: opts, ep: newEndpoint(opts.Rank)}
	if err := runWithReconnect(ctx, cl.connect, opts.Reconnect, &cl.state); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cl.cancel = cancel
	cl.ep.onClose = cl.close

	cl.wg.Add(2)
	go func() {
		defer cl.wg.Done()
		cl.run(runCtx)
	}()
	go func() {
		defer cl.wg.Done()
		cl.ep.Heartbeat(runCtx, opts.Heartbeat)
	}()

	return cl.ep, nil
}

func (cl *client) connect(ctx context.Context) error {
	c, _, err := websocket.Dial(ctx, cl.opts.URL, nil)
	if err != nil {
		return err
	}
	c.SetReadLimit(maxMessageSize)

	if err := writeMessage(ctx, c, Message{Kind: KindHello, Rank: cl.opts.Rank}); err != nil {
		c.CloseNow()
		return err
	}

	cl.mu.Lock()
	cl.conn = c
	cl.mu.Unlock()

	cl.ep.setSend(func(ctx context.Context, m Message) error {
		return writeMessage(ctx, c, m)
	})
	slog.Info("collective: connected to controller", "rank", cl.opts.Rank, "url", cl.opts.URL)
	return nil
}

func (cl *client) run(ctx context.Context) {
	for {
		cl.mu.Lock()
		c := cl.conn
		cl.mu.Unlock()

		err := cl.readLoop(ctx, c)
		cl.ep.setSend(nil)
		c.CloseNow()
		if ctx.Err() != nil {
			return
		}

		slog.Warn("collective: lost controller link, reconnecting", "rank", cl.opts.Rank, "error", err)
		if err := runWithReconnect(ctx, cl.connect, cl.opts.Reconnect, &cl.state); err != nil {
			if ctx.Err() == nil {
				slog.Error("collective: giving up on controller", "rank", cl.opts.Rank, "error", err)
			}
			return
		}
	}
}

func (cl *client) readLoop(ctx context.Context, c *websocket.Conn) error {
	for {
		m, err := readMessage(ctx, c)
		if err != nil {
			if errors.Is(err, ErrBadMessage) {
				slog.Warn("collective: dropping malformed message", "rank", cl.opts.Rank, "error", err)
				continue
			}
			return err
		}
		cl.ep.handle(m)
	}
}

func (cl *client) close() error {
	cl.cancel()

	cl.mu.Lock()
	c := cl.conn
	cl.mu.Unlock()

	if c != nil {
		// The read loop may already have torn the link down.
		if err := c.Close(websocket.StatusNormalClosure, ""); err != nil {
			slog.Debug("collective: close link", "rank", cl.opts.Rank, "error", err)
		}
	}
	cl.wg.Wait()
	return nil
}
