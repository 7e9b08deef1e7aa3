package collective

import (
	"context"
	"fmt"
	"sync"
)

// LocalCluster runs a hub and its renderer endpoints in one process.
//
// Messages are passed by value through the same outboxes the network
// transport uses, so ordering and membership behave as on a real wall.
type LocalCluster struct {
	Hub       *Hub
	Renderers []*Endpoint

	mu      sync.Mutex
	detachs map[int]func()
}

// NewLocalCluster creates a controller plus renderers ranks numbered 1..n.
// opts.Renderers is filled in when empty.
func NewLocalCluster(renderers int, opts HubOptions) *LocalCluster {
	if len(opts.Renderers) == 0 {
		for r := 1; r <= renderers; r++ {
			opts.Renderers = append(opts.Renderers, r)
		}
	}

	c := &LocalCluster{
		Hub:     NewHub(opts),
		detachs: make(map[int]func()),
	}
	for r := 1; r <= renderers; r++ {
		e := newEndpoint(r)
		c.Renderers = append(c.Renderers, e)
		c.Connect(r)
	}
	return c
}

// Channel returns the Channel of a rank; rank 0 is the hub.
func (c *LocalCluster) Channel(rank int) Channel {
	if rank == ControllerRank {
		return c.Hub
	}
	return c.Renderers[rank-1]
}

// Connect (re)attaches a renderer's link to the hub.
func (c *LocalCluster) Connect(rank int) {
	e := c.Renderers[rank-1]

	c.mu.Lock()
	defer c.mu.Unlock()

	if detach, ok := c.detachs[rank]; ok {
		detach()
	}
	e.setSend(func(_ context.Context, m Message) error {
		c.Hub.Handle(rank, m)
		return nil
	})
	c.detachs[rank] = c.Hub.Attach(rank, func(_ context.Context, m Message) error {
		e.handle(m)
		return nil
	})
}

// Disconnect drops a renderer's link without a RANK_LEAVE.
func (c *LocalCluster) Disconnect(rank int) error {
	if rank < 1 || rank > len(c.Renderers) {
		return fmt.Errorf("collective: no renderer rank %d", rank)
	}

	c.mu.Lock()
	detach, ok := c.detachs[rank]
	delete(c.detachs, rank)
	c.mu.Unlock()

	c.Renderers[rank-1].setSend(nil)
	if ok {
		detach()
	}
	return nil
}

// Close shuts every endpoint and the hub down.
func (c *LocalCluster) Close() error {
	for _, e := range c.Renderers {
		e.Close()
	}
	return c.Hub.Close()
}
