package collective

import (
	"context"
	"sync"
)

// outbox is the reliable FIFO queue between the hub and one rank.
//
// push never blocks and never drops; a single goroutine drains the queue in
// order. This is what gives every rank the same order of scene broadcasts.
type outbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Message
	closed bool
}

func newOutbox() *outbox {
	o := &outbox{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// push appends m. Returns false once the outbox is closed.
func (o *outbox) push(m Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}
	o.items = append(o.items, m)
	o.cond.Signal()
	return true
}

// pop blocks until a message is queued or the outbox is closed.
func (o *outbox) pop() (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for len(o.items) == 0 && !o.closed {
		o.cond.Wait()
	}
	if o.closed {
		return Message{}, false
	}
	m := o.items[0]
	o.items[0] = Message{}
	o.items = o.items[1:]
	return m, true
}

// close wakes the drain goroutine and discards pending messages. Idempotent.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	o.items = nil
	o.cond.Broadcast()
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// drain sends queued messages in order until the outbox is closed or send
// fails.
func (o *outbox) drain(ctx context.Context, send SendFunc) error {
	for {
		m, ok := o.pop()
		if !ok {
			return nil
		}
		if err := send(ctx, m); err != nil {
			o.close()
			return err
		}
	}
}
