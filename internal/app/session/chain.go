package session

import (
	"context"
	"sync"
)

// chain runs reserved turns strictly in reservation order. It serializes
// request/response pairs that share one waiter slot on the channel.
type chain struct {
	mu   sync.Mutex
	tail chan struct{}
}

type turn struct {
	prev <-chan struct{}
	done chan struct{}
}

// reserve takes the next place in line. Callers that must keep an external
// order (arrival order of announcements) reserve while holding their own lock.
func (c *chain) reserve() *turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &turn{prev: c.tail, done: make(chan struct{})}
	c.tail = t.done
	return t
}

// run waits for the previous turn's full round trip, then runs fn.
// A cancelled wait still hands the slot on only after the predecessor is done.
func (t *turn) run(ctx context.Context, fn func() error) error {
	if t.prev != nil {
		select {
		case <-t.prev:
		case <-ctx.Done():
			go func() {
				<-t.prev
				close(t.done)
			}()
			return ctx.Err()
		}
	}
	defer close(t.done)
	return fn()
}
