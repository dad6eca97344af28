package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/proto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrTimeout       = errors.New("signal: wait timed out")
	ErrChannelClosed = errors.New("signal: channel closed")
)

type waitResult struct {
	data json.RawMessage
	err  error
}

type waiter struct {
	done chan waitResult
}

// Dispatcher is the shared table of one-shot waiters and persistent handlers.
// Dispatch must be called from a single goroutine to keep arrival order.
type Dispatcher struct {
	mu       sync.Mutex
	waiters  map[string]*waiter
	handlers map[string]core.Handler
	logger   zerolog.Logger
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		waiters:  make(map[string]*waiter),
		handlers: make(map[string]core.Handler),
		logger:   log.With().Str("module", "signal.dispatch").Logger(),
	}
}

type pendingWaiter struct {
	d   *Dispatcher
	typ string
	w   *waiter
}

// Expect registers the waiter for typ, replacing any pending one.
func (d *Dispatcher) Expect(typ string) core.Waiter {
	w := &waiter{done: make(chan waitResult, 1)}

	d.mu.Lock()
	if _, ok := d.waiters[typ]; ok {
		// The replaced waiter is never resolved and runs into its own timeout.
		d.logger.Warn().Str("type", typ).Msg("pending waiter overwritten")
	}
	d.waiters[typ] = w
	d.mu.Unlock()

	return &pendingWaiter{d: d, typ: typ, w: w}
}

func (p *pendingWaiter) Wait(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.w.done:
		return r.data, r.err
	case <-timer.C:
		p.d.dropWaiter(p.typ, p.w)
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, p.typ, timeout)
	case <-ctx.Done():
		p.d.dropWaiter(p.typ, p.w)
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) WaitForMessage(ctx context.Context, typ string, timeout time.Duration) (json.RawMessage, error) {
	return d.Expect(typ).Wait(ctx, timeout)
}

// dropWaiter removes w only if it still owns the slot.
func (d *Dispatcher) dropWaiter(typ string, w *waiter) {
	d.mu.Lock()
	if cur, ok := d.waiters[typ]; ok && cur == w {
		delete(d.waiters, typ)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) OnMessage(typ string, h core.Handler) {
	d.mu.Lock()
	d.handlers[typ] = h
	d.mu.Unlock()
}

func (d *Dispatcher) Off(typ string) {
	d.mu.Lock()
	delete(d.handlers, typ)
	d.mu.Unlock()
}

// Pending reports whether a waiter is registered for typ.
func (d *Dispatcher) Pending(typ string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.waiters[typ]
	return ok
}

// Dispatch routes one inbound frame: a pending waiter wins over a persistent
// handler; unrecognized types and malformed frames are dropped.
func (d *Dispatcher) Dispatch(frame core.Frame) {
	var env proto.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		d.logger.Warn().Err(err).Msg("bad json")
		return
	}
	if env.Type == "" {
		d.logger.Warn().Msg("frame without type")
		return
	}

	d.mu.Lock()
	w, isWaiter := d.waiters[env.Type]
	if isWaiter {
		delete(d.waiters, env.Type)
	}
	h := d.handlers[env.Type]
	d.mu.Unlock()

	switch {
	case isWaiter:
		w.done <- waitResult{data: env.Data}
	case h != nil:
		h(env.Data)
	default:
		d.logger.Debug().Str("type", env.Type).Msg("no receiver, dropped")
	}
}

// Reset invalidates every waiter and handler, e.g. across a reconnect.
func (d *Dispatcher) Reset(cause error) {
	d.mu.Lock()
	waiters := d.waiters
	d.waiters = make(map[string]*waiter)
	d.handlers = make(map[string]core.Handler)
	d.mu.Unlock()

	for typ, w := range waiters {
		w.done <- waitResult{err: fmt.Errorf("%w: %s", cause, typ)}
	}
}
