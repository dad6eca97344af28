package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/proto"
)

// MemoryChannel is an in-process MessageChannel. Outbound envelopes are
// queued for the peer side; Deliver feeds inbound frames through the same
// dispatch table as the websocket channel.
type MemoryChannel struct {
	*Dispatcher

	mu     sync.Mutex
	open   bool
	outbox chan proto.Envelope
}

var _ core.MessageChannel = (*MemoryChannel)(nil)

func NewMemoryChannel(buffer int) *MemoryChannel {
	return &MemoryChannel{
		Dispatcher: NewDispatcher(),
		open:       true,
		outbox:     make(chan proto.Envelope, buffer),
	}
}

func (m *MemoryChannel) Send(typ string, data any) {
	frame, err := proto.Encode(typ, data)
	if err != nil {
		m.logger.Error().Err(err).Str("type", typ).Msg("send marshal")
		return
	}
	var env proto.Envelope
	_ = json.Unmarshal(frame, &env)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		m.logger.Debug().Str("type", typ).Msg("send on closed channel dropped")
		return
	}
	select {
	case m.outbox <- env:
	default:
		m.logger.Warn().Err(ErrBackpressure).Str("type", typ).Msg("send dropped")
	}
}

// Sent exposes outbound envelopes in send order.
func (m *MemoryChannel) Sent() <-chan proto.Envelope { return m.outbox }

// Next waits for the next outbound envelope.
func (m *MemoryChannel) Next(ctx context.Context) (proto.Envelope, error) {
	select {
	case env := <-m.outbox:
		return env, nil
	case <-ctx.Done():
		return proto.Envelope{}, ctx.Err()
	}
}

// Deliver dispatches an inbound message synchronously on the caller's goroutine.
func (m *MemoryChannel) Deliver(typ string, data any) error {
	frame, err := proto.Encode(typ, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	m.Dispatch(frame)
	return nil
}

// SetOpen toggles the simulated connection; closing rejects pending waiters.
func (m *MemoryChannel) SetOpen(open bool) {
	m.mu.Lock()
	was := m.open
	m.open = open
	m.mu.Unlock()
	if was && !open {
		m.Reset(ErrChannelClosed)
	}
}
