package core

import (
	"context"
	"encoding/json"
	"time"
)

// Frame is a raw text payload on the signaling connection.
type Frame []byte

// Handler receives the data of an unsolicited push message. Handlers run on
// the dispatch goroutine and must not block on the channel they are registered with.
type Handler func(data json.RawMessage)

// Waiter is a registered one-shot waiter. Wait must be called exactly once.
type Waiter interface {
	Wait(ctx context.Context, timeout time.Duration) (json.RawMessage, error)
}

// MessageChannel abstracts the duplex signaling connection.
//
// At most one waiter is pending per message type: registering a second
// waiter for the same type replaces the first, which then only ends by
// timeout. Callers whose requests share a response type must serialize them.
type MessageChannel interface {
	// Send is fire-and-forget; it is a logged no-op while the channel is not open.
	Send(typ string, data any)
	// Expect registers the waiter for typ now, so a request can be sent
	// after registration without racing its response.
	Expect(typ string) Waiter
	// WaitForMessage is Expect(typ).Wait(ctx, timeout).
	WaitForMessage(ctx context.Context, typ string, timeout time.Duration) (json.RawMessage, error)
	// OnMessage registers a persistent handler, replacing any previous one for typ.
	OnMessage(typ string, h Handler)
	Off(typ string)
}
