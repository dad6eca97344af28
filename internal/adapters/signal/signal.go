// Package signal implements the media signaling MessageChannel over a
// gorilla/websocket connection.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/proto"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var ErrBackpressure = errors.New("backpressure")

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

type Options struct {
	URL   string
	Token string

	KeepaliveInterval time.Duration
	ReconnectDelay    time.Duration
	WriteTimeout      time.Duration
	ReadLimit         int64
	SendBuffer        int

	Dialer *websocket.Dialer
	Clock  clock.Clock
}

func (o *Options) withDefaults() {
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = 25 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

// WsSignalConn is one physical websocket connection.
type WsSignalConn struct {
	id   string
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Channel is a reconnecting websocket MessageChannel.
type Channel struct {
	*Dispatcher

	opts   Options
	logger zerolog.Logger

	mu          sync.RWMutex
	conn        *WsSignalConn
	state       State
	stopped     bool
	cancel      context.CancelFunc
	onState     []func(State)
	onReconnect []func()
	onLost      []func(error)

	wg conc.WaitGroup
}

var _ core.MessageChannel = (*Channel)(nil)

func NewChannel(opts Options) *Channel {
	opts.withDefaults()
	return &Channel{
		Dispatcher: NewDispatcher(),
		opts:       opts,
		logger:     log.With().Str("module", "signal").Logger(),
		state:      StateIdle,
	}
}

// Connect dials the server and starts serving the connection in the background.
func (ch *Channel) Connect(ctx context.Context) error {
	ch.mu.Lock()
	if ch.state != StateIdle {
		ch.mu.Unlock()
		return fmt.Errorf("signal: connect in state %s", ch.state)
	}
	ch.mu.Unlock()

	ch.setState(StateConnecting)
	conn, err := ch.dial(ctx)
	if err != nil {
		ch.setState(StateIdle)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ch.mu.Lock()
	ch.cancel = cancel
	ch.conn = conn
	ch.mu.Unlock()
	ch.setState(StateOpen)

	ch.wg.Go(func() { ch.run(runCtx, conn) })
	return nil
}

func (ch *Channel) dial(ctx context.Context) (*WsSignalConn, error) {
	u, err := url.Parse(ch.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("signal: parse url: %w", err)
	}
	if ch.opts.Token != "" {
		q := u.Query()
		q.Set("token", ch.opts.Token)
		u.RawQuery = q.Encode()
	}

	ws, resp, err := ch.opts.Dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("signal: dial %s: %w (status %d)", ch.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("signal: dial %s: %w", ch.opts.URL, err)
	}
	ws.SetReadLimit(ch.opts.ReadLimit)

	conn := &WsSignalConn{
		id:   uuid.NewString(),
		conn: ws,
		send: make(chan core.Frame, ch.opts.SendBuffer),
	}
	ch.logger.Info().Str("conn_id", conn.id).Str("url", ch.opts.URL).Msg("connected")
	return conn, nil
}

// run serves conn; on an unexpected close it tries exactly one reconnect per drop.
func (ch *Channel) run(ctx context.Context, conn *WsSignalConn) {
	for {
		err := ch.serve(ctx, conn)

		ch.mu.RLock()
		stopped := ch.stopped
		ch.mu.RUnlock()
		if stopped || ctx.Err() != nil {
			return
		}

		ch.logger.Warn().Err(err).Str("conn_id", conn.id).Dur("delay", ch.opts.ReconnectDelay).Msg("connection lost, reconnecting")
		ch.setConn(nil)
		ch.setState(StateReconnecting)
		ch.Reset(ErrChannelClosed)

		select {
		case <-ctx.Done():
			return
		case <-ch.opts.Clock.After(ch.opts.ReconnectDelay):
		}

		next, err := ch.dial(ctx)
		if err != nil {
			ch.logger.Error().Err(err).Msg("reconnect failed")
			ch.setState(StateClosed)
			ch.fireLost(err)
			return
		}
		conn = next
		ch.setConn(conn)
		ch.setState(StateOpen)
		ch.fireReconnect()
	}
}

func (ch *Channel) serve(ctx context.Context, conn *WsSignalConn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	wg.Go(func() {
		ch.writePump(connCtx, conn)
		conn.Close()
	})
	wg.Go(func() { ch.keepalive(connCtx, conn) })

	err := ch.readPump(conn)
	cancel()
	conn.Close()
	wg.Wait()
	return err
}

func (ch *Channel) setConn(c *WsSignalConn) {
	ch.mu.Lock()
	ch.conn = c
	ch.mu.Unlock()
}

func (ch *Channel) setState(s State) {
	ch.mu.Lock()
	if ch.state == s {
		ch.mu.Unlock()
		return
	}
	ch.state = s
	subs := append([]func(State){}, ch.onState...)
	ch.mu.Unlock()

	ch.logger.Info().Str("state", string(s)).Msg("channel state")
	for _, fn := range subs {
		fn(s)
	}
}

func (ch *Channel) fireReconnect() {
	ch.mu.RLock()
	subs := append([]func(){}, ch.onReconnect...)
	ch.mu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}

func (ch *Channel) fireLost(err error) {
	ch.mu.RLock()
	subs := append([]func(error){}, ch.onLost...)
	ch.mu.RUnlock()
	for _, fn := range subs {
		fn(err)
	}
}

func (ch *Channel) State() State {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.state
}

func (ch *Channel) OnStateChange(fn func(State)) {
	ch.mu.Lock()
	ch.onState = append(ch.onState, fn)
	ch.mu.Unlock()
}

// OnReconnect fires after a successful reconnect. Session state is not carried over.
func (ch *Channel) OnReconnect(fn func()) {
	ch.mu.Lock()
	ch.onReconnect = append(ch.onReconnect, fn)
	ch.mu.Unlock()
}

// OnLost fires once when the reconnect after a drop failed and the channel
// gave up. It does not fire on Close.
func (ch *Channel) OnLost(fn func(err error)) {
	ch.mu.Lock()
	ch.onLost = append(ch.onLost, fn)
	ch.mu.Unlock()
}

func (ch *Channel) Send(typ string, data any) {
	frame, err := proto.Encode(typ, data)
	if err != nil {
		ch.logger.Error().Err(err).Str("type", typ).Msg("send marshal")
		return
	}

	ch.mu.RLock()
	conn, state := ch.conn, ch.state
	ch.mu.RUnlock()
	if conn == nil || state != StateOpen {
		ch.logger.Debug().Str("type", typ).Str("state", string(state)).Msg("send on closed channel dropped")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		ch.logger.Warn().Err(err).Str("type", typ).Str("conn_id", conn.id).Msg("send dropped")
	}
}

// Close stops the channel for good and rejects every pending waiter.
func (ch *Channel) Close() {
	ch.mu.Lock()
	if ch.stopped {
		ch.mu.Unlock()
		return
	}
	ch.stopped = true
	cancel, conn := ch.cancel, ch.conn
	ch.conn = nil
	ch.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	ch.wg.Wait()
	ch.Reset(ErrChannelClosed)
	ch.setState(StateClosed)
}
