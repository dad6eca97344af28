package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceClient/internal/domain"
)

// LocalTrack wraps a captured source. Packets are dropped while the track is
// disabled or its producer is paused; the source keeps running.
type LocalTrack struct {
	src  webrtc.TrackLocal
	kind domain.MediaKind
	stop func() error

	enabled atomic.Bool
	paused  atomic.Bool
	levelID atomic.Uint32

	taps *fanout

	mu      sync.Mutex
	bound   webrtc.RTPCodecParameters
	subs    map[int]func()
	nextSub int
	ended   bool
	stopped bool
}

// NewLocalTrack wraps src. stop releases the capture device and may be nil.
func NewLocalTrack(src webrtc.TrackLocal, stop func() error) *LocalTrack {
	t := &LocalTrack{
		src:  src,
		kind: mediaKind(src.Kind()),
		stop: stop,
		subs: make(map[int]func()),
		taps: newFanout(nil, log.With().Str("module", "webrtc").Str("track", src.ID()).Logger()),
	}
	t.enabled.Store(true)
	return t
}

func (t *LocalTrack) ID() string             { return t.src.ID() }
func (t *LocalTrack) Kind() domain.MediaKind { return t.kind }
func (t *LocalTrack) Enabled() bool          { return t.enabled.Load() }
func (t *LocalTrack) SetEnabled(on bool)     { t.enabled.Store(on) }

func (t *LocalTrack) flowing() bool { return t.enabled.Load() && !t.paused.Load() }

func (t *LocalTrack) OnEnded(fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		go fn()
		return func() {}
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// end fires the ended subscribers once. Capture calls it when the device goes away.
func (t *LocalTrack) end() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	subs := make([]func(), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	clear(t.subs)
	t.mu.Unlock()
	log.Info().Str("module", "webrtc").Str("track", t.ID()).Str("kind", string(t.kind)).Msg("local track ended")
	for _, fn := range subs {
		fn()
	}
}

// Stop releases the source. An explicit stop does not fire ended subscribers.
func (t *LocalTrack) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.ended = true
	clear(t.subs)
	t.mu.Unlock()
	t.taps.markAllDelete()
	if t.stop != nil {
		return t.stop()
	}
	return nil
}

func (t *LocalTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *LocalTrack) boundCodec() webrtc.RTPCodecParameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bound
}

// wire is the TrackLocal handed to RTPSender.
func (t *LocalTrack) wire() webrtc.TrackLocal { return gatedTrack{t: t} }

type gatedTrack struct{ t *LocalTrack }

func (g gatedTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	codec, err := g.t.src.Bind(gatedContext{TrackLocalContext: ctx, t: g.t})
	if err != nil {
		return codec, err
	}
	g.t.mu.Lock()
	g.t.bound = codec
	g.t.mu.Unlock()
	return codec, nil
}

func (g gatedTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	return g.t.src.Unbind(gatedContext{TrackLocalContext: ctx, t: g.t})
}

func (g gatedTrack) ID() string                { return g.t.src.ID() }
func (g gatedTrack) RID() string               { return g.t.src.RID() }
func (g gatedTrack) StreamID() string          { return g.t.src.StreamID() }
func (g gatedTrack) Kind() webrtc.RTPCodecType { return g.t.src.Kind() }

type gatedContext struct {
	webrtc.TrackLocalContext
	t *LocalTrack
}

func (c gatedContext) WriteStream() webrtc.TrackLocalWriter {
	return gatedWriter{w: c.TrackLocalContext.WriteStream(), t: c.t}
}

type gatedWriter struct {
	w webrtc.TrackLocalWriter
	t *LocalTrack
}

func (g gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !g.t.flowing() {
		return len(payload), nil
	}
	if g.t.taps.count() > 0 {
		g.t.taps.forward(&rtp.Packet{Header: *header, Payload: payload})
	}
	return g.w.WriteRTP(header, payload)
}

func (g gatedWriter) Write(b []byte) (int, error) {
	if !g.t.flowing() {
		return len(b), nil
	}
	if g.t.taps.count() > 0 {
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(b); err == nil {
			g.t.taps.forward(pkt)
		}
	}
	return g.w.Write(b)
}

// RemoteTrack is the inbound side of a consumer.
type RemoteTrack struct {
	id      string
	kind    domain.MediaKind
	mime    string
	levelID uint8
	fan     *fanout
}

func newRemoteTrack(id string, kind domain.MediaKind, src rtpReader, levelID uint8, logger zerolog.Logger) *RemoteTrack {
	return &RemoteTrack{id: id, kind: kind, levelID: levelID, fan: newFanout(src, logger)}
}

func (t *RemoteTrack) start(ctx context.Context) { t.fan.start(ctx) }
func (t *RemoteTrack) stop()                     { t.fan.stop() }

func (t *RemoteTrack) ID() string             { return t.id }
func (t *RemoteTrack) Kind() domain.MediaKind { return t.kind }
func (t *RemoteTrack) Live() bool             { return t.fan.live.Load() }

// MimeType is the negotiated media codec, e.g. "audio/opus".
func (t *RemoteTrack) MimeType() string { return t.mime }

// Attach forwards every received packet to sink until the returned func is called.
func (t *RemoteTrack) Attach(sink RTPSink) (detach func()) {
	s := t.fan.attach(sink)
	return s.MarkDelete
}
