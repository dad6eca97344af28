package session

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/proto"
)

// A scripted native engine. It records every call so tests can assert what
// the session asked of it.

type fakeEngine struct {
	mu      sync.Mutex
	devices []*fakeDevice
}

func (e *fakeEngine) NewDevice() (core.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := &fakeDevice{}
	e.devices = append(e.devices, d)
	return d, nil
}

func (e *fakeEngine) device() *fakeDevice {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.devices) == 0 {
		return nil
	}
	return e.devices[len(e.devices)-1]
}

type fakeDevice struct {
	mu     sync.Mutex
	caps   *proto.RtpCapabilities
	sendT  *fakeTransport
	recvT  *fakeTransport
	events []string
}

func (d *fakeDevice) Load(caps proto.RtpCapabilities) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps = &caps
	d.events = append(d.events, "load")
	return nil
}

func (d *fakeDevice) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps != nil
}

func (d *fakeDevice) RtpCapabilities() proto.RtpCapabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.caps == nil {
		return proto.RtpCapabilities{}
	}
	return *d.caps
}

var errNotLoaded = errors.New("fake: device not loaded")

func (d *fakeDevice) CreateSendTransport(opts proto.TransportOptions) (core.SendTransport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.caps == nil {
		return nil, errNotLoaded
	}
	d.sendT = newFakeTransport(opts.ID)
	d.events = append(d.events, "send:"+opts.ID)
	return d.sendT, nil
}

func (d *fakeDevice) CreateRecvTransport(opts proto.TransportOptions) (core.RecvTransport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.caps == nil {
		return nil, errNotLoaded
	}
	d.recvT = newFakeTransport(opts.ID)
	d.events = append(d.events, "recv:"+opts.ID)
	return d.recvT, nil
}

type fakeTransport struct {
	id string

	mu        sync.Mutex
	onConnect core.ConnectHandler
	onProduce core.ProduceHandler
	connected bool
	closed    bool
	consumed  []string
	consumers []*fakeConsumer
	producers []*fakeProducer
}

func newFakeTransport(id string) *fakeTransport { return &fakeTransport{id: id} }

func (t *fakeTransport) ID() string                      { return t.id }
func (t *fakeTransport) OnStateChange(func(string))      {}
func (t *fakeTransport) OnConnect(h core.ConnectHandler) { t.mu.Lock(); t.onConnect = h; t.mu.Unlock() }
func (t *fakeTransport) OnProduce(h core.ProduceHandler) { t.mu.Lock(); t.onProduce = h; t.mu.Unlock() }
func (t *fakeTransport) Closed() bool                    { t.mu.Lock(); defer t.mu.Unlock(); return t.closed }
func (t *fakeTransport) Close() error                    { t.mu.Lock(); t.closed = true; t.mu.Unlock(); return nil }

func (t *fakeTransport) connect() error {
	t.mu.Lock()
	h, done := t.onConnect, t.connected
	t.connected = true
	t.mu.Unlock()
	if done || h == nil {
		return nil
	}
	return h(proto.DtlsParameters{Role: "client", Fingerprints: []proto.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA"}}})
}

func (t *fakeTransport) Produce(ctx context.Context, track core.LocalTrack, appData *proto.AppData) (core.Producer, error) {
	if err := t.connect(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	h := t.onProduce
	t.mu.Unlock()
	id, err := h(ctx, core.ProduceParams{Kind: track.Kind(), AppData: appData})
	if err != nil {
		return nil, err
	}
	kind := track.Kind()
	if appData != nil && appData.Source == string(domain.KindScreen) {
		kind = domain.KindScreen
	}
	p := &fakeProducer{id: id, kind: kind, track: track}
	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	return p, nil
}

func (t *fakeTransport) Consume(_ context.Context, opts core.ConsumeOptions) (core.Consumer, error) {
	if err := t.connect(); err != nil {
		return nil, err
	}
	c := &fakeConsumer{
		id:         opts.ID,
		producerID: opts.ProducerID,
		kind:       opts.Kind,
		track:      &fakeRemoteTrack{id: "track-" + opts.ID, kind: opts.Kind},
	}
	t.mu.Lock()
	t.consumed = append(t.consumed, opts.ProducerID)
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) consumerList() []*fakeConsumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeConsumer(nil), t.consumers...)
}

func (t *fakeTransport) consumedIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.consumed...)
}

type fakeProducer struct {
	id    string
	kind  domain.MediaKind
	track core.LocalTrack

	mu     sync.Mutex
	paused bool
	closed bool
}

func (p *fakeProducer) ID() string             { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }
func (p *fakeProducer) Track() core.LocalTrack { return p.track }
func (p *fakeProducer) Pause()                 { p.mu.Lock(); p.paused = true; p.mu.Unlock() }
func (p *fakeProducer) Resume()                { p.mu.Lock(); p.paused = false; p.mu.Unlock() }
func (p *fakeProducer) Paused() bool           { p.mu.Lock(); defer p.mu.Unlock(); return p.paused }
func (p *fakeProducer) Closed() bool           { p.mu.Lock(); defer p.mu.Unlock(); return p.closed }
func (p *fakeProducer) Close() error           { p.mu.Lock(); p.closed = true; p.mu.Unlock(); return nil }

type fakeConsumer struct {
	id         string
	producerID string
	kind       domain.MediaKind
	track      *fakeRemoteTrack

	mu     sync.Mutex
	closed bool
}

func (c *fakeConsumer) ID() string              { return c.id }
func (c *fakeConsumer) ProducerID() string      { return c.producerID }
func (c *fakeConsumer) Kind() domain.MediaKind  { return c.kind }
func (c *fakeConsumer) Track() core.RemoteTrack { return c.track }
func (c *fakeConsumer) Closed() bool            { c.mu.Lock(); defer c.mu.Unlock(); return c.closed }
func (c *fakeConsumer) Close() error            { c.mu.Lock(); c.closed = true; c.mu.Unlock(); return nil }

type fakeRemoteTrack struct {
	id   string
	kind domain.MediaKind
}

func (t *fakeRemoteTrack) ID() string             { return t.id }
func (t *fakeRemoteTrack) Kind() domain.MediaKind { return t.kind }
func (t *fakeRemoteTrack) Live() bool             { return true }

type fakeLocalTrack struct {
	id   string
	kind domain.MediaKind

	mu      sync.Mutex
	enabled bool
	stopped bool
	ended   map[int]func()
	next    int
}

func newFakeLocalTrack(id string, kind domain.MediaKind) *fakeLocalTrack {
	return &fakeLocalTrack{id: id, kind: kind, enabled: true, ended: make(map[int]func())}
}

func (t *fakeLocalTrack) ID() string             { return t.id }
func (t *fakeLocalTrack) Kind() domain.MediaKind { return t.kind }
func (t *fakeLocalTrack) Enabled() bool          { t.mu.Lock(); defer t.mu.Unlock(); return t.enabled }
func (t *fakeLocalTrack) SetEnabled(v bool)      { t.mu.Lock(); t.enabled = v; t.mu.Unlock() }
func (t *fakeLocalTrack) Stopped() bool          { t.mu.Lock(); defer t.mu.Unlock(); return t.stopped }
func (t *fakeLocalTrack) Stop() error            { t.mu.Lock(); t.stopped = true; t.mu.Unlock(); return nil }

func (t *fakeLocalTrack) OnEnded(fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	t.ended[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.ended, id)
		t.mu.Unlock()
	}
}

// end simulates the system ending the capture.
func (t *fakeLocalTrack) end() {
	t.mu.Lock()
	fns := make([]func(), 0, len(t.ended))
	for _, fn := range t.ended {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fakeCapture struct {
	mic, cam, screen *fakeLocalTrack
	err              error
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{
		mic:    newFakeLocalTrack("mic", domain.KindAudio),
		cam:    newFakeLocalTrack("cam", domain.KindVideo),
		screen: newFakeLocalTrack("screen", domain.KindVideo),
	}
}

func (c *fakeCapture) UserMedia(context.Context) ([]core.LocalTrack, error) {
	if c.err != nil {
		return nil, c.err
	}
	return []core.LocalTrack{c.mic, c.cam}, nil
}

func (c *fakeCapture) DisplayMedia(context.Context) (core.LocalTrack, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.screen, nil
}
