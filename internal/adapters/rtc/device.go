package rtc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/proto"
)

var (
	ErrNotLoaded          = errors.New("rtc: device not loaded")
	ErrAlreadyLoaded      = errors.New("rtc: device already loaded")
	ErrNoCodec            = errors.New("rtc: router offers no supported codec")
	ErrClosed             = errors.New("rtc: closed")
	ErrForeignTrack       = errors.New("rtc: track was not captured by this engine")
	ErrCaptureUnsupported = errors.New("rtc: media capture is not supported on this platform")
)

var (
	_ core.Engine        = (*Engine)(nil)
	_ core.Device        = (*Device)(nil)
	_ core.SendTransport = (*SendTransport)(nil)
	_ core.RecvTransport = (*RecvTransport)(nil)
	_ core.Producer      = (*Producer)(nil)
	_ core.Consumer      = (*Consumer)(nil)
	_ core.LocalTrack    = (*LocalTrack)(nil)
	_ core.RemoteTrack   = (*RemoteTrack)(nil)
	_ core.Capture       = (*Capture)(nil)
	_ core.AudioContext  = (*AudioContext)(nil)
)

type Options struct {
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

// DefaultOptions keeps brief relay outages from failing the transport.
func DefaultOptions() Options {
	return Options{
		DisconnectedTimeout: 30 * time.Second,
		FailedTimeout:       120 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// Engine is the pion-backed media engine.
type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

func (e *Engine) NewDevice() (core.Device, error) {
	return &Device{opts: e.opts}, nil
}

// Device holds the codec set loaded from the router for one join.
type Device struct {
	opts Options

	mu   sync.Mutex
	api  *webrtc.API
	caps proto.RtpCapabilities
}

func (d *Device) Load(router proto.RtpCapabilities) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.api != nil {
		return ErrAlreadyLoaded
	}

	m := &webrtc.MediaEngine{}
	var caps proto.RtpCapabilities
	for _, c := range router.Codecs {
		typ, ok := codecType(c.Kind)
		if !ok || !supportedCodec(c) {
			continue
		}
		if err := m.RegisterCodec(codecToPion(c), typ); err != nil {
			return fmt.Errorf("rtc: register codec %s: %w", c.MimeType, err)
		}
		caps.Codecs = append(caps.Codecs, c)
	}
	if len(caps.Codecs) == 0 {
		return ErrNoCodec
	}
	for _, h := range router.HeaderExtensions {
		typ, ok := codecType(h.Kind)
		if !ok {
			continue
		}
		if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: h.URI}, typ); err != nil {
			log.Debug().Err(err).Str("module", "webrtc").Str("uri", h.URI).Msg("header extension skipped")
			continue
		}
		caps.HeaderExtensions = append(caps.HeaderExtensions, h)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return fmt.Errorf("rtc: interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(d.opts.DisconnectedTimeout, d.opts.FailedTimeout, d.opts.KeepAliveInterval)

	d.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)
	d.caps = caps
	log.Info().
		Str("module", "webrtc").
		Int("codecs", len(caps.Codecs)).
		Int("header_extensions", len(caps.HeaderExtensions)).
		Msg("device loaded")
	return nil
}

func (d *Device) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.api != nil
}

// RtpCapabilities returns the router capabilities this device kept.
func (d *Device) RtpCapabilities() proto.RtpCapabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

func (d *Device) loadedAPI() (*webrtc.API, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.api == nil {
		return nil, ErrNotLoaded
	}
	return d.api, nil
}

func (d *Device) CreateSendTransport(opts proto.TransportOptions) (core.SendTransport, error) {
	api, err := d.loadedAPI()
	if err != nil {
		return nil, err
	}
	t, err := newTransport(api, opts, "send")
	if err != nil {
		return nil, err
	}
	return &SendTransport{transport: t}, nil
}

func (d *Device) CreateRecvTransport(opts proto.TransportOptions) (core.RecvTransport, error) {
	api, err := d.loadedAPI()
	if err != nil {
		return nil, err
	}
	t, err := newTransport(api, opts, "recv")
	if err != nil {
		return nil, err
	}
	return &RecvTransport{transport: t}, nil
}
