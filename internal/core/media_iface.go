package core

import (
	"context"

	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/proto"
)

// The native media engine contract. The session only orchestrates these
// objects; ICE, DTLS and RTP stay behind them.

// Engine creates one Device per join.
type Engine interface {
	NewDevice() (Device, error)
}

type Device interface {
	// Load must complete before any transport is created.
	Load(caps proto.RtpCapabilities) error
	Loaded() bool
	// RtpCapabilities returns the local receive capabilities sent with consume.
	RtpCapabilities() proto.RtpCapabilities
	CreateSendTransport(opts proto.TransportOptions) (SendTransport, error)
	CreateRecvTransport(opts proto.TransportOptions) (RecvTransport, error)
}

// ConnectHandler is invoked once, the first time media is about to flow.
// Returning nil acknowledges the connect to the engine.
type ConnectHandler func(dtls proto.DtlsParameters) error

// ProduceHandler is invoked once per new local production and must return
// the server-assigned production id.
type ProduceHandler func(ctx context.Context, p ProduceParams) (string, error)

type ProduceParams struct {
	Kind          domain.MediaKind
	RtpParameters proto.RtpParameters
	AppData       *proto.AppData
}

type Transport interface {
	ID() string
	OnConnect(ConnectHandler)
	// OnStateChange reports ICE/DTLS progress; informational only.
	OnStateChange(func(state string))
	Close() error
	Closed() bool
}

type SendTransport interface {
	Transport
	OnProduce(ProduceHandler)
	Produce(ctx context.Context, track LocalTrack, appData *proto.AppData) (Producer, error)
}

type RecvTransport interface {
	Transport
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
}

type ConsumeOptions struct {
	ID            string
	ProducerID    string
	Kind          domain.MediaKind
	RtpParameters proto.RtpParameters
}

type Producer interface {
	ID() string
	Kind() domain.MediaKind
	Track() LocalTrack
	Pause()
	Resume()
	Paused() bool
	Close() error
	Closed() bool
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	Track() RemoteTrack
	Close() error
	Closed() bool
}

// Track kinds are audio or video; a screen share is a video track.
type Track interface {
	ID() string
	Kind() domain.MediaKind
}

type LocalTrack interface {
	Track
	Enabled() bool
	SetEnabled(bool)
	// OnEnded subscribes to the end-of-track signal (device unplugged, share
	// stopped from the system UI). The returned func unsubscribes.
	OnEnded(func()) (unsubscribe func())
	Stop() error
}

type RemoteTrack interface {
	Track
	Live() bool
}

// StreamRecorder persists a remote track of surface key until stop is called.
type StreamRecorder interface {
	Record(key domain.StreamKey, track RemoteTrack) (stop func(), err error)
}

// Capture acquires local tracks.
type Capture interface {
	UserMedia(ctx context.Context) ([]LocalTrack, error)
	DisplayMedia(ctx context.Context) (LocalTrack, error)
}
