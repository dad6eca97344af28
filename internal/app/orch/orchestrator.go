// Package orch ties the media session, the activity monitor and the
// preferences together and publishes the resolved layout.
package orch

import (
	"context"
	"sync"

	"github.com/dkeye/VoiceClient/internal/app"
	"github.com/dkeye/VoiceClient/internal/app/activity"
	"github.com/dkeye/VoiceClient/internal/app/layout"
	"github.com/dkeye/VoiceClient/internal/app/session"
	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MediaSession is the part of *session.Session the orchestrator drives.
type MediaSession interface {
	JoinRoom(ctx context.Context, conferenceID string) error
	LeaveRoom(ctx context.Context) error
	ProduceLocalMedia(ctx context.Context) error
	ToggleMute() bool
	ToggleVideo() bool
	StartScreenShare(ctx context.Context) error
	StopScreenShare(ctx context.Context) error
	State() session.State
	ConferenceID() string
	LocalState() session.LocalState
	LocalTracks() []core.LocalTrack
	LocalScreenTrack() core.LocalTrack
	Streams() []session.Stream
	Subscribe(fn func(session.Event)) (unsubscribe func())
}

// Monitor is the part of *activity.Monitor the orchestrator drives.
type Monitor interface {
	Start() error
	Stop()
	Sync(sources []activity.Source)
	Levels() map[domain.StreamKey]float64
	ActiveSpeaker() (domain.StreamKey, bool)
	Subscribe(fn func(activity.Update)) (unsubscribe func())
}

// Reconnector reports signaling reconnects and the loss of the channel
// after a failed reconnect.
type Reconnector interface {
	OnReconnect(fn func())
	OnLost(fn func(err error))
}

type Options struct {
	Session  MediaSession
	Monitor  Monitor
	Registry *app.Registry
	Store    core.PreferencesStore
	Policy   app.Policy
	Channel  Reconnector
	// Recorder, when set, records every remote track while it is consumed.
	Recorder core.StreamRecorder

	// IncludeLocalAudio also feeds the local microphone to the monitor.
	IncludeLocalAudio bool
}

type Orchestrator struct {
	Session  MediaSession
	Monitor  Monitor
	Registry *app.Registry
	Store    core.PreferencesStore
	Policy   app.Policy

	includeLocalAudio bool
	logger            zerolog.Logger

	recorder   core.StreamRecorder
	recMu      sync.Mutex
	recordings map[string]func()

	mu    sync.Mutex
	prefs domain.LayoutPreferences
	last  layout.ResolvedLayout

	subsMu  sync.Mutex
	subs    map[int]func(layout.ResolvedLayout)
	nextSub int

	lost   chan error
	unsubs []func()
}

// New loads the stored preferences and subscribes to session and monitor
// events. Close undoes the subscriptions.
func New(opts Options) (*Orchestrator, error) {
	o := &Orchestrator{
		Session:           opts.Session,
		Monitor:           opts.Monitor,
		Registry:          opts.Registry,
		Store:             opts.Store,
		Policy:            opts.Policy,
		includeLocalAudio: opts.IncludeLocalAudio,
		logger:            log.With().Str("module", "orch").Logger(),
		prefs:             domain.DefaultPreferences(),
		subs:              make(map[int]func(layout.ResolvedLayout)),
		lost:              make(chan error, 1),
		recorder:          opts.Recorder,
		recordings:        make(map[string]func()),
	}
	if o.Policy == nil {
		o.Policy = app.SimplePolicy{}
	}
	if o.Store != nil {
		p, err := o.Store.Load()
		if err != nil {
			return nil, err
		}
		p.Normalize()
		o.prefs = p
	}

	o.unsubs = append(o.unsubs,
		o.Session.Subscribe(o.onSessionEvent),
		o.Monitor.Subscribe(o.onActivity),
	)
	if opts.Channel != nil {
		opts.Channel.OnReconnect(o.onReconnect)
		opts.Channel.OnLost(o.onLost)
	}
	o.refresh()
	return o, nil
}

func (o *Orchestrator) Close() {
	for _, fn := range o.unsubs {
		fn()
	}
	o.unsubs = nil
	o.Monitor.Stop()
	o.stopRecordings()
}

// OnLayout registers fn for every newly resolved layout.
func (o *Orchestrator) OnLayout(fn func(layout.ResolvedLayout)) (unsubscribe func()) {
	o.subsMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.subsMu.Unlock()
	return func() {
		o.subsMu.Lock()
		delete(o.subs, id)
		o.subsMu.Unlock()
	}
}

// Layout returns the most recently resolved layout.
func (o *Orchestrator) Layout() layout.ResolvedLayout {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// refresh resolves the layout from current state and publishes it.
func (o *Orchestrator) refresh() {
	participants := o.Participants()
	speaker, _ := o.Monitor.ActiveSpeaker()

	o.mu.Lock()
	resolved := layout.Resolve(participants, o.prefs, speaker)
	o.last = resolved
	o.mu.Unlock()

	o.subsMu.Lock()
	subs := make([]func(layout.ResolvedLayout), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.subsMu.Unlock()
	for _, fn := range subs {
		fn(resolved)
	}
}
