// Package session implements the client media session state machine:
// capability negotiation, transport creation and connect, local production
// and remote consumption, screen share, and teardown.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/proto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateIdle    State = "idle"
	StateJoining State = "joining"
	StateActive  State = "active"
	StateLeaving State = "leaving"
)

var (
	ErrNotJoined     = errors.New("session: not joined")
	ErrAlreadyJoined = errors.New("session: already joined")
	ErrNoDevice      = errors.New("session: no media device")
	ErrNoCapture     = errors.New("session: no capture, receive-only")
	ErrServer        = errors.New("session: server error")
	ErrMisdelivered  = errors.New("session: response for another request")
)

type Options struct {
	Channel core.MessageChannel
	Engine  core.Engine
	Capture core.Capture

	// RequestTimeout bounds produce and consume round trips.
	RequestTimeout time.Duration
	// SignalTimeout bounds the join negotiation.
	SignalTimeout time.Duration
}

// consumption is one remote consumer and the surface it feeds.
type consumption struct {
	consumer   core.Consumer
	producerID string
	userID     domain.UserID
	key        domain.StreamKey
}

// announcement is a new_producer numbered in arrival order.
type announcement struct {
	proto.NewProducer
	seq uint64
}

// tombstones remember removals that may overtake an in-flight consume.
type tombstones struct {
	producers map[string]struct{}
	// departed maps a user to the last announcement seen before it left.
	departed map[domain.UserID]uint64
}

func (t *tombstones) closeProducer(id string) {
	if t.producers == nil {
		t.producers = make(map[string]struct{})
	}
	t.producers[id] = struct{}{}
}

func (t *tombstones) depart(user domain.UserID, seq uint64) {
	if t.departed == nil {
		t.departed = make(map[domain.UserID]uint64)
	}
	t.departed[user] = seq
}

// covers reports whether a was removed before its consumer could be installed.
func (t *tombstones) covers(a announcement) bool {
	if _, ok := t.producers[a.ProducerID]; ok {
		return true
	}
	last, ok := t.departed[domain.UserID(a.UserID)]
	return ok && a.seq <= last
}

// Session is the single owner of transports, productions and consumptions.
type Session struct {
	ch      core.MessageChannel
	engine  core.Engine
	capture core.Capture

	requestTimeout time.Duration
	signalTimeout  time.Duration

	logger zerolog.Logger

	mu           sync.Mutex
	state        State
	gen          uint64
	conferenceID string
	device       core.Device
	sendT        core.SendTransport
	recvT        core.RecvTransport
	producers    map[domain.MediaKind]core.Producer
	consumers    map[string]*consumption
	streams      map[domain.StreamKey]*aggregate
	localTracks  []core.LocalTrack
	unsubs       []func()
	buffered     []announcement
	announced    uint64
	gone         tombstones
	ready        bool
	joinErr      chan error
	screenUnsub  func()
	screenBusy   bool
	muted        bool
	videoOff     bool

	consumes chain
	produces chain

	subsMu  sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

func New(opts Options) *Session {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.SignalTimeout <= 0 {
		opts.SignalTimeout = 15 * time.Second
	}
	return &Session{
		ch:             opts.Channel,
		engine:         opts.Engine,
		capture:        opts.Capture,
		requestTimeout: opts.RequestTimeout,
		signalTimeout:  opts.SignalTimeout,
		logger:         log.With().Str("module", "session").Logger(),
		state:          StateIdle,
		producers:      make(map[domain.MediaKind]core.Producer),
		consumers:      make(map[string]*consumption),
		streams:        make(map[domain.StreamKey]*aggregate),
		subs:           make(map[int]func(Event)),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ConferenceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conferenceID
}

// LocalState is a snapshot of the local media toggles.
type LocalState struct {
	Muted    bool `json:"muted"`
	VideoOff bool `json:"video_off"`
	Sharing  bool `json:"sharing"`
	Audio    bool `json:"audio"`
	Video    bool `json:"video"`
}

func (s *Session) LocalState() LocalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, sharing := s.producers[domain.KindScreen]
	_, audio := s.producers[domain.KindAudio]
	_, video := s.producers[domain.KindVideo]
	return LocalState{Muted: s.muted, VideoOff: s.videoOff, Sharing: sharing, Audio: audio, Video: video}
}

// LocalScreenTrack returns the track of the active screen production, if any.
func (s *Session) LocalScreenTrack() core.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.producers[domain.KindScreen]; ok {
		return p.Track()
	}
	return nil
}

// LocalTracks returns the captured camera and microphone tracks.
func (s *Session) LocalTracks() []core.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.LocalTrack(nil), s.localTracks...)
}

// Streams returns a snapshot of every remote surface.
func (s *Session) Streams() []Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Stream, 0, len(s.streams))
	for _, a := range s.streams {
		out = append(out, a.snapshot())
	}
	return out
}

// current returns the conference id if generation g is still live in one of states.
func (s *Session) current(g uint64, states ...State) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != g {
		return "", false
	}
	for _, st := range states {
		if s.state == st {
			return s.conferenceID, true
		}
	}
	return "", false
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.emit(Event{Kind: EventState, State: st})
}

func decode[T any](raw json.RawMessage, typ string) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", typ, err)
	}
	return v, nil
}
