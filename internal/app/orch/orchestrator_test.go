package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceClient/internal/app"
	"github.com/dkeye/VoiceClient/internal/app/activity"
	"github.com/dkeye/VoiceClient/internal/app/layout"
	"github.com/dkeye/VoiceClient/internal/app/session"
	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type remoteTrack struct {
	id   string
	kind domain.MediaKind
}

func (t remoteTrack) ID() string             { return t.id }
func (t remoteTrack) Kind() domain.MediaKind { return t.kind }
func (t remoteTrack) Live() bool             { return true }

type fakeSession struct {
	mu      sync.Mutex
	state   session.State
	conf    string
	streams []session.Stream
	joinErr error
	joins   []string
	leaves  int
	muted   bool
	subs    []func(session.Event)
}

func (f *fakeSession) JoinRoom(_ context.Context, conf string) error {
	f.mu.Lock()
	f.joins = append(f.joins, conf)
	if f.joinErr != nil {
		f.state = session.StateJoining
		f.mu.Unlock()
		return f.joinErr
	}
	f.state, f.conf = session.StateActive, conf
	f.mu.Unlock()
	f.emit(session.Event{Kind: session.EventState, State: session.StateActive})
	return nil
}

func (f *fakeSession) LeaveRoom(context.Context) error {
	f.mu.Lock()
	f.leaves++
	f.state, f.conf = session.StateIdle, ""
	f.mu.Unlock()
	f.emit(session.Event{Kind: session.EventState, State: session.StateIdle})
	return nil
}

func (f *fakeSession) ProduceLocalMedia(context.Context) error { return nil }

func (f *fakeSession) ToggleMute() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = !f.muted
	return f.muted
}

func (f *fakeSession) ToggleVideo() bool                      { return true }
func (f *fakeSession) StartScreenShare(context.Context) error { return nil }
func (f *fakeSession) StopScreenShare(context.Context) error  { return nil }
func (f *fakeSession) LocalTracks() []core.LocalTrack         { return nil }
func (f *fakeSession) LocalScreenTrack() core.LocalTrack      { return nil }
func (f *fakeSession) Subscribe(fn func(session.Event)) func() {
	f.subs = append(f.subs, fn)
	return func() {}
}
func (f *fakeSession) LocalState() session.LocalState {
	return session.LocalState{Muted: f.isMuted(), Audio: true}
}
func (f *fakeSession) isMuted() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.muted }

func (f *fakeSession) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) ConferenceID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conf
}

func (f *fakeSession) Streams() []session.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Stream(nil), f.streams...)
}

func (f *fakeSession) setStreams(st ...session.Stream) {
	f.mu.Lock()
	f.streams = st
	f.mu.Unlock()
	f.emit(session.Event{Kind: session.EventStreams})
}

func (f *fakeSession) emit(e session.Event) {
	for _, fn := range f.subs {
		fn(e)
	}
}

type fakeMonitor struct {
	mu      sync.Mutex
	started int
	stopped int
	sources []activity.Source
	speaker domain.StreamKey
	subs    []func(activity.Update)
}

func (m *fakeMonitor) Start() error { m.mu.Lock(); m.started++; m.mu.Unlock(); return nil }
func (m *fakeMonitor) Stop()        { m.mu.Lock(); m.stopped++; m.mu.Unlock() }

func (m *fakeMonitor) Sync(s []activity.Source) {
	m.mu.Lock()
	m.sources = s
	m.mu.Unlock()
}

func (m *fakeMonitor) Levels() map[domain.StreamKey]float64 {
	return map[domain.StreamKey]float64{"bob": 0.5}
}

func (m *fakeMonitor) ActiveSpeaker() (domain.StreamKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaker, m.speaker != ""
}

func (m *fakeMonitor) Subscribe(fn func(activity.Update)) func() {
	m.subs = append(m.subs, fn)
	return func() {}
}

func (m *fakeMonitor) speak(key domain.StreamKey) {
	m.mu.Lock()
	m.speaker = key
	m.mu.Unlock()
	for _, fn := range m.subs {
		fn(activity.Update{Speaker: key, SpeakerChanged: true})
	}
}

type memStore struct {
	mu    sync.Mutex
	prefs domain.LayoutPreferences
	saves int
	err   error
}

func (s *memStore) Load() (domain.LayoutPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.Clone(), nil
}

func (s *memStore) Save(p domain.LayoutPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.prefs = p.Clone()
	s.saves++
	return nil
}

type fakeReconnector struct {
	fn   func()
	lost func(error)
}

func (r *fakeReconnector) OnReconnect(fn func())     { r.fn = fn }
func (r *fakeReconnector) OnLost(fn func(err error)) { r.lost = fn }

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeSession, *fakeMonitor, *memStore) {
	t.Helper()
	sess := &fakeSession{state: session.StateIdle}
	mon := &fakeMonitor{}
	store := &memStore{prefs: domain.DefaultPreferences()}
	o, err := New(Options{
		Session:  sess,
		Monitor:  mon,
		Registry: app.NewRegistry(domain.User{ID: "me", DisplayName: "Me"}),
		Store:    store,
	})
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o, sess, mon, store
}

func camera(user string, kinds ...domain.MediaKind) session.Stream {
	st := session.Stream{Key: domain.StreamKey(user), UserID: domain.UserID(user)}
	for _, k := range kinds {
		st.Tracks = append(st.Tracks, remoteTrack{id: user + "-" + string(k), kind: k})
	}
	return st
}

func TestOrchestratorParticipants(t *testing.T) {
	t.Parallel()

	o, sess, mon, _ := newTestOrchestrator(t)
	require.NoError(t, o.Registry.SetName("bob", "Bob"))
	screen := session.Stream{Key: "bob:screen", UserID: "bob", Screen: true, Tracks: []core.RemoteTrack{remoteTrack{id: "s", kind: domain.KindVideo}}}
	sess.setStreams(camera("bob", domain.KindAudio, domain.KindVideo), screen)

	ps := o.Participants()
	require.Len(t, ps, 3)
	assert.True(t, ps[0].IsLocal)
	assert.Equal(t, domain.StreamKey("me"), ps[0].StreamKey)
	assert.False(t, ps[0].HasVideo())
	assert.Equal(t, "Bob", ps[1].DisplayName)
	assert.InDelta(t, 0.5, ps[1].AudioLevel, 1e-9)
	assert.True(t, ps[1].HasVideo())
	assert.True(t, ps[2].IsScreenShare)

	assert.Equal(t, domain.ModeSidebar, o.Layout().EffectiveMode)
	assert.Equal(t, domain.StreamKey("bob:screen"), o.Layout().Primary[0].StreamKey)

	mon.mu.Lock()
	defer mon.mu.Unlock()
	require.Len(t, mon.sources, 1)
	assert.Equal(t, domain.StreamKey("bob"), mon.sources[0].Key)
}

func TestOrchestratorPublishesOnSpeakerChange(t *testing.T) {
	t.Parallel()

	o, sess, mon, _ := newTestOrchestrator(t)
	sess.setStreams(camera("bob", domain.KindAudio), camera("cat", domain.KindAudio))

	var got []layout.ResolvedLayout
	unsubscribe := o.OnLayout(func(l layout.ResolvedLayout) { got = append(got, l) })
	defer unsubscribe()

	mon.speak("cat")
	require.Len(t, got, 1)
	assert.Equal(t, domain.ModeTiled, got[0].EffectiveMode)
	assert.Equal(t, domain.StreamKey("cat"), got[0].Primary[0].StreamKey)
}

func TestOrchestratorTogglePin(t *testing.T) {
	t.Parallel()

	o, _, _, store := newTestOrchestrator(t)
	for _, k := range []domain.StreamKey{"a", "b", "c", "d", "e", "f"} {
		pinned, err := o.TogglePin(k)
		require.NoError(t, err)
		assert.True(t, pinned)
	}

	_, err := o.TogglePin("g")
	assert.ErrorIs(t, err, domain.ErrPinLimit)
	assert.Len(t, o.Preferences().PinnedStreamKeys, domain.MaxPins)
	assert.Equal(t, 6, store.saves)

	pinned, err := o.TogglePin("c")
	require.NoError(t, err)
	assert.False(t, pinned)
	assert.Len(t, o.Preferences().PinnedStreamKeys, domain.MaxPins-1)
}

func TestOrchestratorStoreFailureKeepsPreferences(t *testing.T) {
	t.Parallel()

	o, _, _, store := newTestOrchestrator(t)
	store.err = errors.New("disk full")

	assert.Error(t, o.SetMode(domain.ModeSidebar))
	assert.Equal(t, domain.ModeAuto, o.Preferences().Mode)
	assert.ErrorIs(t, o.SetTiledMaxTiles(50), domain.ErrInvalidTiles)
}

func TestOrchestratorJoinLifecycle(t *testing.T) {
	t.Parallel()

	o, sess, mon, _ := newTestOrchestrator(t)
	require.NoError(t, o.Join(context.Background(), "conf1"))
	assert.Equal(t, 1, mon.started)

	require.NoError(t, o.Leave(context.Background()))
	assert.Equal(t, 1, mon.stopped)
	assert.Equal(t, session.StateIdle, sess.State())
}

func TestOrchestratorFailedJoinLeaves(t *testing.T) {
	t.Parallel()

	o, sess, _, _ := newTestOrchestrator(t)
	sess.joinErr = session.ErrServer

	err := o.Join(context.Background(), "conf1")
	assert.ErrorIs(t, err, session.ErrServer)
	assert.Equal(t, 1, sess.leaves)
	assert.Equal(t, session.StateIdle, sess.State())
}

func TestOrchestratorReconnect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		policy    app.Policy
		wantJoins []string
	}{
		{name: "rejoin", policy: app.SimplePolicy{}, wantJoins: []string{"conf1", "conf1"}},
		{name: "stay", policy: app.SimplePolicy{NoRejoin: true}, wantJoins: []string{"conf1"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sess := &fakeSession{state: session.StateIdle}
			rc := &fakeReconnector{}
			o, err := New(Options{
				Session:  sess,
				Monitor:  &fakeMonitor{},
				Registry: app.NewRegistry(domain.User{ID: "me", DisplayName: "Me"}),
				Policy:   tc.policy,
				Channel:  rc,
			})
			require.NoError(t, err)
			defer o.Close()

			require.NoError(t, o.Join(context.Background(), "conf1"))
			require.NotNil(t, rc.fn)
			rc.fn()

			assert.Eventually(t, func() bool {
				sess.mu.Lock()
				defer sess.mu.Unlock()
				return sess.leaves == 1 && len(sess.joins) == len(tc.wantJoins)
			}, time.Second, 5*time.Millisecond)
			sess.mu.Lock()
			defer sess.mu.Unlock()
			assert.Equal(t, tc.wantJoins, sess.joins)
		})
	}
}

func TestOrchestratorRunEndsWhenSignalingLost(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{state: session.StateIdle}
	rc := &fakeReconnector{}
	o, err := New(Options{
		Session:  sess,
		Monitor:  &fakeMonitor{},
		Registry: app.NewRegistry(domain.User{ID: "me", DisplayName: "Me"}),
		Channel:  rc,
	})
	require.NoError(t, err)
	defer o.Close()
	require.NotNil(t, rc.lost)

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), "conf1") }()
	require.Eventually(t, func() bool { return sess.State() == session.StateActive }, time.Second, 5*time.Millisecond)

	dialErr := errors.New("dial refused")
	rc.lost(dialErr)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSignalingLost)
		assert.ErrorIs(t, err, dialErr)
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept waiting on a lost channel")
	}
	assert.Equal(t, session.StateIdle, sess.State())
	sess.mu.Lock()
	assert.Equal(t, []string{"conf1"}, sess.joins)
	sess.mu.Unlock()
}

type fakeRecorder struct {
	mu      sync.Mutex
	started []string
	stopped []string
	failOn  string
}

func (r *fakeRecorder) Record(key domain.StreamKey, track core.RemoteTrack) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if track.ID() == r.failOn {
		return nil, errors.New("codec cannot be recorded")
	}
	name := string(key) + "/" + track.ID()
	r.started = append(r.started, name)
	return func() {
		r.mu.Lock()
		r.stopped = append(r.stopped, name)
		r.mu.Unlock()
	}, nil
}

func (r *fakeRecorder) snapshot() (started, stopped []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...), append([]string(nil), r.stopped...)
}

func TestOrchestratorRecordsRemoteTracks(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{state: session.StateIdle}
	rec := &fakeRecorder{failOn: "carol-video"}
	o, err := New(Options{
		Session:  sess,
		Monitor:  &fakeMonitor{},
		Registry: app.NewRegistry(domain.User{ID: "me", DisplayName: "Me"}),
		Recorder: rec,
	})
	require.NoError(t, err)

	sess.setStreams(camera("bob", domain.KindAudio, domain.KindVideo), camera("carol", domain.KindVideo))
	sess.setStreams(camera("bob", domain.KindAudio, domain.KindVideo), camera("carol", domain.KindVideo))
	started, stopped := rec.snapshot()
	assert.ElementsMatch(t, []string{"bob/bob-audio", "bob/bob-video"}, started, "each track is recorded once")
	assert.Empty(t, stopped)

	sess.setStreams(camera("bob", domain.KindAudio))
	_, stopped = rec.snapshot()
	assert.Equal(t, []string{"bob/bob-video"}, stopped)

	o.Close()
	started, stopped = rec.snapshot()
	assert.Len(t, started, 2)
	assert.ElementsMatch(t, []string{"bob/bob-video", "bob/bob-audio"}, stopped)
}

func TestOrchestratorSetNameRepublishes(t *testing.T) {
	t.Parallel()

	o, sess, _, _ := newTestOrchestrator(t)
	sess.setStreams(camera("bob0000001", domain.KindAudio))
	assert.Equal(t, "bob00000", o.Participants()[1].DisplayName)

	var got []layout.ResolvedLayout
	unsubscribe := o.OnLayout(func(l layout.ResolvedLayout) { got = append(got, l) })
	defer unsubscribe()

	require.NoError(t, o.SetName("bob0000001", "  Bob "))
	require.Len(t, got, 1)
	var names []string
	for _, p := range append(got[0].Primary, got[0].Secondary...) {
		names = append(names, p.DisplayName)
	}
	assert.Contains(t, names, "Bob")

	assert.ErrorIs(t, o.SetName("bob0000001", ""), domain.ErrDisplayNameEmpty)
	assert.Len(t, got, 1)
}
