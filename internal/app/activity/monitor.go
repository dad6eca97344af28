// Package activity derives a debounced active-speaker signal from the
// audio levels of the participants' tracks.
package activity

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var ErrNotStarted = errors.New("activity: monitor not started")

const (
	DefaultPollInterval = 200 * time.Millisecond
	DefaultThreshold    = 0.08
	DefaultHold         = 1500 * time.Millisecond

	binCount = 128
)

// Source is one audio-bearing surface. Screen shares are never analysed.
type Source struct {
	Key    domain.StreamKey
	Track  core.Track
	Screen bool
}

type Options struct {
	// NewContext opens the audio-processing context on Start.
	NewContext   core.AudioContextFactory
	Clock        clock.Clock
	PollInterval time.Duration
	Threshold    float64
	Hold         time.Duration
}

// Update is published after every poll.
type Update struct {
	Levels         map[domain.StreamKey]float64
	Speaker        domain.StreamKey
	SpeakerChanged bool
}

type tap struct {
	track    core.Track
	analyser core.AudioAnalyser
}

type Monitor struct {
	newContext core.AudioContextFactory
	clock      clock.Clock
	interval   time.Duration
	threshold  float64
	hold       time.Duration
	logger     zerolog.Logger

	mu        sync.Mutex
	ctx       core.AudioContext
	taps      map[domain.StreamKey]*tap
	want      map[domain.StreamKey]Source
	levels    map[domain.StreamKey]float64
	speaker   domain.StreamKey
	lastHeard time.Time
	buf       []byte

	stop chan struct{}
	wg   conc.WaitGroup

	subsMu  sync.Mutex
	subs    map[int]func(Update)
	nextSub int
}

func New(opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Hold <= 0 {
		opts.Hold = DefaultHold
	}
	return &Monitor{
		newContext: opts.NewContext,
		clock:      opts.Clock,
		interval:   opts.PollInterval,
		threshold:  opts.Threshold,
		hold:       opts.Hold,
		logger:     log.With().Str("module", "activity").Logger(),
		taps:       make(map[domain.StreamKey]*tap),
		want:       make(map[domain.StreamKey]Source),
		levels:     make(map[domain.StreamKey]float64),
		buf:        make([]byte, binCount),
		subs:       make(map[int]func(Update)),
	}
}

// Start opens the processing context, attaches analysers for the current
// sources and begins polling. Starting twice is a no-op.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		return nil
	}
	if m.newContext == nil {
		return errors.New("activity: no audio context factory")
	}
	ctx, err := m.newContext()
	if err != nil {
		return err
	}
	m.ctx = ctx
	m.reconcileLocked()

	m.stop = make(chan struct{})
	stop := m.stop
	m.wg.Go(func() { m.loop(stop) })
	m.logger.Info().Dur("interval", m.interval).Msg("monitor started")
	return nil
}

// Stop ends polling, releases every analyser and closes the context.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.ctx == nil {
		m.mu.Unlock()
		return
	}
	close(m.stop)
	m.mu.Unlock()
	m.wg.Wait()

	m.mu.Lock()
	for key, p := range m.taps {
		p.analyser.Close()
		delete(m.taps, key)
	}
	if err := m.ctx.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("close audio context")
	}
	m.ctx = nil
	m.levels = make(map[domain.StreamKey]float64)
	m.speaker = ""
	m.mu.Unlock()
	m.logger.Info().Msg("monitor stopped")
}

// Sync replaces the monitored set. Analysers are added and removed to match;
// a source whose track changed gets a fresh analyser.
func (m *Monitor) Sync(sources []Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.want = make(map[domain.StreamKey]Source, len(sources))
	for _, src := range sources {
		if src.Screen || src.Key.IsScreen() || src.Track == nil {
			continue
		}
		m.want[src.Key] = src
	}
	if m.ctx != nil {
		m.reconcileLocked()
	}
}

func (m *Monitor) reconcileLocked() {
	for key, p := range m.taps {
		src, ok := m.want[key]
		if ok && src.Track == p.track {
			continue
		}
		p.analyser.Close()
		delete(m.taps, key)
		delete(m.levels, key)
		if m.speaker == key {
			m.speaker = ""
		}
	}
	for key, src := range m.want {
		if _, ok := m.taps[key]; ok {
			continue
		}
		a, err := m.ctx.NewAnalyser(src.Track)
		if err != nil {
			m.logger.Warn().Err(err).Str("stream_key", string(key)).Msg("attach analyser")
			continue
		}
		m.taps[key] = &tap{track: src.Track, analyser: a}
	}
}

func (m *Monitor) loop(stop <-chan struct{}) {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := m.Poll(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// Poll samples every analyser once and updates the speaker signal.
func (m *Monitor) Poll() (Update, error) {
	m.mu.Lock()
	if m.ctx == nil {
		m.mu.Unlock()
		return Update{}, ErrNotStarted
	}
	now := m.clock.Now()
	levels := make(map[domain.StreamKey]float64, len(m.taps))
	var (
		loudest domain.StreamKey
		peak    float64
	)
	for _, key := range m.sortedKeysLocked() {
		n := m.taps[key].analyser.ByteFrequencyData(m.buf)
		lvl := rms(m.buf[:n])
		levels[key] = lvl
		if lvl > m.threshold && lvl > peak {
			loudest, peak = key, lvl
		}
	}

	prev := m.speaker
	switch {
	case loudest != "":
		m.speaker = loudest
		m.lastHeard = now
	case m.speaker != "" && now.Sub(m.lastHeard) > m.hold:
		m.speaker = ""
	}
	m.levels = levels
	up := Update{Levels: copyLevels(levels), Speaker: m.speaker, SpeakerChanged: prev != m.speaker}
	m.mu.Unlock()

	if up.SpeakerChanged {
		m.logger.Debug().Str("stream_key", string(up.Speaker)).Msg("active speaker")
	}
	m.publish(up)
	return up, nil
}

func (m *Monitor) sortedKeysLocked() []domain.StreamKey {
	keys := make([]domain.StreamKey, 0, len(m.taps))
	for k := range m.taps {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Levels returns the last polled level per stream, in [0,1].
func (m *Monitor) Levels() map[domain.StreamKey]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyLevels(m.levels)
}

// ActiveSpeaker returns the held speaker, if any.
func (m *Monitor) ActiveSpeaker() (domain.StreamKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaker, m.speaker != ""
}

func (m *Monitor) Subscribe(fn func(Update)) (unsubscribe func()) {
	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subsMu.Unlock()
	return func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		m.subsMu.Unlock()
	}
}

func (m *Monitor) publish(up Update) {
	m.subsMu.Lock()
	subs := make([]func(Update), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subsMu.Unlock()
	for _, fn := range subs {
		fn(up)
	}
}

// rms of byte magnitudes normalized to [0,1].
func rms(bins []byte) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bins {
		v := float64(b) / 255
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(bins)))
}

func copyLevels(in map[domain.StreamKey]float64) map[domain.StreamKey]float64 {
	out := make(map[domain.StreamKey]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
