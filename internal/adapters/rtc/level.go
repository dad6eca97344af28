package rtc

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/rtp"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
)

var ErrNotAnalysable = errors.New("rtc: track cannot be analysed")

// levelStale is how long a level reading survives without a fresh packet.
const levelStale = 400 * time.Millisecond

// AudioContext builds analysers from the audio level header extension
// carried on each packet. No audio is decoded.
type AudioContext struct {
	clk clock.Clock

	mu        sync.Mutex
	analysers map[*levelAnalyser]struct{}
	closed    bool
}

func NewAudioContextFactory(clk clock.Clock) core.AudioContextFactory {
	if clk == nil {
		clk = clock.New()
	}
	return func() (core.AudioContext, error) {
		return &AudioContext{clk: clk, analysers: make(map[*levelAnalyser]struct{})}, nil
	}
}

func (c *AudioContext) NewAnalyser(t core.Track) (core.AudioAnalyser, error) {
	if t.Kind() != domain.KindAudio {
		return nil, ErrNotAnalysable
	}
	a := &levelAnalyser{ctx: c, clk: c.clk}
	switch tr := t.(type) {
	case *RemoteTrack:
		a.extID = tr.levelID
		a.handle = tr.fan.attach(a)
	case *LocalTrack:
		a.extID = uint8(tr.levelID.Load())
		a.handle = tr.taps.attach(a)
	default:
		return nil, ErrNotAnalysable
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		a.handle.MarkDelete()
		return nil, errors.New("rtc: audio context closed")
	}
	c.analysers[a] = struct{}{}
	return a, nil
}

func (c *AudioContext) Close() error {
	c.mu.Lock()
	c.closed = true
	list := make([]*levelAnalyser, 0, len(c.analysers))
	for a := range c.analysers {
		list = append(list, a)
	}
	clear(c.analysers)
	c.mu.Unlock()
	for _, a := range list {
		a.handle.MarkDelete()
	}
	return nil
}

func (c *AudioContext) forget(a *levelAnalyser) {
	c.mu.Lock()
	delete(c.analysers, a)
	c.mu.Unlock()
}

type levelAnalyser struct {
	ctx    *AudioContext
	clk    clock.Clock
	extID  uint8
	handle *outSink

	mu  sync.Mutex
	amp float64
	at  time.Time
}

// WriteRTP records the packet's level. Packets without the extension are ignored.
func (a *levelAnalyser) WriteRTP(pkt *rtp.Packet) error {
	if a.extID == 0 {
		return nil
	}
	raw := pkt.GetExtension(a.extID)
	if raw == nil {
		return nil
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return nil
	}
	amp := levelAmplitude(ext.Level)
	a.mu.Lock()
	a.amp = amp
	a.at = a.clk.Now()
	a.mu.Unlock()
	return nil
}

// levelAmplitude turns -dBov (0 loudest, 127 silence) into a linear amplitude.
func levelAmplitude(level uint8) float64 {
	if level >= 127 {
		return 0
	}
	return math.Pow(10, -float64(level)/20)
}

// ByteFrequencyData fills buf with a flat spectrum at the current level,
// so its RMS over 255 equals the amplitude.
func (a *levelAnalyser) ByteFrequencyData(buf []byte) int {
	a.mu.Lock()
	amp := a.amp
	if a.at.IsZero() || a.clk.Since(a.at) > levelStale {
		amp = 0
	}
	a.mu.Unlock()
	v := byte(math.Round(math.Min(amp, 1) * 255))
	for i := range buf {
		buf[i] = v
	}
	return len(buf)
}

func (a *levelAnalyser) Close() {
	a.handle.MarkDelete()
	a.ctx.forget(a)
}
