package rtc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
)

var ErrNotRecordable = errors.New("rtc: codec cannot be recorded")

// Recorder writes remote tracks to dir: opus audio as Ogg, VP8 video as IVF.
type Recorder struct {
	dir    string
	logger zerolog.Logger
}

var _ core.StreamRecorder = (*Recorder)(nil)

func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rtc: recording dir: %w", err)
	}
	return &Recorder{dir: dir, logger: log.With().Str("module", "rtc.recorder").Logger()}, nil
}

type mediaWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// fileSink guards a writer against the fan-out loop writing while it closes.
type fileSink struct {
	mu     sync.Mutex
	w      mediaWriter
	closed bool
}

func (s *fileSink) WriteRTP(pkt *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.w.WriteRTP(pkt)
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}

// Record attaches a file sink to track. Only tracks of this engine can be recorded.
func (r *Recorder) Record(key domain.StreamKey, track core.RemoteTrack) (func(), error) {
	rt, ok := track.(*RemoteTrack)
	if !ok {
		return nil, ErrForeignTrack
	}

	var (
		w    mediaWriter
		path string
		err  error
	)
	base := filepath.Join(r.dir, fileSafe(string(key))+"-"+fileSafe(rt.ID()))
	switch strings.ToLower(rt.MimeType()) {
	case strings.ToLower(webrtc.MimeTypeOpus):
		path = base + ".ogg"
		w, err = oggwriter.New(path, 48000, 2)
	case strings.ToLower(webrtc.MimeTypeVP8):
		path = base + ".ivf"
		w, err = ivfwriter.New(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrNotRecordable, rt.MimeType())
	}
	if err != nil {
		return nil, fmt.Errorf("rtc: open recording: %w", err)
	}

	sink := &fileSink{w: w}
	detach := rt.Attach(sink)
	logger := r.logger.With().Str("stream_key", string(key)).Str("file", path).Logger()
	logger.Info().Msg("recording")

	return sync.OnceFunc(func() {
		detach()
		if err := sink.Close(); err != nil {
			logger.Warn().Err(err).Msg("close recording")
			return
		}
		logger.Info().Msg("recording closed")
	}), nil
}

func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, s)
}
