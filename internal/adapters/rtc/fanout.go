package rtc

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateDelete
)

// RTPSink receives every packet of a track. *webrtc.TrackLocalStaticRTP is one.
type RTPSink interface {
	WriteRTP(pkt *rtp.Packet) error
}

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// outSink is one attached consumer of a fanout.
type outSink struct {
	sink  RTPSink
	state atomic.Int32 // Zero by default (SinkStateOk)
}

func (s *outSink) State() SinkState { return SinkState(s.state.Load()) }
func (s *outSink) MarkDelete()      { s.state.Store(int32(SinkStateDelete)) }

// fanout copies packets of one track to its sinks. With a reader it owns a
// read loop; without one packets are pushed through forward.
type fanout struct {
	src    rtpReader
	logger zerolog.Logger

	mu    sync.RWMutex
	sinks map[int]*outSink
	next  int

	live   atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

func newFanout(src rtpReader, logger zerolog.Logger) *fanout {
	return &fanout{src: src, logger: logger, sinks: make(map[int]*outSink)}
}

func (f *fanout) start(ctx context.Context) {
	if f.src == nil {
		return
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	f.live.Store(true)
	go f.loop(ctx)
}

// loop reads RTP packets from the source track and forwards them to all sinks.
func (f *fanout) loop(ctx context.Context) {
	defer close(f.done)
	defer f.live.Store(false)
	for {
		select {
		case <-ctx.Done():
			f.markAllDelete()
			return
		default:
		}
		pkt, _, err := f.src.ReadRTP()
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Debug().Err(err).Msg("read RTP ended")
			}
			f.markAllDelete()
			return
		}
		f.forward(pkt)
	}
}

func (f *fanout) forward(pkt *rtp.Packet) {
	f.mu.RLock()
	snapshot := maps.Clone(f.sinks)
	f.mu.RUnlock()

	var dirty []int
	for id, s := range snapshot {
		switch s.State() {
		case SinkStateDelete:
			dirty = append(dirty, id)
		case SinkStateOk:
			if err := s.sink.WriteRTP(pkt); err != nil {
				f.logger.Warn().Err(err).Int("sink", id).Msg("sink write failed, detaching")
				s.MarkDelete()
				dirty = append(dirty, id)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		f.cleanupDeleted(dirty)
	}
}

func (f *fanout) cleanupDeleted(dirty []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range dirty {
		delete(f.sinks, id)
	}
}

func (f *fanout) markAllDelete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sinks {
		s.MarkDelete()
	}
}

// attach adds a sink and returns its handle; MarkDelete on it detaches.
func (f *fanout) attach(sink RTPSink) *outSink {
	s := &outSink{sink: sink}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.src != nil && f.done != nil && !f.live.Load() {
		s.MarkDelete()
		return s
	}
	f.sinks[f.next] = s
	f.next++
	return s
}

func (f *fanout) count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// stop cancels the read loop. The loop exits once the pending ReadRTP returns,
// which happens when the receiver is stopped.
func (f *fanout) stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.markAllDelete()
}
