package session

import (
	"context"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/proto"
	"github.com/sourcegraph/conc/pool"
)

// LeaveRoom tears down everything the session owns. It is idempotent and
// safe from a partially joined state. In-flight waits are not cancelled;
// their late results are dropped.
func (s *Session) LeaveRoom(_ context.Context) error {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateLeaving {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLeaving
	s.gen++
	confID := s.conferenceID
	producers := s.producers
	consumers := s.consumers
	sendT, recvT := s.sendT, s.recvT
	tracks := s.localTracks
	unsubs := s.unsubs
	if s.screenUnsub != nil {
		unsubs = append(unsubs, s.screenUnsub)
	}

	s.producers = make(map[domain.MediaKind]core.Producer)
	s.consumers = make(map[string]*consumption)
	s.streams = make(map[domain.StreamKey]*aggregate)
	s.localTracks = nil
	s.unsubs = nil
	s.screenUnsub = nil
	s.screenBusy = false
	s.buffered = nil
	s.gone = tombstones{}
	s.ready = false
	s.joinErr = nil
	s.sendT, s.recvT = nil, nil
	s.mu.Unlock()
	s.emit(Event{Kind: EventState, State: StateLeaving})

	s.unregisterHandlers()
	s.ch.Send(proto.TypeLeave, proto.LeaveRequest{ConferenceID: confID})

	for _, fn := range unsubs {
		fn()
	}
	for _, p := range producers {
		_ = p.Close()
		if !containsTrack(tracks, p.Track()) {
			_ = p.Track().Stop()
		}
	}

	closers := pool.New().WithMaxGoroutines(4)
	for _, c := range consumers {
		closers.Go(func() { _ = c.consumer.Close() })
	}
	closers.Wait()

	if sendT != nil {
		_ = sendT.Close()
	}
	if recvT != nil {
		_ = recvT.Close()
	}
	stopTracks(tracks)

	s.mu.Lock()
	s.device = nil
	s.conferenceID = ""
	s.state = StateIdle
	s.mu.Unlock()

	s.logger.Info().Str("conference_id", confID).Int("producers", len(producers)).Int("consumers", len(consumers)).Msg("left")
	s.emit(Event{Kind: EventStreams})
	s.emit(Event{Kind: EventState, State: StateIdle})
	return nil
}

func containsTrack(tracks []core.LocalTrack, t core.LocalTrack) bool {
	for _, x := range tracks {
		if x == t {
			return true
		}
	}
	return false
}
