package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/proto"
)

// produceHandler answers the send transport's produce event with the
// server-assigned id. produce_result is a shared slot, so round trips are chained.
func (s *Session) produceHandler(g uint64) core.ProduceHandler {
	return func(ctx context.Context, p core.ProduceParams) (string, error) {
		var id string
		err := s.produces.reserve().run(ctx, func() error {
			confID, ok := s.current(g, StateActive)
			if !ok {
				return ErrNotJoined
			}
			w := s.ch.Expect(proto.TypeProduceResult)
			s.ch.Send(proto.TypeProduce, proto.ProduceRequest{
				ConferenceID:  confID,
				Kind:          string(p.Kind),
				RtpParameters: p.RtpParameters,
				AppData:       p.AppData,
			})
			raw, err := w.Wait(ctx, s.requestTimeout)
			if err != nil {
				return fmt.Errorf("produce %s: %w", p.Kind, err)
			}
			res, err := decode[proto.ProduceResult](raw, proto.TypeProduceResult)
			if err != nil {
				return err
			}
			if res.ID == "" {
				return fmt.Errorf("produce %s: empty id", p.Kind)
			}
			id = res.ID
			return nil
		})
		return id, err
	}
}

// ProduceLocalMedia captures microphone and camera and produces each track.
func (s *Session) ProduceLocalMedia(ctx context.Context) error {
	s.mu.Lock()
	g := s.gen
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNotJoined
	}
	sendT := s.sendT
	s.mu.Unlock()

	if s.capture == nil {
		err := fmt.Errorf("capture user media: %w", ErrNoCapture)
		s.emitError(err)
		return err
	}
	tracks, err := s.capture.UserMedia(ctx)
	if err != nil {
		err = fmt.Errorf("capture user media: %w", err)
		s.emitError(err)
		return err
	}

	s.mu.Lock()
	if s.gen != g {
		s.mu.Unlock()
		stopTracks(tracks)
		return ErrNotJoined
	}
	s.localTracks = append(s.localTracks, tracks...)
	for _, t := range tracks {
		switch t.Kind() {
		case domain.KindAudio:
			t.SetEnabled(!s.muted)
		case domain.KindVideo:
			t.SetEnabled(!s.videoOff)
		}
		id := t.ID()
		s.unsubs = append(s.unsubs, t.OnEnded(func() {
			s.logger.Warn().Str("track_id", id).Msg("local track ended")
			s.emit(Event{Kind: EventLocal})
		}))
	}
	s.mu.Unlock()

	var errs []error
	for _, t := range tracks {
		producer, err := sendT.Produce(ctx, t, nil)
		if err != nil {
			err = fmt.Errorf("produce %s: %w", t.Kind(), err)
			s.emitError(err)
			errs = append(errs, err)
			continue
		}

		s.mu.Lock()
		if s.gen != g {
			s.mu.Unlock()
			_ = producer.Close()
			return ErrNotJoined
		}
		s.producers[t.Kind()] = producer
		if (t.Kind() == domain.KindAudio && s.muted) || (t.Kind() == domain.KindVideo && s.videoOff) {
			producer.Pause()
		}
		s.mu.Unlock()
		s.logger.Info().Str("producer_id", producer.ID()).Str("kind", string(t.Kind())).Msg("producing")
	}
	s.emit(Event{Kind: EventLocal})
	return errors.Join(errs...)
}

// ToggleMute flips the microphone and returns the new muted state.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	s.muted = !s.muted
	muted := s.muted
	s.applyLocked(domain.KindAudio, !muted)
	s.mu.Unlock()

	s.logger.Info().Bool("muted", muted).Msg("toggle mute")
	s.emit(Event{Kind: EventLocal})
	return muted
}

// ToggleVideo flips the camera and returns the new disabled state.
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	s.videoOff = !s.videoOff
	off := s.videoOff
	s.applyLocked(domain.KindVideo, !off)
	s.mu.Unlock()

	s.logger.Info().Bool("video_off", off).Msg("toggle video")
	s.emit(Event{Kind: EventLocal})
	return off
}

// applyLocked pauses or resumes the production of kind and mirrors the
// enabled flag onto the local track.
func (s *Session) applyLocked(kind domain.MediaKind, enabled bool) {
	if p, ok := s.producers[kind]; ok {
		if enabled {
			p.Resume()
		} else {
			p.Pause()
		}
	}
	for _, t := range s.localTracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}

func stopTracks(tracks []core.LocalTrack) {
	for _, t := range tracks {
		_ = t.Stop()
	}
}
