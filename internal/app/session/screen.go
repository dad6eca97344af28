package session

import (
	"context"
	"fmt"

	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/proto"
)

// StartScreenShare produces a display capture as an extra, independently
// closeable production. It stops by itself when the capture ends. A call
// while another start is in flight is a no-op.
func (s *Session) StartScreenShare(ctx context.Context) error {
	s.mu.Lock()
	g := s.gen
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNotJoined
	}
	if s.capture == nil {
		s.mu.Unlock()
		err := fmt.Errorf("capture display: %w", ErrNoCapture)
		s.emitError(err)
		return err
	}
	if _, ok := s.producers[domain.KindScreen]; ok || s.screenBusy {
		s.mu.Unlock()
		return nil
	}
	s.screenBusy = true
	sendT := s.sendT
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.gen == g {
			s.screenBusy = false
		}
		s.mu.Unlock()
	}()

	track, err := s.capture.DisplayMedia(ctx)
	if err != nil {
		err = fmt.Errorf("capture display: %w", err)
		s.emitError(err)
		return err
	}

	producer, err := sendT.Produce(ctx, track, &proto.AppData{Source: string(domain.KindScreen)})
	if err != nil {
		_ = track.Stop()
		err = fmt.Errorf("produce screen: %w", err)
		s.emitError(err)
		return err
	}

	s.mu.Lock()
	if s.gen != g || s.state != StateActive {
		s.mu.Unlock()
		_ = producer.Close()
		_ = track.Stop()
		return ErrNotJoined
	}
	s.producers[domain.KindScreen] = producer
	s.screenUnsub = track.OnEnded(func() {
		s.logger.Info().Msg("screen capture ended")
		go func() { _ = s.StopScreenShare(context.Background()) }()
	})
	s.mu.Unlock()

	s.logger.Info().Str("producer_id", producer.ID()).Msg("screen share started")
	s.emit(Event{Kind: EventLocal})
	return nil
}

// StopScreenShare closes the screen production and tells the server so
// remote consumers are closed too. It is a no-op when not sharing.
func (s *Session) StopScreenShare(_ context.Context) error {
	s.mu.Lock()
	producer, ok := s.producers[domain.KindScreen]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.producers, domain.KindScreen)
	unsub := s.screenUnsub
	s.screenUnsub = nil
	confID := s.conferenceID
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.ch.Send(proto.TypeProducerClose, proto.ProducerCloseRequest{ConferenceID: confID, ProducerID: producer.ID()})
	_ = producer.Close()
	_ = producer.Track().Stop()

	s.logger.Info().Str("producer_id", producer.ID()).Msg("screen share stopped")
	s.emit(Event{Kind: EventLocal})
	return nil
}
