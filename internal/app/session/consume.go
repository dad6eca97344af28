package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/proto"
)

// announcedKind maps an announcement to the surface kind; screen shares get
// their own stream key.
func announcedKind(np proto.NewProducer) domain.MediaKind {
	if np.Kind == string(domain.KindScreen) || (np.AppData != nil && np.AppData.Source == string(domain.KindScreen)) {
		return domain.KindScreen
	}
	if np.Kind == string(domain.KindAudio) {
		return domain.KindAudio
	}
	return domain.KindVideo
}

// trackKind maps a wire kind to the engine track kind.
func trackKind(kind string) domain.MediaKind {
	if kind == string(domain.KindAudio) {
		return domain.KindAudio
	}
	return domain.KindVideo
}

func (s *Session) onNewProducer(g uint64, raw json.RawMessage) {
	np, err := decode[proto.NewProducer](raw, proto.TypeNewProducer)
	if err != nil || np.ProducerID == "" {
		s.logger.Warn().Err(err).Msg("bad new_producer payload")
		return
	}

	s.mu.Lock()
	if s.gen != g || (s.state != StateJoining && s.state != StateActive) {
		s.mu.Unlock()
		return
	}
	s.announced++
	a := announcement{NewProducer: np, seq: s.announced}
	if !s.ready {
		s.buffered = append(s.buffered, a)
		s.mu.Unlock()
		s.logger.Debug().Str("producer_id", np.ProducerID).Msg("announcement buffered")
		return
	}
	t := s.consumes.reserve()
	s.mu.Unlock()

	go s.consumeAnnounced(g, t, a)
}

func (s *Session) consumeAnnounced(g uint64, t *turn, a announcement) {
	err := t.run(context.Background(), func() error {
		return s.consumeOnce(context.Background(), g, a)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("producer_id", a.ProducerID).Msg("consume failed")
	}
}

// ConsumeProducer consumes one remote production. Calls are chained: each
// starts only after the previous consume/consumer_created round trip ended,
// because both share the single consumer_created waiter slot.
func (s *Session) ConsumeProducer(ctx context.Context, producerID string, userID domain.UserID, kind string) error {
	s.mu.Lock()
	g := s.gen
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNotJoined
	}
	s.announced++
	a := announcement{
		NewProducer: proto.NewProducer{ProducerID: producerID, UserID: string(userID), Kind: kind},
		seq:         s.announced,
	}
	t := s.consumes.reserve()
	s.mu.Unlock()

	return t.run(ctx, func() error { return s.consumeOnce(ctx, g, a) })
}

// consumeOnce performs one unserialized consume round trip. A producer
// that closed, or whose user left, before the consumer is installed is
// never surfaced.
func (s *Session) consumeOnce(ctx context.Context, g uint64, a announcement) error {
	np := a.NewProducer
	s.mu.Lock()
	if s.gen != g || s.state != StateActive {
		s.mu.Unlock()
		return ErrNotJoined
	}
	if s.gone.covers(a) {
		s.mu.Unlock()
		s.logger.Debug().Str("producer_id", np.ProducerID).Msg("producer gone before consume")
		return nil
	}
	confID, device, recvT := s.conferenceID, s.device, s.recvT
	s.mu.Unlock()

	w := s.ch.Expect(proto.TypeConsumerCreated)
	s.ch.Send(proto.TypeConsume, proto.ConsumeRequest{
		ConferenceID:    confID,
		ProducerID:      np.ProducerID,
		RtpCapabilities: device.RtpCapabilities(),
	})
	raw, err := w.Wait(ctx, s.requestTimeout)
	if err != nil {
		return fmt.Errorf("consume %s: %w", np.ProducerID, err)
	}
	cc, err := decode[proto.ConsumerCreated](raw, proto.TypeConsumerCreated)
	if err != nil {
		return err
	}
	if cc.ProducerID != "" && cc.ProducerID != np.ProducerID {
		return fmt.Errorf("%w: got %s want %s", ErrMisdelivered, cc.ProducerID, np.ProducerID)
	}
	if _, ok := s.current(g, StateActive); !ok {
		return ErrNotJoined
	}

	consumer, err := recvT.Consume(ctx, core.ConsumeOptions{
		ID:            cc.ID,
		ProducerID:    np.ProducerID,
		Kind:          trackKind(cc.Kind),
		RtpParameters: cc.RtpParameters,
	})
	if err != nil {
		err = fmt.Errorf("consume %s: %w", np.ProducerID, err)
		s.emitError(err)
		return err
	}

	userID := domain.UserID(np.UserID)
	key := domain.StreamKeyFor(userID, announcedKind(np))

	s.mu.Lock()
	if s.gen != g || s.state != StateActive {
		s.mu.Unlock()
		_ = consumer.Close()
		return ErrNotJoined
	}
	if s.gone.covers(a) {
		s.mu.Unlock()
		_ = consumer.Close()
		s.logger.Info().Str("consumer_id", consumer.ID()).Str("producer_id", np.ProducerID).Msg("producer gone during consume, closed")
		return nil
	}
	s.consumers[consumer.ID()] = &consumption{consumer: consumer, producerID: np.ProducerID, userID: userID, key: key}
	agg, ok := s.streams[key]
	if !ok {
		agg = newAggregate(key, userID)
		s.streams[key] = agg
	}
	agg.add(consumer.ID(), consumer.Track())
	s.mu.Unlock()

	s.logger.Info().
		Str("consumer_id", consumer.ID()).
		Str("producer_id", np.ProducerID).
		Str("stream_key", string(key)).
		Str("kind", string(consumer.Kind())).
		Msg("consuming")
	s.emit(Event{Kind: EventStreams})
	return nil
}

func (s *Session) onPeerLeft(g uint64, raw json.RawMessage) {
	pl, err := decode[proto.PeerLeft](raw, proto.TypePeerLeft)
	if err != nil || pl.UserID == "" {
		s.logger.Warn().Err(err).Msg("bad peer_left payload")
		return
	}
	userID := domain.UserID(pl.UserID)

	s.mu.Lock()
	if s.gen != g {
		s.mu.Unlock()
		return
	}
	s.gone.depart(userID, s.announced)
	var closing []core.Consumer
	for id, c := range s.consumers {
		if c.userID == userID {
			closing = append(closing, c.consumer)
			delete(s.consumers, id)
		}
	}
	delete(s.streams, domain.CameraKey(userID))
	delete(s.streams, domain.ScreenKey(userID))
	s.mu.Unlock()

	for _, c := range closing {
		_ = c.Close()
	}
	s.logger.Info().Str("user_id", pl.UserID).Int("consumers", len(closing)).Msg("peer left")
	s.emit(Event{Kind: EventStreams})
}

func (s *Session) onProducerClosed(g uint64, raw json.RawMessage) {
	pc, err := decode[proto.ProducerClosed](raw, proto.TypeProducerClosed)
	if err != nil || pc.ProducerID == "" {
		s.logger.Warn().Err(err).Msg("bad producer_closed payload")
		return
	}

	s.mu.Lock()
	if s.gen != g {
		s.mu.Unlock()
		return
	}
	s.gone.closeProducer(pc.ProducerID)
	var closing []core.Consumer
	for id, c := range s.consumers {
		if c.producerID != pc.ProducerID {
			continue
		}
		closing = append(closing, c.consumer)
		delete(s.consumers, id)
		if agg, ok := s.streams[c.key]; ok {
			agg.remove(id)
			if agg.empty() {
				delete(s.streams, c.key)
			}
		}
	}
	s.mu.Unlock()

	if len(closing) == 0 {
		return
	}
	for _, c := range closing {
		_ = c.Close()
	}
	s.logger.Info().Str("producer_id", pc.ProducerID).Msg("producer closed")
	s.emit(Event{Kind: EventStreams})
}
