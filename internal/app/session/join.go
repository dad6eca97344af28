package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/proto"
	"golang.org/x/sync/errgroup"
)

// JoinRoom negotiates capabilities and transports for conferenceID and
// moves the session to Active. On failure the session stays in Joining and
// the caller cleans up with LeaveRoom.
func (s *Session) JoinRoom(ctx context.Context, conferenceID string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrAlreadyJoined, st)
	}
	s.state = StateJoining
	s.gen++
	g := s.gen
	s.conferenceID = conferenceID
	s.buffered = nil
	s.gone = tombstones{}
	s.ready = false
	s.joinErr = make(chan error, 1)
	joinErr := s.joinErr
	s.mu.Unlock()
	s.emit(Event{Kind: EventState, State: StateJoining})

	logger := s.logger.With().Str("conference_id", conferenceID).Logger()
	logger.Info().Msg("joining")

	// Push handlers go in before join is sent; announcements that race the
	// negotiation are buffered until the inbound transport exists.
	s.registerHandlers(g)

	device, err := s.engine.NewDevice()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoDevice, err)
	}
	s.mu.Lock()
	s.device = device
	s.mu.Unlock()

	caps, transports, err := s.negotiate(ctx, conferenceID, joinErr)
	if err != nil {
		logger.Error().Err(err).Msg("join negotiation failed")
		return err
	}
	if _, ok := s.current(g, StateJoining); !ok {
		return fmt.Errorf("%w: left during join", ErrNotJoined)
	}

	if err := device.Load(caps.RtpCapabilities); err != nil {
		return fmt.Errorf("load capabilities: %w", err)
	}

	sendT, err := device.CreateSendTransport(transports.SendTransport)
	if err != nil {
		return fmt.Errorf("create send transport: %w", err)
	}
	recvT, err := device.CreateRecvTransport(transports.RecvTransport)
	if err != nil {
		_ = sendT.Close()
		return fmt.Errorf("create recv transport: %w", err)
	}
	s.wireTransport(g, sendT)
	s.wireTransport(g, recvT)
	sendT.OnProduce(s.produceHandler(g))

	s.mu.Lock()
	if s.gen != g || s.state != StateJoining {
		s.mu.Unlock()
		_ = sendT.Close()
		_ = recvT.Close()
		return fmt.Errorf("%w: left during join", ErrNotJoined)
	}
	s.sendT, s.recvT = sendT, recvT
	s.state = StateActive
	s.ready = true
	s.joinErr = nil
	pending := s.buffered
	s.buffered = nil
	// Turns are taken under the lock so live announcements queue behind the buffer.
	turns := make([]*turn, len(pending))
	for i := range pending {
		turns[i] = s.consumes.reserve()
	}
	s.mu.Unlock()

	logger.Info().Str("send_transport", sendT.ID()).Str("recv_transport", recvT.ID()).Int("buffered", len(pending)).Msg("joined")
	s.emit(Event{Kind: EventState, State: StateActive})

	for i, a := range pending {
		go s.consumeAnnounced(g, turns[i], a)
	}
	return nil
}

// negotiate sends join and awaits the capability and transport responses concurrently.
func (s *Session) negotiate(ctx context.Context, conferenceID string, joinErr <-chan error) (proto.RouterCapabilities, proto.TransportCreated, error) {
	var (
		caps       proto.RouterCapabilities
		transports proto.TransportCreated
	)

	capsW := s.ch.Expect(proto.TypeRouterCapabilities)
	transW := s.ch.Expect(proto.TypeTransportCreated)
	s.ch.Send(proto.TypeJoin, proto.JoinRequest{ConferenceID: conferenceID})

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	grp, gctx := errgroup.WithContext(waitCtx)
	grp.Go(func() error {
		raw, err := capsW.Wait(gctx, s.signalTimeout)
		if err != nil {
			return err
		}
		caps, err = decode[proto.RouterCapabilities](raw, proto.TypeRouterCapabilities)
		return err
	})
	grp.Go(func() error {
		raw, err := transW.Wait(gctx, s.signalTimeout)
		if err != nil {
			return err
		}
		transports, err = decode[proto.TransportCreated](raw, proto.TypeTransportCreated)
		return err
	})

	done := make(chan error, 1)
	go func() { done <- grp.Wait() }()

	select {
	case err := <-done:
		return caps, transports, err
	case err := <-joinErr:
		cancel()
		<-done
		return caps, transports, err
	}
}

func (s *Session) wireTransport(g uint64, t core.Transport) {
	id := t.ID()
	t.OnConnect(func(dtls proto.DtlsParameters) error {
		confID, ok := s.current(g, StateJoining, StateActive)
		if !ok {
			return ErrNotJoined
		}
		s.ch.Send(proto.TypeConnectTransport, proto.ConnectTransportRequest{
			ConferenceID:   confID,
			TransportID:    id,
			DtlsParameters: dtls,
		})
		// Acknowledged without waiting for the server; a failed connect shows
		// up later as a transport state change.
		return nil
	})
	t.OnStateChange(func(state string) {
		s.logger.Info().Str("transport_id", id).Str("transport_state", state).Msg("transport state")
	})
}

func (s *Session) registerHandlers(g uint64) {
	s.ch.OnMessage(proto.TypeNewProducer, func(raw json.RawMessage) { s.onNewProducer(g, raw) })
	s.ch.OnMessage(proto.TypePeerLeft, func(raw json.RawMessage) { s.onPeerLeft(g, raw) })
	s.ch.OnMessage(proto.TypeProducerClosed, func(raw json.RawMessage) { s.onProducerClosed(g, raw) })
	s.ch.OnMessage(proto.TypeError, func(raw json.RawMessage) { s.onServerError(g, raw) })
}

func (s *Session) unregisterHandlers() {
	s.ch.Off(proto.TypeNewProducer)
	s.ch.Off(proto.TypePeerLeft)
	s.ch.Off(proto.TypeProducerClosed)
	s.ch.Off(proto.TypeError)
}

func (s *Session) onServerError(g uint64, raw json.RawMessage) {
	msg, err := decode[proto.Error](raw, proto.TypeError)
	if err != nil {
		s.logger.Warn().Err(err).Msg("bad error payload")
		return
	}
	serr := fmt.Errorf("%w: %s", ErrServer, msg.Message)

	s.mu.Lock()
	var joinErr chan error
	if s.gen == g && s.state == StateJoining {
		joinErr = s.joinErr
	}
	s.mu.Unlock()

	if joinErr != nil {
		select {
		case joinErr <- serr:
		default:
		}
	}
	s.emitError(serr)
}
