package rtc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/proto"
)

// transport is one ICE+DTLS association with the router, built from
// the ORTC objects pion exposes.
type transport struct {
	id     string
	api    *webrtc.API
	remote proto.TransportOptions
	logger zerolog.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	// connectMu serializes the first connect without blocking Close.
	connectMu  sync.Mutex
	connected  bool
	connectErr error

	mu        sync.Mutex
	onConnect core.ConnectHandler
	onState   func(string)
	closed    bool
	mids      int
}

func newTransport(api *webrtc.API, opts proto.TransportOptions, direction string) (*transport, error) {
	gatherOpts := webrtc.ICEGatherOptions{ICEServers: iceServers(opts.IceServers)}
	if opts.Relay() {
		gatherOpts.ICEGatherPolicy = webrtc.ICETransportPolicyRelay
	}
	gatherer, err := api.NewICEGatherer(gatherOpts)
	if err != nil {
		return nil, fmt.Errorf("rtc: ice gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("rtc: dtls transport: %w", err)
	}

	t := &transport{
		id:       opts.ID,
		api:      api,
		remote:   opts,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
		logger: log.With().
			Str("module", "webrtc").
			Str("transport", opts.ID).
			Str("direction", direction).
			Logger(),
	}
	ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		t.state("ice:" + s.String())
	})
	dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		t.state("dtls:" + s.String())
	})
	t.logger.Info().Bool("relay", opts.Relay()).Msg("transport created")
	return t, nil
}

func (t *transport) ID() string { return t.id }

func (t *transport) OnConnect(fn core.ConnectHandler) {
	t.mu.Lock()
	t.onConnect = fn
	t.mu.Unlock()
}

func (t *transport) OnStateChange(fn func(state string)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *transport) state(s string) {
	t.logger.Info().Str("state", s).Msg("transport state")
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *transport) nextMid() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	mid := strconv.Itoa(t.mids)
	t.mids++
	return mid
}

func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := errors.Join(t.dtls.Stop(), t.ice.Stop(), t.gatherer.Close())
	if err != nil {
		t.logger.Warn().Err(err).Msg("transport close")
	} else {
		t.logger.Info().Msg("transport closed")
	}
	return err
}

// ensureConnected runs the connect handshake the first time media is about to
// flow. A failed connect is remembered; the transport is unusable after it.
func (t *transport) ensureConnected(ctx context.Context) error {
	t.connectMu.Lock()
	defer t.connectMu.Unlock()
	if t.connected {
		return nil
	}
	if t.connectErr != nil {
		return t.connectErr
	}
	if t.Closed() {
		return ErrClosed
	}
	t.mu.Lock()
	handler := t.onConnect
	t.mu.Unlock()
	if handler == nil {
		return errors.New("rtc: transport has no connect handler")
	}

	if err := t.connect(ctx, handler); err != nil {
		t.connectErr = err
		return err
	}
	t.connected = true
	return nil
}

func (t *transport) connect(ctx context.Context, handler core.ConnectHandler) error {
	gathered := make(chan struct{})
	var once sync.Once
	t.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	if err := t.gatherer.Gather(); err != nil {
		return fmt.Errorf("rtc: gather: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	local, err := t.dtls.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("rtc: local dtls parameters: %w", err)
	}
	role := localDtlsRole(t.remote.DtlsParameters.Role)
	if err := handler(dtlsToProto(local, role)); err != nil {
		return fmt.Errorf("rtc: connect: %w", err)
	}

	candidates, err := iceCandidates(t.remote.IceCandidates)
	if err != nil {
		return err
	}
	if err := t.ice.SetRemoteCandidates(candidates); err != nil {
		return fmt.Errorf("rtc: remote candidates: %w", err)
	}

	remoteRole := webrtc.DTLSRoleServer
	if role == webrtc.DTLSRoleServer {
		remoteRole = webrtc.DTLSRoleClient
	}
	remoteDtls := dtlsToPion(t.remote.DtlsParameters, remoteRole)

	// ICE and DTLS start block until the association is up.
	done := make(chan error, 1)
	go func() {
		iceRole := webrtc.ICERoleControlling
		if err := t.ice.Start(nil, iceParameters(t.remote.IceParameters), &iceRole); err != nil {
			done <- fmt.Errorf("rtc: ice start: %w", err)
			return
		}
		if err := t.dtls.Start(remoteDtls); err != nil {
			done <- fmt.Errorf("rtc: dtls start: %w", err)
			return
		}
		done <- nil
	}()
	select {
	case err := <-done:
		if err == nil {
			t.logger.Info().Str("dtls_role", role.String()).Msg("transport connected")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendTransport carries local productions to the router.
type SendTransport struct {
	*transport

	produceMu sync.Mutex
	onProduce core.ProduceHandler
}

func (t *SendTransport) OnProduce(fn core.ProduceHandler) {
	t.produceMu.Lock()
	t.onProduce = fn
	t.produceMu.Unlock()
}

func (t *SendTransport) Produce(ctx context.Context, track core.LocalTrack, appData *proto.AppData) (core.Producer, error) {
	lt, ok := track.(*LocalTrack)
	if !ok {
		return nil, ErrForeignTrack
	}
	if t.Closed() {
		return nil, ErrClosed
	}
	t.produceMu.Lock()
	handler := t.onProduce
	t.produceMu.Unlock()
	if handler == nil {
		return nil, errors.New("rtc: send transport has no produce handler")
	}
	if err := t.ensureConnected(ctx); err != nil {
		return nil, err
	}

	sender, err := t.api.NewRTPSender(lt.wire(), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtc: rtp sender: %w", err)
	}
	params := sender.GetParameters()
	if err := sender.Send(params); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("rtc: send: %w", err)
	}
	rtpParams := sendParameters(params, lt.boundCodec(), t.nextMid(), lt.src.StreamID())
	lt.levelID.Store(uint32(headerExtID(rtpParams.HeaderExtensions, AudioLevelURI)))

	id, err := handler(ctx, core.ProduceParams{Kind: lt.Kind(), RtpParameters: rtpParams, AppData: appData})
	if err != nil {
		_ = sender.Stop()
		return nil, err
	}
	t.logger.Info().Str("producer", id).Str("kind", string(lt.Kind())).Str("mime", lt.boundCodec().MimeType).Msg("producing")
	return &Producer{id: id, track: lt, sender: sender, logger: t.logger}, nil
}

// RecvTransport carries router media to local consumers.
type RecvTransport struct {
	*transport
}

func (t *RecvTransport) Consume(ctx context.Context, opts core.ConsumeOptions) (core.Consumer, error) {
	if t.Closed() {
		return nil, ErrClosed
	}
	params, err := receiveParameters(opts.RtpParameters)
	if err != nil {
		return nil, err
	}
	if err := t.ensureConnected(ctx); err != nil {
		return nil, err
	}

	typ := codecTypeFor(opts.Kind)
	receiver, err := t.api.NewRTPReceiver(typ, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtc: rtp receiver: %w", err)
	}
	if err := receiver.Receive(params); err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("rtc: receive: %w", err)
	}

	src := receiver.Track()
	if src == nil {
		_ = receiver.Stop()
		return nil, errors.New("rtc: receiver produced no track")
	}

	logger := t.logger.With().Str("consumer", opts.ID).Str("producer", opts.ProducerID).Logger()
	remote := newRemoteTrack(opts.ID, mediaKind(typ), src,
		headerExtID(opts.RtpParameters.HeaderExtensions, AudioLevelURI), logger)
	remote.mime = primaryMime(opts.RtpParameters.Codecs)
	remote.start(context.Background())
	logger.Info().Str("kind", string(opts.Kind)).Msg("consuming")
	return &Consumer{
		id:         opts.ID,
		producerID: opts.ProducerID,
		kind:       opts.Kind,
		track:      remote,
		receiver:   receiver,
		logger:     logger,
	}, nil
}
