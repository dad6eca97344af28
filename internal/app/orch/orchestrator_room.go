package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/VoiceClient/internal/app"
	"github.com/dkeye/VoiceClient/internal/app/session"
)

// ErrSignalingLost ends Run when the signaling channel is gone for good.
var ErrSignalingLost = errors.New("orch: signaling lost")

// Join joins conferenceID and starts producing camera and microphone. A
// failed join is cleaned up before returning.
func (o *Orchestrator) Join(ctx context.Context, conferenceID string) error {
	if err := o.Session.JoinRoom(ctx, conferenceID); err != nil {
		o.logger.Error().Err(err).Str("conference_id", conferenceID).Msg("join failed")
		_ = o.Session.LeaveRoom(ctx)
		return err
	}
	if err := o.Session.ProduceLocalMedia(ctx); err != nil {
		// Receiving still works without local media.
		o.logger.Warn().Err(err).Msg("produce local media")
	}
	return nil
}

func (o *Orchestrator) Leave(ctx context.Context) error {
	return o.Session.LeaveRoom(ctx)
}

// Run joins and stays in the conference until ctx is done or the signaling
// channel is lost.
func (o *Orchestrator) Run(ctx context.Context, conferenceID string) error {
	if err := o.Join(ctx, conferenceID); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case err := <-o.lost:
		_ = o.Leave(context.Background())
		return fmt.Errorf("%w: %w", ErrSignalingLost, err)
	}
	if err := o.Leave(context.Background()); err != nil {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (o *Orchestrator) ToggleMute() bool  { return o.Session.ToggleMute() }
func (o *Orchestrator) ToggleVideo() bool { return o.Session.ToggleVideo() }

func (o *Orchestrator) StartScreenShare(ctx context.Context) error {
	return o.Session.StartScreenShare(ctx)
}

func (o *Orchestrator) StopScreenShare(ctx context.Context) error {
	return o.Session.StopScreenShare(ctx)
}

// onReconnect runs after the channel came back. Waiters and handlers did
// not survive, so the session is torn down locally and maybe rejoined.
func (o *Orchestrator) onReconnect() {
	conf := o.Session.ConferenceID()
	if o.Session.State() == session.StateIdle {
		return
	}
	action := o.Policy.OnReconnect(conf)
	o.logger.Info().Str("conference_id", conf).Str("action", action.String()).Msg("signaling reconnected")

	go func() {
		ctx := context.Background()
		_ = o.Session.LeaveRoom(ctx)
		if action != app.Rejoin {
			return
		}
		if err := o.Join(ctx, conf); err != nil {
			o.logger.Error().Err(err).Str("conference_id", conf).Msg("rejoin failed")
		}
	}()
}

// onLost leaves locally; the server side is already gone.
func (o *Orchestrator) onLost(err error) {
	o.logger.Error().Err(err).Str("conference_id", o.Session.ConferenceID()).Msg("signaling lost")
	go func() { _ = o.Session.LeaveRoom(context.Background()) }()
	select {
	case o.lost <- err:
	default:
	}
}

func (o *Orchestrator) onSessionEvent(e session.Event) {
	switch e.Kind {
	case session.EventState:
		switch e.State {
		case session.StateActive:
			if err := o.Monitor.Start(); err != nil {
				o.logger.Warn().Err(err).Msg("start activity monitor")
			}
		case session.StateIdle:
			o.Monitor.Stop()
		}
		o.syncMonitor()
		o.syncRecordings()
	case session.EventStreams:
		o.syncMonitor()
		o.syncRecordings()
	case session.EventLocal:
		o.syncMonitor()
	case session.EventError:
		o.logger.Warn().Err(e.Err).Msg("session error")
		return
	}
	o.refresh()
}
