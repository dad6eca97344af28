package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
)

type Producer struct {
	id     string
	track  *LocalTrack
	sender *webrtc.RTPSender
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func (p *Producer) ID() string             { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.track.Kind() }
func (p *Producer) Track() core.LocalTrack { return p.track }
func (p *Producer) Paused() bool           { return p.track.paused.Load() }
func (p *Producer) Pause()                 { p.track.paused.Store(true) }
func (p *Producer) Resume()                { p.track.paused.Store(false) }

// Close stops sending. The track stays with its owner.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	err := p.sender.Stop()
	p.logger.Info().Str("producer", p.id).Err(err).Msg("producer closed")
	return err
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type Consumer struct {
	id         string
	producerID string
	kind       domain.MediaKind
	track      *RemoteTrack
	receiver   *webrtc.RTPReceiver
	logger     zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func (c *Consumer) ID() string              { return c.id }
func (c *Consumer) ProducerID() string      { return c.producerID }
func (c *Consumer) Kind() domain.MediaKind  { return c.kind }
func (c *Consumer) Track() core.RemoteTrack { return c.track }

func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.track.stop()
	err := c.receiver.Stop()
	c.logger.Info().Err(err).Msg("consumer closed")
	return err
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
