//go:build !linux

package rtc

import (
	"context"

	"github.com/dkeye/VoiceClient/internal/core"
)

// Capture is receive-only on platforms without mediadevices drivers.
type Capture struct{}

func NewCapture() (*Capture, error) { return &Capture{}, nil }

func (c *Capture) UserMedia(context.Context) ([]core.LocalTrack, error) {
	return nil, ErrCaptureUnsupported
}

func (c *Capture) DisplayMedia(context.Context) (core.LocalTrack, error) {
	return nil, ErrCaptureUnsupported
}
