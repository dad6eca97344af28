//go:build linux

package rtc

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceClient/internal/core"
)

// Capture opens camera, microphone and screen through pion/mediadevices
// and encodes VP8 and Opus.
type Capture struct {
	selector *mediadevices.CodecSelector
	width    int
	height   int
}

func NewCapture() (*Capture, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &Capture{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		width:  640,
		height: 480,
	}, nil
}

// UserMedia tries camera and microphone together, then each alone, so a
// busy device does not take the other down with it.
func (c *Capture) UserMedia(ctx context.Context) ([]core.LocalTrack, error) {
	type attempt struct {
		video, audio bool
		label        string
	}
	var lastErr error
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{false, true, "audio-only"},
		{true, false, "video-only"},
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
		if a.video {
			constraints.Video = func(m *mediadevices.MediaTrackConstraints) {
				// Raw formats only; MJPEG nodes on some cameras poison the encoder.
				m.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				m.Width = prop.IntRanged{Max: c.width}
				m.Height = prop.IntRanged{Max: c.height}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Str("module", "capture").Str("attempt", a.label).Msg("GetUserMedia failed")
			lastErr = err
			continue
		}
		tracks := stream.GetTracks()
		out := make([]core.LocalTrack, 0, len(tracks))
		for _, t := range tracks {
			out = append(out, wrapTrack(t))
		}
		log.Info().Str("module", "capture").Str("attempt", a.label).Int("tracks", len(out)).Msg("local media captured")
		return out, nil
	}
	return nil, fmt.Errorf("capture: no usable device: %w", lastErr)
}

func (c *Capture) DisplayMedia(ctx context.Context) (core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: c.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("capture: display: %w", err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("capture: display produced no video track")
	}
	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}
	log.Info().Str("module", "capture").Msg("screen captured")
	return wrapTrack(tracks[0]), nil
}

func wrapTrack(t mediadevices.Track) *LocalTrack {
	lt := NewLocalTrack(t, t.Close)
	t.OnEnded(func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "capture").Str("track", t.ID()).Msg("track ended")
		}
		lt.end()
	})
	return lt
}
