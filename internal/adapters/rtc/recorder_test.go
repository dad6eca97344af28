package rtc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/proto"
)

func recordedTrack(id string, kind domain.MediaKind, mime string) *RemoteTrack {
	rt := newRemoteTrack(id, kind, nil, 0, zerolog.Nop())
	rt.mime = mime
	return rt
}

func TestRecorderWritesContainers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		track  *RemoteTrack
		key    domain.StreamKey
		file   string
		header string
	}{
		{name: "opus", track: recordedTrack("c1", domain.KindAudio, "audio/opus"), key: "u1", file: "u1-c1.ogg", header: "OggS"},
		{name: "vp8", track: recordedTrack("c2", domain.KindVideo, "video/VP8"), key: "u1:screen", file: "u1_screen-c2.ivf", header: "DKIF"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			r, err := NewRecorder(dir)
			require.NoError(t, err)

			stop, err := r.Record(tc.key, tc.track)
			require.NoError(t, err)
			assert.Equal(t, 1, tc.track.fan.count())

			if tc.track.Kind() == domain.KindAudio {
				tc.track.fan.forward(&rtp.Packet{
					Header:  rtp.Header{Version: 2, SequenceNumber: 1, Timestamp: 960, Marker: true},
					Payload: []byte{0xfc, 0xff, 0xfe},
				})
			}
			stop()
			stop()
			tc.track.fan.forward(pkt(2))
			assert.Equal(t, 0, tc.track.fan.count(), "stopped recording is detached")

			data, err := os.ReadFile(filepath.Join(dir, tc.file))
			require.NoError(t, err)
			require.GreaterOrEqual(t, len(data), len(tc.header))
			assert.Equal(t, tc.header, string(data[:len(tc.header)]))
		})
	}
}

func TestRecorderRejects(t *testing.T) {
	t.Parallel()
	r, err := NewRecorder(t.TempDir())
	require.NoError(t, err)

	_, err = r.Record("u1", recordedTrack("c1", domain.KindVideo, "video/H264"))
	assert.ErrorIs(t, err, ErrNotRecordable)

	_, err = r.Record("u1", foreignRemote{})
	assert.ErrorIs(t, err, ErrForeignTrack)
}

type foreignRemote struct{}

func (foreignRemote) ID() string             { return "x" }
func (foreignRemote) Kind() domain.MediaKind { return domain.KindAudio }
func (foreignRemote) Live() bool             { return true }

func TestPrimaryMime(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "video/VP8", primaryMime([]proto.RtpCodecParameters{{MimeType: "video/rtx"}, {MimeType: "video/VP8"}}))
	assert.Empty(t, primaryMime(nil))
}
