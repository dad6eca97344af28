package toml

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "voice", "preferences.toml"))
	require.NoError(t, err)
	return s
}

func TestStoreLoadDefaultsWhenMissing(t *testing.T) {
	t.Parallel()

	p, err := newTestStore(t).Load()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPreferences(), p)
}

func TestStoreSaveLoad(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	want := domain.DefaultPreferences()
	require.NoError(t, want.SetMode(domain.ModeSpotlight))
	require.NoError(t, want.SetTiledMaxTiles(16))
	require.NoError(t, want.SetSelfViewMode(domain.SelfFloatingUncropped))
	want.SetHideNonVideo(true)
	_, err := want.TogglePin("u1:screen")
	require.NoError(t, err)

	require.NoError(t, s.Save(want))
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(prefsFileMode), info.Mode().Perm())
}

func TestStoreRejectsInvalid(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	p := domain.DefaultPreferences()
	p.TiledMaxTiles = 2
	assert.ErrorIs(t, s.Save(p), domain.ErrInvalidTiles)
	_, err := os.Stat(s.Path())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStoreLoadNormalizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    func() domain.LayoutPreferences
		wantErr string
	}{
		{
			name:    "bad values fall back to defaults",
			content: "version = 1\n[layout]\nmode = \"grid\"\ntiled_max_tiles = 99\nself_view_mode = \"floating-uncropped\"\npinned = [\"a\", \"a\", \"b\"]\n",
			want: func() domain.LayoutPreferences {
				p := domain.DefaultPreferences()
				p.SelfViewMode = domain.SelfFloatingUncropped
				p.PinnedStreamKeys = []domain.StreamKey{"a", "b"}
				return p
			},
		},
		{name: "newer version", content: "version = 9\n", wantErr: "unsupported preferences version"},
		{name: "garbage", content: "not = [toml", wantErr: "decode preferences"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestStore(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), prefsDirMode))
			require.NoError(t, os.WriteFile(s.Path(), []byte(tc.content), prefsFileMode))

			got, err := s.Load()
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want(), got)
		})
	}
}

func TestStoreWatchReportsExternalEdits(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Save(domain.DefaultPreferences()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan domain.LayoutPreferences, 4)
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, func(p domain.LayoutPreferences) { changes <- p }) }()

	// An edit by another process; retried until the watcher is attached.
	edited := "version = 1\n[layout]\nmode = \"sidebar\"\ntiled_max_tiles = 9\nself_view_mode = \"in-grid-cropped\"\n"
	require.Eventually(t, func() bool {
		_ = os.WriteFile(s.Path(), []byte(edited), prefsFileMode)
		select {
		case p := <-changes:
			return p.Mode == domain.ModeSidebar
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
