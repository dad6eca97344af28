package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceClient/internal/domain"
)

func executeCLI(t *testing.T, prefsPath string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_ENV", "clitest")
	t.Setenv("VOICE_PREFS_PATH", prefsPath)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func lastPrefs(t *testing.T, out string) domain.LayoutPreferences {
	t.Helper()
	var p domain.LayoutPreferences
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	return p
}

func TestVersion(t *testing.T) {
	out, err := executeCLI(t, filepath.Join(t.TempDir(), "p.toml"), "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestPrefsShowDefaults(t *testing.T) {
	out, err := executeCLI(t, filepath.Join(t.TempDir(), "p.toml"), "prefs", "show")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPreferences(), lastPrefs(t, out))
}

func TestPrefsEditsPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice", "preferences.toml")

	steps := [][]string{
		{"prefs", "mode", "spotlight"},
		{"prefs", "tiles", "16"},
		{"prefs", "self-view", "floating-uncropped"},
		{"prefs", "hide-non-video", "true"},
		{"prefs", "pin", "u1:video"},
		{"prefs", "pin", "u1:video"},
		{"prefs", "pin", "u2:screen"},
		{"prefs", "unpin", "u1:video"},
	}
	for _, args := range steps {
		_, err := executeCLI(t, path, args...)
		require.NoError(t, err, args)
	}

	out, err := executeCLI(t, path, "prefs", "show")
	require.NoError(t, err)
	p := lastPrefs(t, out)
	assert.Equal(t, domain.ModeSpotlight, p.Mode)
	assert.Equal(t, 16, p.TiledMaxTiles)
	assert.Equal(t, domain.SelfFloatingUncropped, p.SelfViewMode)
	assert.True(t, p.HideNonVideo)
	assert.Equal(t, []domain.StreamKey{"u2:screen"}, p.PinnedStreamKeys)

	out, err = executeCLI(t, path, "prefs", "reset")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPreferences(), lastPrefs(t, out))
}

func TestPrefsRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.toml")
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"prefs", "mode", "cinema"}, "invalid layout mode"},
		{[]string{"prefs", "tiles", "100"}, "tiled max tiles out of range"},
		{[]string{"prefs", "tiles", "many"}, "tiles"},
		{[]string{"prefs", "self-view", "mirror"}, "invalid self-view mode"},
		{[]string{"prefs", "hide-non-video", "maybe"}, "hide-non-video"},
		{[]string{"prefs", "mode"}, "accepts 1 arg"},
	}
	for _, tc := range tests {
		_, err := executeCLI(t, path, tc.args...)
		require.Error(t, err, tc.args)
		assert.Contains(t, err.Error(), tc.want)
	}
}

func TestPinLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.toml")
	for i := range domain.MaxPins {
		_, err := executeCLI(t, path, "prefs", "pin", string(domain.StreamKeyFor(domain.UserID(string(rune('a'+i))), domain.KindVideo)))
		require.NoError(t, err)
	}
	_, err := executeCLI(t, path, "prefs", "pin", "extra:video")
	assert.ErrorIs(t, err, domain.ErrPinLimit)
}
