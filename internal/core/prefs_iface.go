package core

import "github.com/dkeye/VoiceClient/internal/domain"

// PreferencesStore persists the user's layout preferences across sessions.
// Load returns defaults when nothing was saved yet.
type PreferencesStore interface {
	Load() (domain.LayoutPreferences, error)
	Save(p domain.LayoutPreferences) error
}
