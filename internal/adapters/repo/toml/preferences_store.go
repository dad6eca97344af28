// Package toml persists layout preferences in a TOML file.
package toml

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	schemaVersion  = 1
	prefsFileMode  = 0o600
	prefsDirMode   = 0o700
	tempFilePrefix = ".preferences-"
)

type fileSchema struct {
	Version int          `toml:"version"`
	Layout  layoutSchema `toml:"layout"`
}

type layoutSchema struct {
	Mode          string   `toml:"mode"`
	TiledMaxTiles int      `toml:"tiled_max_tiles"`
	SelfViewMode  string   `toml:"self_view_mode"`
	HideNonVideo  bool     `toml:"hide_non_video"`
	Pinned        []string `toml:"pinned"`
}

// Store is a core.PreferencesStore backed by one file.
type Store struct {
	path   string
	logger zerolog.Logger

	mu      sync.Mutex
	written []byte
}

var _ core.PreferencesStore = (*Store)(nil)

func NewStore(path string) (*Store, error) {
	path, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	return &Store{
		path:   path,
		logger: log.With().Str("module", "repo.toml").Str("path", path).Logger(),
	}, nil
}

func (s *Store) Path() string { return s.path }

// Load returns defaults when the file does not exist. Invalid fields are
// replaced by their defaults.
func (s *Store) Load() (domain.LayoutPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.DefaultPreferences(), nil
		}
		return domain.LayoutPreferences{}, fmt.Errorf("read preferences: %w", err)
	}
	return decode(data)
}

func (s *Store) Save(p domain.LayoutPreferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := toml.Marshal(toSchema(p))
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.path, data); err != nil {
		return err
	}
	s.written = data
	return nil
}

// Watch calls fn with the reloaded preferences whenever the file is changed
// by someone else. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, fn func(domain.LayoutPreferences)) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, prefsDirMode); err != nil {
		return fmt.Errorf("create preferences directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	// The directory is watched so atomic replaces are seen.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch preferences directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path || event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			p, changed, err := s.reload()
			if err != nil {
				s.logger.Warn().Err(err).Msg("reload preferences")
				continue
			}
			if changed {
				fn(p)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

// reload reads the file and reports whether it differs from our last write.
func (s *Store) reload() (domain.LayoutPreferences, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.LayoutPreferences{}, false, nil
		}
		return domain.LayoutPreferences{}, false, err
	}
	if bytes.Equal(data, s.written) {
		return domain.LayoutPreferences{}, false, nil
	}
	p, err := decode(data)
	if err != nil {
		return domain.LayoutPreferences{}, false, err
	}
	s.written = data
	return p, true, nil
}

func decode(data []byte) (domain.LayoutPreferences, error) {
	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return domain.LayoutPreferences{}, fmt.Errorf("decode preferences: %w", err)
	}
	if file.Version > schemaVersion {
		return domain.LayoutPreferences{}, fmt.Errorf("unsupported preferences version %d", file.Version)
	}
	p := fromSchema(file.Layout)
	p.Normalize()
	return p, nil
}

func toSchema(p domain.LayoutPreferences) fileSchema {
	pins := make([]string, 0, len(p.PinnedStreamKeys))
	for _, k := range p.PinnedStreamKeys {
		pins = append(pins, string(k))
	}
	return fileSchema{
		Version: schemaVersion,
		Layout: layoutSchema{
			Mode:          string(p.Mode),
			TiledMaxTiles: p.TiledMaxTiles,
			SelfViewMode:  string(p.SelfViewMode),
			HideNonVideo:  p.HideNonVideo,
			Pinned:        pins,
		},
	}
}

func fromSchema(l layoutSchema) domain.LayoutPreferences {
	p := domain.LayoutPreferences{
		Mode:          domain.LayoutMode(l.Mode),
		TiledMaxTiles: l.TiledMaxTiles,
		SelfViewMode:  domain.SelfViewMode(l.SelfViewMode),
		HideNonVideo:  l.HideNonVideo,
	}
	for _, k := range l.Pinned {
		p.PinnedStreamKeys = append(p.PinnedStreamKeys, domain.StreamKey(k))
	}
	return p
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), prefsDirMode); err != nil {
		return fmt.Errorf("create preferences directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), tempFilePrefix+"*.toml.tmp")
	if err != nil {
		return fmt.Errorf("create temp preferences file: %w", err)
	}
	name := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(name)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp preferences file: %w", err)
	}
	if err := tmp.Chmod(prefsFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp preferences file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp preferences file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("replace preferences file: %w", err)
	}
	cleanup = false
	return nil
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("preferences path is empty")
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve preferences path: %w", err)
	}
	return filepath.Clean(abs), nil
}
