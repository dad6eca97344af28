package domain

import (
	"errors"
	"fmt"
	"slices"
)

type LayoutMode string

const (
	ModeAuto      LayoutMode = "auto"
	ModeTiled     LayoutMode = "tiled"
	ModeSpotlight LayoutMode = "spotlight"
	ModeSidebar   LayoutMode = "sidebar"
)

type SelfViewMode string

const (
	SelfInGridCropped     SelfViewMode = "in-grid-cropped"
	SelfInGridUncropped   SelfViewMode = "in-grid-uncropped"
	SelfFloatingUncropped SelfViewMode = "floating-uncropped"
)

const (
	MinTiledTiles     = 4
	MaxTiledTiles     = 49
	DefaultTiledTiles = 9
	MaxPins           = 6
)

var (
	ErrPinLimit        = errors.New("pin limit reached")
	ErrInvalidTiles    = errors.New("tiled max tiles out of range")
	ErrInvalidMode     = errors.New("invalid layout mode")
	ErrInvalidSelfView = errors.New("invalid self-view mode")
)

// LayoutPreferences are user scoped and only change through the setters below.
type LayoutPreferences struct {
	Mode             LayoutMode   `json:"mode" toml:"mode"`
	TiledMaxTiles    int          `json:"tiled_max_tiles" toml:"tiled_max_tiles"`
	SelfViewMode     SelfViewMode `json:"self_view_mode" toml:"self_view_mode"`
	HideNonVideo     bool         `json:"hide_non_video" toml:"hide_non_video"`
	PinnedStreamKeys []StreamKey  `json:"pinned_stream_keys" toml:"pinned_stream_keys"`
}

func DefaultPreferences() LayoutPreferences {
	return LayoutPreferences{
		Mode:          ModeAuto,
		TiledMaxTiles: DefaultTiledTiles,
		SelfViewMode:  SelfInGridCropped,
	}
}

func ParseLayoutMode(s string) (LayoutMode, error) {
	m := LayoutMode(s)
	switch m {
	case ModeAuto, ModeTiled, ModeSpotlight, ModeSidebar:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

func ParseSelfViewMode(s string) (SelfViewMode, error) {
	m := SelfViewMode(s)
	switch m {
	case SelfInGridCropped, SelfInGridUncropped, SelfFloatingUncropped:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSelfView, s)
}

// Validate checks every field; Normalize is applied by stores after decoding.
func (p LayoutPreferences) Validate() error {
	if _, err := ParseLayoutMode(string(p.Mode)); err != nil {
		return err
	}
	if _, err := ParseSelfViewMode(string(p.SelfViewMode)); err != nil {
		return err
	}
	if p.TiledMaxTiles < MinTiledTiles || p.TiledMaxTiles > MaxTiledTiles {
		return fmt.Errorf("%w: %d", ErrInvalidTiles, p.TiledMaxTiles)
	}
	if len(p.PinnedStreamKeys) > MaxPins {
		return ErrPinLimit
	}
	return nil
}

// Normalize replaces invalid fields with defaults and drops duplicate or excess pins.
func (p *LayoutPreferences) Normalize() {
	def := DefaultPreferences()
	if _, err := ParseLayoutMode(string(p.Mode)); err != nil {
		p.Mode = def.Mode
	}
	if _, err := ParseSelfViewMode(string(p.SelfViewMode)); err != nil {
		p.SelfViewMode = def.SelfViewMode
	}
	if p.TiledMaxTiles < MinTiledTiles || p.TiledMaxTiles > MaxTiledTiles {
		p.TiledMaxTiles = def.TiledMaxTiles
	}
	pins := make([]StreamKey, 0, len(p.PinnedStreamKeys))
	for _, k := range p.PinnedStreamKeys {
		if k == "" || slices.Contains(pins, k) {
			continue
		}
		if len(pins) == MaxPins {
			break
		}
		pins = append(pins, k)
	}
	if len(pins) == 0 {
		pins = nil
	}
	p.PinnedStreamKeys = pins
}

func (p LayoutPreferences) IsPinned(k StreamKey) bool {
	return slices.Contains(p.PinnedStreamKeys, k)
}

// Clone returns a copy that does not share the pin slice.
func (p LayoutPreferences) Clone() LayoutPreferences {
	p.PinnedStreamKeys = slices.Clone(p.PinnedStreamKeys)
	return p
}

// TogglePin unpins k if pinned, otherwise pins it. Pinning beyond MaxPins
// fails with ErrPinLimit and leaves the set unchanged.
func (p *LayoutPreferences) TogglePin(k StreamKey) (pinned bool, err error) {
	if p.IsPinned(k) {
		p.Unpin(k)
		return false, nil
	}
	if len(p.PinnedStreamKeys) >= MaxPins {
		return false, ErrPinLimit
	}
	p.PinnedStreamKeys = append(slices.Clone(p.PinnedStreamKeys), k)
	return true, nil
}

func (p *LayoutPreferences) Unpin(k StreamKey) {
	p.PinnedStreamKeys = slices.DeleteFunc(slices.Clone(p.PinnedStreamKeys), func(x StreamKey) bool { return x == k })
}

func (p *LayoutPreferences) ClearPins() { p.PinnedStreamKeys = nil }

func (p *LayoutPreferences) SetMode(m LayoutMode) error {
	if _, err := ParseLayoutMode(string(m)); err != nil {
		return err
	}
	p.Mode = m
	return nil
}

func (p *LayoutPreferences) SetTiledMaxTiles(n int) error {
	if n < MinTiledTiles || n > MaxTiledTiles {
		return fmt.Errorf("%w: %d", ErrInvalidTiles, n)
	}
	p.TiledMaxTiles = n
	return nil
}

func (p *LayoutPreferences) SetSelfViewMode(m SelfViewMode) error {
	if _, err := ParseSelfViewMode(string(m)); err != nil {
		return err
	}
	p.SelfViewMode = m
	return nil
}

func (p *LayoutPreferences) SetHideNonVideo(v bool) { p.HideNonVideo = v }
