package orch

import "github.com/dkeye/VoiceClient/internal/domain"

func (o *Orchestrator) Preferences() domain.LayoutPreferences {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.prefs.Clone()
}

// update applies fn to a copy of the preferences and persists the result.
// Nothing changes when fn or the store fails.
func (o *Orchestrator) update(fn func(p *domain.LayoutPreferences) error) error {
	o.mu.Lock()
	next := o.prefs.Clone()
	if err := fn(&next); err != nil {
		o.mu.Unlock()
		return err
	}
	if o.Store != nil {
		if err := o.Store.Save(next); err != nil {
			o.mu.Unlock()
			return err
		}
	}
	o.prefs = next
	o.mu.Unlock()

	o.refresh()
	return nil
}

// TogglePin pins or unpins key and reports the new pinned state.
func (o *Orchestrator) TogglePin(key domain.StreamKey) (bool, error) {
	var pinned bool
	err := o.update(func(p *domain.LayoutPreferences) error {
		var err error
		pinned, err = p.TogglePin(key)
		return err
	})
	return pinned, err
}

func (o *Orchestrator) SetMode(m domain.LayoutMode) error {
	return o.update(func(p *domain.LayoutPreferences) error { return p.SetMode(m) })
}

func (o *Orchestrator) SetTiledMaxTiles(n int) error {
	return o.update(func(p *domain.LayoutPreferences) error { return p.SetTiledMaxTiles(n) })
}

func (o *Orchestrator) SetSelfViewMode(m domain.SelfViewMode) error {
	return o.update(func(p *domain.LayoutPreferences) error { return p.SetSelfViewMode(m) })
}

func (o *Orchestrator) SetHideNonVideo(v bool) error {
	return o.update(func(p *domain.LayoutPreferences) error {
		p.SetHideNonVideo(v)
		return nil
	})
}

// ReplacePreferences validates and stores a full preference set.
func (o *Orchestrator) ReplacePreferences(next domain.LayoutPreferences) error {
	return o.update(func(p *domain.LayoutPreferences) error {
		if err := next.Validate(); err != nil {
			return err
		}
		*p = next.Clone()
		return nil
	})
}

// ApplyPreferences adopts preferences changed outside the process without
// writing them back.
func (o *Orchestrator) ApplyPreferences(next domain.LayoutPreferences) {
	next = next.Clone()
	next.Normalize()
	o.mu.Lock()
	o.prefs = next
	o.mu.Unlock()
	o.logger.Info().Str("mode", string(next.Mode)).Int("pins", len(next.PinnedStreamKeys)).Msg("preferences reloaded")
	o.refresh()
}
