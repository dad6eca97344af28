// Package layout resolves which participants occupy the primary and
// secondary regions of the conference view. It performs no I/O.
package layout

import (
	"sort"
	"strings"

	"github.com/dkeye/VoiceClient/internal/domain"
)

type ResolvedLayout struct {
	EffectiveMode    domain.LayoutMode    `json:"effective_mode"`
	Primary          []domain.Participant `json:"primary"`
	Secondary        []domain.Participant `json:"secondary"`
	SelfViewFloating bool                 `json:"self_view_floating"`
	// Self is the floating local camera when SelfViewFloating is set.
	Self *domain.Participant `json:"self,omitempty"`
}

// Resolve is deterministic for equal inputs. The input slice is not modified.
func Resolve(participants []domain.Participant, prefs domain.LayoutPreferences, activeSpeaker domain.StreamKey) ResolvedLayout {
	prefs = prefs.Clone()
	prefs.Normalize()

	list := make([]domain.Participant, 0, len(participants))
	for _, p := range participants {
		p.IsPinned = p.IsPinned || prefs.IsPinned(p.StreamKey)
		if prefs.HideNonVideo && !p.IsPinned && !p.IsLocal && !p.HasVideo() {
			continue
		}
		list = append(list, p)
	}
	order(list, activeSpeaker)

	out := ResolvedLayout{EffectiveMode: effectiveMode(list, prefs.Mode)}

	rest := list
	if prefs.SelfViewMode == domain.SelfFloatingUncropped {
		if i := selfIndex(list); i >= 0 && len(list) > 1 {
			self := list[i]
			out.Self = &self
			out.SelfViewFloating = true
			rest = without(list, i)
		}
	}

	switch out.EffectiveMode {
	case domain.ModeTiled:
		n := min(len(rest), prefs.TiledMaxTiles)
		out.Primary = append([]domain.Participant(nil), rest[:n]...)
	case domain.ModeSpotlight:
		out.Primary, out.Secondary = split(rest, spotlightPick(rest, activeSpeaker))
	case domain.ModeSidebar:
		out.Primary, out.Secondary = split(rest, sidebarPick(rest))
	}
	if out.Primary == nil {
		out.Primary = []domain.Participant{}
	}
	if out.Secondary == nil {
		out.Secondary = []domain.Participant{}
	}
	return out
}

// order sorts pinned first, then the active speaker, then by display name.
func order(list []domain.Participant, activeSpeaker domain.StreamKey) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if sa, sb := a.StreamKey == activeSpeaker, b.StreamKey == activeSpeaker; activeSpeaker != "" && sa != sb {
			return sa
		}
		na, nb := strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)
		if na != nb {
			return na < nb
		}
		return a.StreamKey < b.StreamKey
	})
}

func effectiveMode(list []domain.Participant, mode domain.LayoutMode) domain.LayoutMode {
	if mode != domain.ModeAuto {
		return mode
	}
	pinned := false
	for _, p := range list {
		if p.IsScreenShare {
			return domain.ModeSidebar
		}
		pinned = pinned || p.IsPinned
	}
	if pinned || len(list) <= 2 {
		return domain.ModeSpotlight
	}
	return domain.ModeTiled
}

func selfIndex(list []domain.Participant) int {
	for i, p := range list {
		if p.IsLocal && !p.IsScreenShare {
			return i
		}
	}
	return -1
}

func spotlightPick(list []domain.Participant, activeSpeaker domain.StreamKey) func(domain.Participant) bool {
	if hasAny(list, isPinned) {
		return isPinned
	}
	if activeSpeaker != "" && hasAny(list, func(p domain.Participant) bool { return p.StreamKey == activeSpeaker }) {
		return func(p domain.Participant) bool { return p.StreamKey == activeSpeaker }
	}
	for _, p := range list {
		if !p.IsLocal {
			return first(p.StreamKey)
		}
	}
	if len(list) > 0 {
		return first(list[0].StreamKey)
	}
	return func(domain.Participant) bool { return false }
}

func sidebarPick(list []domain.Participant) func(domain.Participant) bool {
	if hasAny(list, isScreen) {
		return isScreen
	}
	if hasAny(list, isPinned) {
		return isPinned
	}
	if len(list) > 0 {
		return first(list[0].StreamKey)
	}
	return func(domain.Participant) bool { return false }
}

func split(list []domain.Participant, primary func(domain.Participant) bool) (pri, sec []domain.Participant) {
	for _, p := range list {
		if primary(p) {
			pri = append(pri, p)
		} else {
			sec = append(sec, p)
		}
	}
	return pri, sec
}

func isPinned(p domain.Participant) bool { return p.IsPinned }
func isScreen(p domain.Participant) bool { return p.IsScreenShare }

func first(key domain.StreamKey) func(domain.Participant) bool {
	return func(p domain.Participant) bool { return p.StreamKey == key }
}

func hasAny(list []domain.Participant, pred func(domain.Participant) bool) bool {
	for _, p := range list {
		if pred(p) {
			return true
		}
	}
	return false
}

func without(list []domain.Participant, i int) []domain.Participant {
	out := make([]domain.Participant, 0, len(list)-1)
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...)
}
