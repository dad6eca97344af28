package domain

// MediaStream is the renderable handle behind a surface.
type MediaStream interface {
	HasLiveVideo() bool
}

// Participant is derived on every render pass and never persisted.
type Participant struct {
	StreamKey     StreamKey   `json:"stream_key"`
	UserID        UserID      `json:"user_id"`
	DisplayName   string      `json:"display_name"`
	Stream        MediaStream `json:"-"`
	IsMuted       bool        `json:"is_muted"`
	IsLocal       bool        `json:"is_local"`
	IsScreenShare bool        `json:"is_screen_share"`
	IsPinned      bool        `json:"is_pinned"`
	AudioLevel    float64     `json:"audio_level"`
}

func (p Participant) HasVideo() bool {
	return p.Stream != nil && p.Stream.HasLiveVideo()
}
