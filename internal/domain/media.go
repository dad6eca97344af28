package domain

import "strings"

// MediaKind names a production slot. Screen is a video production with its own surface.
type MediaKind string

const (
	KindAudio  MediaKind = "audio"
	KindVideo  MediaKind = "video"
	KindScreen MediaKind = "screen"
)

// StreamKey identifies one renderable surface. A user owns at most two:
// the camera aggregate keyed by the user id and the screen share keyed "<userId>:screen".
type StreamKey string

const screenSuffix = ":screen"

func CameraKey(u UserID) StreamKey { return StreamKey(u) }

func ScreenKey(u UserID) StreamKey { return StreamKey(string(u) + screenSuffix) }

func StreamKeyFor(u UserID, kind MediaKind) StreamKey {
	if kind == KindScreen {
		return ScreenKey(u)
	}
	return CameraKey(u)
}

func (k StreamKey) IsScreen() bool { return strings.HasSuffix(string(k), screenSuffix) }

// User strips the screen suffix.
func (k StreamKey) User() UserID {
	return UserID(strings.TrimSuffix(string(k), screenSuffix))
}
