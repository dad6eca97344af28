package session

import (
	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
)

// aggregate merges the consumed tracks of one surface, keyed by consumer id.
type aggregate struct {
	key    domain.StreamKey
	userID domain.UserID
	order  []string
	tracks map[string]core.RemoteTrack
}

func newAggregate(key domain.StreamKey, u domain.UserID) *aggregate {
	return &aggregate{key: key, userID: u, tracks: make(map[string]core.RemoteTrack)}
}

func (a *aggregate) add(consumerID string, t core.RemoteTrack) {
	if _, ok := a.tracks[consumerID]; !ok {
		a.order = append(a.order, consumerID)
	}
	a.tracks[consumerID] = t
}

func (a *aggregate) remove(consumerID string) {
	delete(a.tracks, consumerID)
	for i, id := range a.order {
		if id == consumerID {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

func (a *aggregate) empty() bool { return len(a.tracks) == 0 }

func (a *aggregate) snapshot() Stream {
	st := Stream{Key: a.key, UserID: a.userID, Screen: a.key.IsScreen()}
	for _, id := range a.order {
		st.Tracks = append(st.Tracks, a.tracks[id])
	}
	return st
}

// Stream is a read-only view of one remote surface.
type Stream struct {
	Key    domain.StreamKey
	UserID domain.UserID
	Screen bool
	Tracks []core.RemoteTrack
}

var _ domain.MediaStream = Stream{}

func (s Stream) track(kind domain.MediaKind) core.RemoteTrack {
	for _, t := range s.Tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func (s Stream) AudioTrack() core.RemoteTrack { return s.track(domain.KindAudio) }

func (s Stream) VideoTrack() core.RemoteTrack { return s.track(domain.KindVideo) }

func (s Stream) HasLiveVideo() bool {
	t := s.VideoTrack()
	return t != nil && t.Live()
}
