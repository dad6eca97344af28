package orch

import (
	"github.com/dkeye/VoiceClient/internal/app/activity"
	"github.com/dkeye/VoiceClient/internal/app/session"
	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
)

// localStream is the renderable handle for a local track.
type localStream struct {
	track core.LocalTrack
}

func (s localStream) HasLiveVideo() bool { return s.track != nil && s.track.Enabled() }

// Participants derives the current participant list: the local camera,
// the local screen while sharing, and one entry per remote surface.
func (o *Orchestrator) Participants() []domain.Participant {
	self := o.Registry.Self()
	levels := o.Monitor.Levels()
	local := o.Session.LocalState()

	var camera core.LocalTrack
	for _, t := range o.Session.LocalTracks() {
		if t.Kind() == domain.KindVideo {
			camera = t
		}
	}

	out := []domain.Participant{{
		StreamKey:   domain.CameraKey(self.ID),
		UserID:      self.ID,
		DisplayName: self.DisplayName,
		Stream:      localStream{track: camera},
		IsMuted:     local.Muted || !local.Audio,
		IsLocal:     true,
		AudioLevel:  levels[domain.CameraKey(self.ID)],
	}}
	if screen := o.Session.LocalScreenTrack(); screen != nil {
		out = append(out, domain.Participant{
			StreamKey:     domain.ScreenKey(self.ID),
			UserID:        self.ID,
			DisplayName:   self.DisplayName,
			Stream:        localStream{track: screen},
			IsMuted:       true,
			IsLocal:       true,
			IsScreenShare: true,
		})
	}

	for _, st := range o.Session.Streams() {
		out = append(out, domain.Participant{
			StreamKey:     st.Key,
			UserID:        st.UserID,
			DisplayName:   o.Registry.Name(st.UserID),
			Stream:        st,
			IsMuted:       st.AudioTrack() == nil,
			IsScreenShare: st.Screen,
			AudioLevel:    levels[st.Key],
		})
	}
	return out
}

// syncMonitor hands every audio-bearing camera surface to the monitor.
func (o *Orchestrator) syncMonitor() {
	var sources []activity.Source
	if o.includeLocalAudio {
		self := o.Registry.Self()
		for _, t := range o.Session.LocalTracks() {
			if t.Kind() == domain.KindAudio {
				sources = append(sources, activity.Source{Key: domain.CameraKey(self.ID), Track: t})
			}
		}
	}
	for _, st := range o.Session.Streams() {
		if a := st.AudioTrack(); a != nil {
			sources = append(sources, activity.Source{Key: st.Key, Track: a, Screen: st.Screen})
		}
	}
	o.Monitor.Sync(sources)
}

// syncRecordings records every new remote track and stops the recordings
// of tracks that are gone. A track that cannot be recorded is not retried.
func (o *Orchestrator) syncRecordings() {
	if o.recorder == nil {
		return
	}
	o.recMu.Lock()
	defer o.recMu.Unlock()

	live := make(map[string]struct{})
	for _, st := range o.Session.Streams() {
		for _, t := range st.Tracks {
			id := t.ID()
			live[id] = struct{}{}
			if _, ok := o.recordings[id]; ok {
				continue
			}
			stop, err := o.recorder.Record(st.Key, t)
			if err != nil {
				o.logger.Warn().Err(err).Str("stream_key", string(st.Key)).Str("track_id", id).Msg("record")
				stop = func() {}
			}
			o.recordings[id] = stop
		}
	}
	for id, stop := range o.recordings {
		if _, ok := live[id]; !ok {
			stop()
			delete(o.recordings, id)
		}
	}
}

func (o *Orchestrator) stopRecordings() {
	o.recMu.Lock()
	defer o.recMu.Unlock()
	for id, stop := range o.recordings {
		stop()
		delete(o.recordings, id)
	}
}

func (o *Orchestrator) onActivity(up activity.Update) {
	if up.SpeakerChanged {
		o.refresh()
	}
}

// Snapshot is the status view served by the control API.
type Snapshot struct {
	State         session.State                `json:"state"`
	ConferenceID  string                       `json:"conference_id"`
	Local         session.LocalState           `json:"local"`
	ActiveSpeaker domain.StreamKey             `json:"active_speaker,omitempty"`
	Levels        map[domain.StreamKey]float64 `json:"levels"`
	Participants  []domain.Participant         `json:"participants"`
	Preferences   domain.LayoutPreferences     `json:"preferences"`
}

func (o *Orchestrator) Snapshot() Snapshot {
	speaker, _ := o.Monitor.ActiveSpeaker()
	return Snapshot{
		State:         o.Session.State(),
		ConferenceID:  o.Session.ConferenceID(),
		Local:         o.Session.LocalState(),
		ActiveSpeaker: speaker,
		Levels:        o.Monitor.Levels(),
		Participants:  o.Participants(),
		Preferences:   o.Preferences(),
	}
}

// SetName records a display name and republishes the layout. The local
// user's own id renames the local participant.
func (o *Orchestrator) SetName(id domain.UserID, name string) error {
	set := o.Registry.SetName
	if id == o.Registry.Self().ID {
		set = func(_ domain.UserID, name string) error { return o.Registry.SetSelfName(name) }
	}
	if err := set(id, name); err != nil {
		return err
	}
	o.refresh()
	return nil
}
