// Package app holds the client-side bookkeeping shared by the orchestrator:
// who is who, and what to do when signaling reconnects.
package app

import (
	"sync"

	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/rs/zerolog/log"
)

const shortIDLen = 8

// Registry maps user ids to display names. Media announcements carry only
// ids; names arrive out of band (CLI, control API).
type Registry struct {
	mu    sync.RWMutex
	self  domain.User
	names map[domain.UserID]string
}

func NewRegistry(self domain.User) *Registry {
	return &Registry{
		self:  self,
		names: make(map[domain.UserID]string),
	}
}

func (r *Registry) Self() domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self
}

func (r *Registry) SetSelfName(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.self.SetDisplayName(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("display_name", r.self.DisplayName).Msg("updated local name")
	return nil
}

func (r *Registry) SetName(id domain.UserID, name string) error {
	u := domain.User{ID: id}
	if err := u.SetDisplayName(name); err != nil {
		return err
	}
	r.mu.Lock()
	r.names[id] = u.DisplayName
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("user_id", string(id)).Str("display_name", u.DisplayName).Msg("updated name")
	return nil
}

// Name falls back to a shortened id for users nobody named.
func (r *Registry) Name(id domain.UserID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == r.self.ID {
		return r.self.DisplayName
	}
	if n, ok := r.names[id]; ok {
		return n
	}
	s := string(id)
	if len(s) > shortIDLen {
		s = s[:shortIDLen]
	}
	return s
}
