package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrParticipantTaken = errors.New("participant id already connected")

type sessionEntry struct {
	Meeting domain.MeetingID
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry maps live participant ids to their relay connection, and client
// tokens to display users.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ParticipantID]*sessionEntry
	users    map[string]*domain.User
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.ParticipantID]*sessionEntry),
		users:    make(map[string]*domain.User),
	}
}

func (r *Registry) GetOrCreateUser(token string) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[token]; ok {
		return u
	}
	u := domain.UserFromToken(token)
	r.users[token] = u
	log.Info().Str("module", "app.registry").Str("user", string(u.ID)).Msg("created new user")
	return u
}

func (r *Registry) UpdateUsername(token, name string) error {
	u := r.GetOrCreateUser(token)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := u.SetUsername(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("user", string(u.ID)).Str("username", name).Msg("updated username")
	return nil
}

// Bind claims pid for one connection. A participant id is single use per
// connection; a second claim fails until the first unbinds.
func (r *Registry) Bind(pid domain.ParticipantID, meeting domain.MeetingID, sess core.MemberSession, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[pid]; ok {
		return ErrParticipantTaken
	}
	r.sessions[pid] = &sessionEntry{Meeting: meeting, Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("peer", string(pid)).Str("meeting", string(meeting)).Msg("bound session")
	return nil
}

func (r *Registry) Get(pid domain.ParticipantID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[pid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind releases pid, but only if it is still held by sess.
func (r *Registry) Unbind(pid domain.ParticipantID, sess core.MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[pid]
	if !ok || e.Session != sess {
		return false
	}
	delete(r.sessions, pid)
	log.Info().Str("module", "app.registry").Str("peer", string(pid)).Msg("unbind session")
	return true
}

func (r *Registry) MeetingOf(pid domain.ParticipantID) (domain.MeetingID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[pid]; ok {
		return e.Meeting, true
	}
	return "", false
}

type regSnap struct {
	Participant domain.ParticipantID
	Session     core.MemberSession
}

func (r *Registry) MembersOf(meeting domain.MeetingID) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.sessions))
	for pid, e := range r.sessions {
		if e.Meeting == meeting {
			out = append(out, regSnap{Participant: pid, Session: e.Session})
		}
	}
	return out
}

// Cancel stops the connection goroutines of pid. The adapter unbinds on exit.
func (r *Registry) Cancel(pid domain.ParticipantID) bool {
	r.mu.RLock()
	e, ok := r.sessions[pid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("peer", string(pid)).Msg("canceled session")
	return true
}
