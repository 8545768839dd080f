package peers

import (
	"sync"
	"time"

	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
)

type State int

const (
	StateNew State = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateStable
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateStable:
		return "stable"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s State) terminal() bool { return s == StateClosed || s == StateFailed }

// Session is the negotiation state toward one remote participant.
// All transitions happen under mu.
type Session struct {
	Remote    domain.ParticipantID
	CreatedAt time.Time

	pc    core.PeerConnection
	mu    sync.Mutex
	state State
}

func newSession(remote domain.ParticipantID, pc core.PeerConnection) *Session {
	return &Session{Remote: remote, CreatedAt: time.Now(), pc: pc, state: StateNew}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connection exposes the underlying peer connection for stats and tests.
func (s *Session) Connection() core.PeerConnection { return s.pc }

// close moves the session to a terminal state once and reports whether
// this call did it.
func (s *Session) close(final State) bool {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = final
	s.mu.Unlock()
	_ = s.pc.Close()
	return true
}
