// Package peers owns one peer connection per remote participant and drives
// the offer/answer exchange for each of them.
package peers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SignalPublisher sends an addressed signal on the meeting channel.
type SignalPublisher func(ctx context.Context, msg domain.SignalMessage) error

// LocalMedia is what the manager needs from the local media controller.
type LocalMedia interface {
	LocalTracks() []webrtc.TrackLocal
	AttachSender(remote domain.ParticipantID, kind webrtc.RTPCodecType, sender core.Sender)
	DetachSenders(remote domain.ParticipantID)
}

type Config struct {
	Self    domain.ParticipantID
	Meeting domain.MeetingID
	Factory core.PeerConnectionFactory
	// Media may be nil for receive-only sessions.
	Media   LocalMedia
	Publish SignalPublisher

	OnTrack   func(remote domain.ParticipantID, track *webrtc.TrackRemote)
	OnRemoved func(remote domain.ParticipantID, reason error)
}

type Manager struct {
	cfg    Config
	ctx    context.Context
	buffer *CandidateBuffer
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[domain.ParticipantID]*Session
}

// New binds the manager to ctx, which is used for signals published from
// connection callbacks.
func New(ctx context.Context, cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		ctx:      ctx,
		buffer:   NewCandidateBuffer(),
		logger:   log.With().Str("module", "peers").Str("self", string(cfg.Self)).Logger(),
		sessions: make(map[domain.ParticipantID]*Session),
	}
}

func (m *Manager) Get(remote domain.ParticipantID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[remote]
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) Remotes() []domain.ParticipantID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return domain.Less(out[i], out[j]) })
	return out
}

// Buffered reports how many candidates wait for remote's description.
func (m *Manager) Buffered(remote domain.ParticipantID) int {
	return m.buffer.Len(remote)
}

// Create returns the session toward remote, allocating it on first use.
func (m *Manager) Create(remote domain.ParticipantID) (*Session, error) {
	if remote == m.cfg.Self {
		return nil, fmt.Errorf("session to self: %w", domain.ErrBadSignal)
	}
	if s, ok := m.Get(remote); ok {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[remote]; ok {
		return s, nil
	}

	pc, err := m.cfg.Factory.NewPeerConnection(remote)
	if err != nil {
		return nil, fmt.Errorf("%w: new peer connection: %v", domain.ErrNegotiationFailed, err)
	}
	s := newSession(remote, pc)

	if m.cfg.Media != nil {
		for _, t := range m.cfg.Media.LocalTracks() {
			sender, err := pc.AddTrack(t)
			if err != nil {
				_ = pc.Close()
				m.cfg.Media.DetachSenders(remote)
				return nil, fmt.Errorf("%w: add %s track: %v", domain.ErrNegotiationFailed, t.Kind(), err)
			}
			m.cfg.Media.AttachSender(remote, t.Kind(), sender)
		}
	}

	pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		m.publishCandidate(remote, c)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.logger.Info().Str("remote", string(remote)).Str("kind", track.Kind().String()).Msg("remote track")
		if m.cfg.OnTrack != nil {
			m.cfg.OnTrack(remote, track)
		}
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		m.logger.Info().Str("remote", string(remote)).Str("state", st.String()).Msg("connection state")
		switch st {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			m.teardown(remote, s, StateFailed, fmt.Errorf("%w: connection %s", domain.ErrNegotiationFailed, st))
		}
	})

	m.sessions[remote] = s
	m.logger.Info().Str("remote", string(remote)).Msg("session created")
	return s, nil
}

// InitiateOffer sends the one offer of a fresh session. It is a logged no-op
// once the session has negotiated or while the connection is not stable;
// sessions are never renegotiated.
func (m *Manager) InitiateOffer(ctx context.Context, remote domain.ParticipantID) error {
	s, err := m.Create(remote)
	if err != nil {
		return err
	}
	return m.negotiate(s, func() error {
		if s.state != StateNew {
			m.logger.Warn().Str("remote", string(remote)).Str("state", s.state.String()).Msg("offer skipped, session already negotiated")
			return nil
		}
		if ss := s.pc.SignalingState(); ss != webrtc.SignalingStateStable {
			m.logger.Warn().Str("remote", string(remote)).Str("signaling", ss.String()).Msg("offer skipped, not stable")
			return nil
		}
		offer, err := s.pc.CreateOffer()
		if err != nil {
			return fmt.Errorf("create offer: %w", err)
		}
		if err := s.pc.SetLocalDescription(offer); err != nil {
			return fmt.Errorf("set local offer: %w", err)
		}
		s.state = StateHaveLocalOffer
		return m.publish(ctx, remote, domain.SignalOffer, offer)
	})
}

// AcceptOffer applies a remote offer, answers it and flushes buffered
// candidates. Duplicate offers are dropped as stale.
func (m *Manager) AcceptOffer(ctx context.Context, remote domain.ParticipantID, offer webrtc.SessionDescription) error {
	s, err := m.Create(remote)
	if err != nil {
		return err
	}
	return m.negotiate(s, func() error {
		if s.state.terminal() {
			return domain.ErrStaleSignal
		}
		if rd := s.pc.RemoteDescription(); rd != nil && rd.Type == webrtc.SDPTypeOffer && rd.SDP == offer.SDP {
			return fmt.Errorf("%w: duplicate offer", domain.ErrStaleSignal)
		}
		if s.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
			if domain.Less(m.cfg.Self, remote) {
				m.logger.Warn().Str("remote", string(remote)).Msg("offer collision, keeping local offer")
				return fmt.Errorf("%w: offer collision", domain.ErrStaleSignal)
			}
			m.logger.Warn().Str("remote", string(remote)).Msg("offer collision, rolling back local offer")
			if err := s.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
				return fmt.Errorf("rollback: %w", err)
			}
			s.state = StateStable
		}

		if err := s.pc.SetRemoteDescription(offer); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}
		s.state = StateHaveRemoteOffer

		answer, err := s.pc.CreateAnswer()
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := s.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		s.state = StateStable
		pubErr := m.publish(ctx, remote, domain.SignalAnswer, answer)
		m.buffer.Flush(remote, s.pc.AddICECandidate)
		return pubErr
	})
}

// AcceptAnswer applies the answer to our outstanding offer. Answers that
// arrive with a remote description already set are dropped.
func (m *Manager) AcceptAnswer(_ context.Context, remote domain.ParticipantID, answer webrtc.SessionDescription) error {
	s, ok := m.Get(remote)
	if !ok {
		return fmt.Errorf("%w: answer from unknown peer", domain.ErrStaleSignal)
	}
	return m.negotiate(s, func() error {
		if s.pc.RemoteDescription() != nil || s.state != StateHaveLocalOffer {
			return fmt.Errorf("%w: unexpected answer in %s", domain.ErrStaleSignal, s.state)
		}
		if err := s.pc.SetRemoteDescription(answer); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		s.state = StateStable
		m.buffer.Flush(remote, s.pc.AddICECandidate)
		return nil
	})
}

// AddCandidate applies c right away when remote's description is known,
// otherwise queues it. Empty candidates are ignored.
func (m *Manager) AddCandidate(_ context.Context, remote domain.ParticipantID, c webrtc.ICECandidateInit) error {
	if c.Candidate == "" {
		return nil
	}
	s, ok := m.Get(remote)
	if !ok {
		m.buffer.Enqueue(remote, c)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return domain.ErrStaleSignal
	}
	if s.pc.RemoteDescription() == nil {
		m.buffer.Enqueue(remote, c)
		return nil
	}
	if err := s.pc.AddICECandidate(c); err != nil {
		m.logger.Warn().Err(err).Str("remote", string(remote)).Msg("candidate rejected")
	}
	return nil
}

// Remove tears down the session toward remote and drops its candidates.
// Local tracks are never stopped here.
func (m *Manager) Remove(remote domain.ParticipantID, reason error) bool {
	s, ok := m.Get(remote)
	if !ok {
		m.buffer.Drop(remote)
		return false
	}
	return m.teardown(remote, s, StateClosed, reason)
}

// CloseAll closes every session without removal callbacks.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[domain.ParticipantID]*Session)
	m.mu.Unlock()

	for remote, s := range all {
		s.close(StateClosed)
		m.buffer.Drop(remote)
		if m.cfg.Media != nil {
			m.cfg.Media.DetachSenders(remote)
		}
	}
	m.logger.Info().Int("closed", len(all)).Msg("all sessions closed")
}

func (m *Manager) teardown(remote domain.ParticipantID, s *Session, final State, reason error) bool {
	m.mu.Lock()
	if cur, ok := m.sessions[remote]; !ok || cur != s {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, remote)
	m.mu.Unlock()

	s.close(final)
	m.buffer.Drop(remote)
	if m.cfg.Media != nil {
		m.cfg.Media.DetachSenders(remote)
	}
	ev := m.logger.Info()
	if reason != nil {
		ev = m.logger.Warn().Err(reason)
	}
	ev.Str("remote", string(remote)).Str("state", final.String()).Msg("session removed")
	if m.cfg.OnRemoved != nil {
		m.cfg.OnRemoved(remote, reason)
	}
	return true
}

// negotiate runs step under the session lock. Failures other than stale
// signals and publish errors tear the session down.
func (m *Manager) negotiate(s *Session, step func() error) error {
	s.mu.Lock()
	err := step()
	s.mu.Unlock()
	if err == nil || errors.Is(err, domain.ErrStaleSignal) || errors.Is(err, domain.ErrRelayDisconnected) {
		return err
	}
	err = fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err)
	m.teardown(s.Remote, s, StateFailed, err)
	return err
}

func (m *Manager) publish(ctx context.Context, remote domain.ParticipantID, kind domain.SignalKind, payload any) error {
	msg, err := domain.NewSignal(m.cfg.Meeting, m.cfg.Self, remote, kind, payload)
	if err != nil {
		return err
	}
	if err := m.cfg.Publish(ctx, msg); err != nil {
		return fmt.Errorf("%w: publish %s: %v", domain.ErrRelayDisconnected, kind, err)
	}
	return nil
}

func (m *Manager) publishCandidate(remote domain.ParticipantID, c webrtc.ICECandidateInit) {
	if err := m.publish(m.ctx, remote, domain.SignalCandidate, c); err != nil {
		m.logger.Warn().Err(err).Str("remote", string(remote)).Msg("candidate not published")
	}
}
