package relay

import (
	"context"
	"sync"

	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/rs/zerolog/log"
)

// MemoryHub is an in-process relay. Every subscriber gets an unbounded
// mailbox, so a publisher never blocks and per-sender order is kept.
type MemoryHub struct {
	mu       sync.Mutex
	channels map[domain.MeetingID]*memChannel
}

type memChannel struct {
	subs     map[domain.ParticipantID]*memSubscription
	presence domain.Presence
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{channels: make(map[domain.MeetingID]*memChannel)}
}

func (h *MemoryHub) Subscribe(_ context.Context, meeting domain.MeetingID, self domain.ParticipantID) (core.RelaySubscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[meeting]
	if !ok {
		ch = &memChannel{
			subs:     make(map[domain.ParticipantID]*memSubscription),
			presence: make(domain.Presence),
		}
		h.channels[meeting] = ch
	}
	if old, ok := ch.subs[self]; ok {
		old.stop(true)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &memSubscription{
		hub:          h,
		meeting:      meeting,
		self:         self,
		presence:     make(chan domain.Presence, 1),
		messages:     make(chan domain.Envelope),
		disconnected: make(chan struct{}),
		wake:         make(chan struct{}, 1),
		cancel:       cancel,
	}
	ch.subs[self] = sub
	offerLatest(sub.presence, ch.presence.Clone())
	go sub.deliver(ctx)
	return sub, nil
}

// Drop simulates the relay losing one participant's connection.
func (h *MemoryHub) Drop(meeting domain.MeetingID, id domain.ParticipantID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[meeting]
	if !ok {
		return
	}
	if sub, ok := ch.subs[id]; ok {
		h.detachLocked(ch, sub)
		sub.stop(true)
	}
}

// Presence returns the current snapshot of a meeting channel.
func (h *MemoryHub) Presence(meeting domain.MeetingID) domain.Presence {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[meeting]; ok {
		return ch.presence.Clone()
	}
	return domain.Presence{}
}

func (h *MemoryHub) detachLocked(ch *memChannel, sub *memSubscription) {
	delete(ch.subs, sub.self)
	if _, tracked := ch.presence[sub.self]; tracked {
		delete(ch.presence, sub.self)
		h.broadcastPresenceLocked(ch)
	}
	if len(ch.subs) == 0 {
		delete(h.channels, sub.meeting)
	}
}

func (h *MemoryHub) broadcastPresenceLocked(ch *memChannel) {
	for _, s := range ch.subs {
		offerLatest(s.presence, ch.presence.Clone())
	}
}

func (h *MemoryHub) channelOf(sub *memSubscription) (*memChannel, bool) {
	ch, ok := h.channels[sub.meeting]
	if !ok || ch.subs[sub.self] != sub {
		return nil, false
	}
	return ch, true
}

type memSubscription struct {
	hub      *MemoryHub
	meeting  domain.MeetingID
	self     domain.ParticipantID
	presence chan domain.Presence
	messages chan domain.Envelope

	disconnected chan struct{}
	cancel       context.CancelFunc

	mu    sync.Mutex
	queue []domain.Envelope
	wake  chan struct{}
	done  bool
}

func (s *memSubscription) Presence() <-chan domain.Presence { return s.presence }
func (s *memSubscription) Messages() <-chan domain.Envelope { return s.messages }
func (s *memSubscription) Disconnected() <-chan struct{}    { return s.disconnected }

func (s *memSubscription) Publish(ctx context.Context, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	ch, ok := s.hub.channelOf(s)
	if !ok {
		return domain.ErrRelayDisconnected
	}
	env.From = s.self
	for _, sub := range ch.subs {
		sub.push(env)
	}
	return nil
}

func (s *memSubscription) AnnouncePresence(ctx context.Context, joinedAt int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	ch, ok := s.hub.channelOf(s)
	if !ok {
		return domain.ErrRelayDisconnected
	}
	ch.presence[s.self] = domain.PresenceState{JoinedAt: joinedAt}
	s.hub.broadcastPresenceLocked(ch)
	return nil
}

func (s *memSubscription) Unsubscribe() {
	s.hub.mu.Lock()
	if ch, ok := s.hub.channelOf(s); ok {
		s.hub.detachLocked(ch, s)
	}
	s.hub.mu.Unlock()
	s.stop(false)
}

func (s *memSubscription) push(env domain.Envelope) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, env)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memSubscription) stop(lost bool) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.queue = nil
	s.mu.Unlock()
	s.cancel()
	if lost {
		close(s.disconnected)
		log.Warn().Str("module", "adapters.relay").Str("peer", string(s.self)).Msg("memory relay dropped subscriber")
	}
}

func (s *memSubscription) deliver(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		env := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		select {
		case s.messages <- env:
		case <-ctx.Done():
			return
		}
	}
}
