package app

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/rs/zerolog/log"
)

// Hub is the relay side of every meeting channel: it tracks who is
// subscribed, who announced presence, and fans published envelopes out.
type Hub struct {
	Registry *Registry
	Channels core.ChannelManager
	Policy   Policy

	// lifecycle serializes channel creation against removal of the last member.
	lifecycle sync.Mutex
}

func NewHub(policy Policy) *Hub {
	return &Hub{
		Registry: NewRegistry(),
		Channels: NewChannelManager(),
		Policy:   policy,
	}
}

// Attach subscribes a connection to a meeting channel and sends it the
// current presence snapshot. The participant is not present until Track.
func (h *Hub) Attach(pid domain.ParticipantID, meeting domain.MeetingID, sess core.MemberSession, cancel func()) error {
	if err := h.Registry.Bind(pid, meeting, sess, cancel); err != nil {
		return err
	}
	h.lifecycle.Lock()
	ch := h.Channels.GetOrCreate(meeting)
	ch.AddMember(pid, sess)
	h.lifecycle.Unlock()

	if err := sess.Signal().TrySend(encode(domain.RelayFrame{Op: domain.OpPresence, Presence: ch.Presence()})); err != nil {
		log.Warn().Err(err).Str("module", "app.hub").Str("peer", string(pid)).Msg("initial presence not delivered")
	}
	return nil
}

// Track announces presence with the client's join time and broadcasts the
// new snapshot, the announcer included.
func (h *Hub) Track(pid domain.ParticipantID, joinedAt int64) error {
	ch, err := h.channelOf(pid)
	if err != nil {
		return err
	}
	if !ch.Track(pid, joinedAt) {
		return domain.ErrNotJoined
	}
	h.broadcastPresence(ch)
	return nil
}

// Publish stamps the sender and broadcasts env to every subscriber of the
// sender's channel, the sender included.
func (h *Hub) Publish(pid domain.ParticipantID, env domain.Envelope) error {
	ch, err := h.channelOf(pid)
	if err != nil {
		return err
	}
	env.From = pid
	h.broadcast(ch, encode(domain.RelayFrame{Op: domain.OpMessage, Message: &env}))
	return nil
}

// Detach removes a closed connection. Presence is rebroadcast if the
// participant had announced itself.
func (h *Hub) Detach(pid domain.ParticipantID, sess core.MemberSession) {
	meeting, ok := h.Registry.MeetingOf(pid)
	if !ok || !h.Registry.Unbind(pid, sess) {
		return
	}
	ch, ok := h.Channels.Get(meeting)
	if !ok {
		return
	}
	tracked := ch.Presence().Has(pid)

	h.lifecycle.Lock()
	ch.RemoveMember(pid)
	empty := ch.MemberCount() == 0
	if empty {
		h.Channels.StopChannel(meeting)
	}
	h.lifecycle.Unlock()

	if empty {
		log.Info().Str("module", "app.hub").Str("meeting", string(meeting)).Msg("channel closed")
		return
	}
	if tracked {
		h.broadcastPresence(ch)
	}
}

// Kick drops a participant's connection. Cleanup runs through Detach once
// the adapter's pumps exit.
func (h *Hub) Kick(pid domain.ParticipantID) bool {
	return h.Registry.Cancel(pid)
}

// EvictMeeting disconnects every subscriber of a meeting.
func (h *Hub) EvictMeeting(meeting domain.MeetingID) int {
	n := 0
	for _, snap := range h.Registry.MembersOf(meeting) {
		if h.Kick(snap.Participant) {
			n++
		}
	}
	log.Info().Str("module", "app.hub").Str("meeting", string(meeting)).Int("kicked", n).Msg("meeting evicted")
	return n
}

func (h *Hub) Presence(meeting domain.MeetingID) domain.Presence {
	if ch, ok := h.Channels.Get(meeting); ok {
		return ch.Presence()
	}
	return domain.Presence{}
}

func (h *Hub) Members(meeting domain.MeetingID) []core.MemberDTO {
	if ch, ok := h.Channels.Get(meeting); ok {
		return ch.MembersSnapshot()
	}
	return []core.MemberDTO{}
}

func (h *Hub) channelOf(pid domain.ParticipantID) (core.ChannelService, error) {
	meeting, ok := h.Registry.MeetingOf(pid)
	if !ok {
		return nil, domain.ErrNotJoined
	}
	ch, ok := h.Channels.Get(meeting)
	if !ok {
		return nil, domain.ErrNotJoined
	}
	return ch, nil
}

func (h *Hub) broadcastPresence(ch core.ChannelService) {
	h.broadcast(ch, encode(domain.RelayFrame{Op: domain.OpPresence, Presence: ch.Presence()}))
}

func (h *Hub) broadcast(ch core.ChannelService, frame core.Frame) {
	res := ch.Broadcast(frame)
	if h.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch h.Policy.OnBackPressure(ch, slow) {
		case KickMember:
			pid := slow.Meta().Participant
			log.Warn().Str("module", "app.hub").Str("meeting", string(ch.Meeting())).Str("peer", string(pid)).Msg("kicking slow member")
			h.Kick(pid)
		case DropFrame, NoAction:
		}
	}
}

func encode(f domain.RelayFrame) core.Frame {
	b, err := json.Marshal(f)
	if err != nil {
		// Frames hold only plain fields and raw JSON that was already parsed.
		log.Error().Err(err).Str("module", "app.hub").Str("op", f.Op).Msg("encode frame")
		return nil
	}
	return b
}
