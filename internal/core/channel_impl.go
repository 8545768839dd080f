package core

import (
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/vocalize/internal/domain"
	"github.com/rs/zerolog/log"
)

// channelImpl is a threadsafe in-memory meeting channel.
// It never closes adapter-owned resources.
type channelImpl struct {
	meeting domain.MeetingID
	mu      sync.RWMutex
	byPID   map[domain.ParticipantID]MemberSession
}

func NewChannelService(meeting domain.MeetingID) ChannelService {
	return &channelImpl{
		meeting: meeting,
		byPID:   make(map[domain.ParticipantID]MemberSession),
	}
}

func (c *channelImpl) Meeting() domain.MeetingID { return c.meeting }

func (c *channelImpl) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byPID)
}

func (c *channelImpl) AddMember(pid domain.ParticipantID, ms MemberSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byPID[pid] = ms
	log.Info().Str("module", "core.channel").Str("meeting", string(c.meeting)).Str("peer", string(pid)).Msg("member added")
}

func (c *channelImpl) Track(pid domain.ParticipantID, joinedAt int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms, ok := c.byPID[pid]
	if !ok {
		return false
	}
	ms.Meta().JoinedAt = joinedAt
	log.Info().Str("module", "core.channel").Str("meeting", string(c.meeting)).Str("peer", string(pid)).Int64("joined_at", joinedAt).Msg("presence tracked")
	return true
}

func (c *channelImpl) RemoveMember(pid domain.ParticipantID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byPID[pid]; !ok {
		return false
	}
	delete(c.byPID, pid)
	log.Info().Str("module", "core.channel").Str("meeting", string(c.meeting)).Str("peer", string(pid)).Msg("member removed")
	return true
}

func (c *channelImpl) Presence() domain.Presence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(domain.Presence, len(c.byPID))
	for pid, ms := range c.byPID {
		if m := ms.Meta(); m.Tracked() {
			out[pid] = domain.PresenceState{JoinedAt: m.JoinedAt}
		}
	}
	return out
}

func (c *channelImpl) Broadcast(data Frame) PublishResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := PublishResult{}
	for _, m := range c.byPID {
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.channel").Str("meeting", string(c.meeting)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (c *channelImpl) MembersSnapshot() []MemberDTO {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]MemberDTO, 0, len(c.byPID))
	for pid, ms := range c.byPID {
		m := ms.Meta()
		dto := MemberDTO{Participant: pid, JoinedAt: m.JoinedAt}
		if m.User != nil {
			dto.Username = m.User.Username
		}
		out = append(out, dto)
	}
	slices.SortFunc(out, func(a, b MemberDTO) int {
		return strings.Compare(string(a.Participant), string(b.Participant))
	})
	return out
}
