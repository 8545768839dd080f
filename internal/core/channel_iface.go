package core

import (
	"github.com/dkeye/vocalize/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the hub.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	Participant domain.ParticipantID `json:"participant"`
	Username    string               `json:"username"`
	JoinedAt    int64                `json:"joinedAt,omitempty"`
}

// ChannelService is the relay-facing API of one meeting channel.
// It owns the membership set but never touches transport resources.
type ChannelService interface {
	Meeting() domain.MeetingID
	MemberCount() int
	MembersSnapshot() []MemberDTO
	// Presence contains only members that announced a join time.
	Presence() domain.Presence

	AddMember(pid domain.ParticipantID, ms MemberSession)
	Track(pid domain.ParticipantID, joinedAt int64) bool
	RemoveMember(pid domain.ParticipantID) bool
	// Broadcast delivers to every member, the sender included.
	Broadcast(data Frame) PublishResult
}

type ChannelInfo struct {
	Meeting     domain.MeetingID `json:"meeting"`
	MemberCount int              `json:"client_count"`
}

type ChannelManager interface {
	GetOrCreate(id domain.MeetingID) ChannelService
	Get(id domain.MeetingID) (ChannelService, bool)
	List() []ChannelInfo
	StopChannel(id domain.MeetingID)
}
