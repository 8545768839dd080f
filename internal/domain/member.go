package domain

import "time"

// Member is the relay-side view of one subscriber on a meeting channel.
// No transport or lifecycle logic here.
type Member struct {
	User        *User
	Participant ParticipantID
	Meeting     MeetingID
	// JoinedAt stays zero until the participant announces presence.
	JoinedAt int64
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User, pid ParticipantID, meeting MeetingID) *Member {
	return &Member{User: user, Participant: pid, Meeting: meeting}
}

func (m *Member) Tracked() bool { return m.JoinedAt != 0 }

// NowMillis is the presence clock.
func NowMillis() int64 { return time.Now().UnixMilli() }
