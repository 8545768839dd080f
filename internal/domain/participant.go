package domain

import (
	"slices"

	"github.com/google/uuid"
)

// ParticipantID identifies one joined client instance (one tab, one process).
// It is regenerated on every join and is unrelated to UserID.
type ParticipantID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

// Less is the total order used for host tie-breaks and for deciding which
// side of a guest pair sends the offer.
func Less(a, b ParticipantID) bool {
	return a < b
}

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// PresenceState is what each participant announces about itself.
type PresenceState struct {
	JoinedAt int64 `json:"joinedAt"`
}

// Presence is a snapshot of everyone currently tracked on a meeting channel.
type Presence map[ParticipantID]PresenceState

func (p Presence) Has(id ParticipantID) bool {
	_, ok := p[id]
	return ok
}

// Host elects the participant with the smallest JoinedAt, ties broken by Less.
// Returns false on an empty snapshot.
func (p Presence) Host() (ParticipantID, bool) {
	var (
		host  ParticipantID
		best  int64
		found bool
	)
	for id, st := range p {
		if !found || st.JoinedAt < best || (st.JoinedAt == best && Less(id, host)) {
			host, best, found = id, st.JoinedAt, true
		}
	}
	return host, found
}

func (p Presence) RoleOf(id ParticipantID) Role {
	if host, ok := p.Host(); ok && host == id {
		return RoleHost
	}
	return RoleGuest
}

// IDs returns the tracked participants in Less order.
func (p Presence) IDs() []ParticipantID {
	out := make([]ParticipantID, 0, len(p))
	for id := range p {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (p Presence) Clone() Presence {
	out := make(Presence, len(p))
	for id, st := range p {
		out[id] = st
	}
	return out
}
