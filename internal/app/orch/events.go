package orch

import (
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/pion/webrtc/v4"
)

type EventKind string

const (
	EventStateChanged      EventKind = "state"
	EventJoinRequested     EventKind = "join-requested"
	EventAdmissionDenied   EventKind = "admission-denied"
	EventMediaUnavailable  EventKind = "media-unavailable"
	EventRosterChanged     EventKind = "roster"
	EventRemoteTrack       EventKind = "remote-track"
	EventPeerLeft          EventKind = "peer-left"
	EventPeerRemoved       EventKind = "peer-removed"
	EventRelayDisconnected EventKind = "relay-disconnected"
)

// Event is what the caller renders. Only the fields relevant to Kind are set.
type Event struct {
	Kind   EventKind
	State  State
	Peer   domain.ParticipantID
	Roster []domain.ParticipantID
	Track  *webrtc.TrackRemote
	Err    error
}
