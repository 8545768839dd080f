package domain

import (
	"encoding/json"
	"fmt"
)

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalCandidate:
		return true
	}
	return false
}

// SignalMessage carries one negotiation step between two participants.
// A nil ToPeer means broadcast.
type SignalMessage struct {
	MeetingID MeetingID       `json:"meetingId"`
	FromPeer  ParticipantID   `json:"fromPeer"`
	ToPeer    *ParticipantID  `json:"toPeer"`
	Kind      SignalKind      `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// NewSignal builds an addressed message; payload is marshalled as is.
func NewSignal(meeting MeetingID, from, to ParticipantID, kind SignalKind, payload any) (SignalMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SignalMessage{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return SignalMessage{
		MeetingID: meeting,
		FromPeer:  from,
		ToPeer:    &to,
		Kind:      kind,
		Payload:   raw,
	}, nil
}

// AcceptedBy reports whether self should act on the message: own echoes and
// messages addressed to someone else are dropped.
func (m SignalMessage) AcceptedBy(self ParticipantID) bool {
	if m.FromPeer == self {
		return false
	}
	return m.ToPeer == nil || *m.ToPeer == self
}

const (
	EventSignal       = "signal"
	EventJoinRequest  = "join-request"
	EventApproveGuest = "approve-guest"
	EventRejectGuest  = "reject-guest"
)

// Envelope is the unit published on a meeting channel.
// From is stamped by the relay, clients cannot choose it.
type Envelope struct {
	Event   string          `json:"event"`
	From    ParticipantID   `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func NewEnvelope(event string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return Envelope{Event: event, Payload: raw}, nil
}

// Relay frame ops exchanged over the meeting WebSocket.
const (
	OpTrack    = "track"
	OpPublish  = "publish"
	OpPing     = "ping"
	OpPong     = "pong"
	OpPresence = "presence"
	OpMessage  = "message"
	OpWhoAmI   = "whoami"
	OpError    = "error"
)

type RelayFrame struct {
	Op       string    `json:"op"`
	JoinedAt int64     `json:"joinedAt,omitempty"`
	Presence Presence  `json:"presence,omitempty"`
	Message  *Envelope `json:"message,omitempty"`
	Error    string    `json:"error,omitempty"`
	User     *User     `json:"user,omitempty"`
	Peer     string    `json:"peer,omitempty"`
}
