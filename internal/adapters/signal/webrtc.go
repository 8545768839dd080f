package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/vocalize/internal/domain"
	"github.com/pion/webrtc/v4"
)

var ErrInvalidEnvelope = errors.New("invalid envelope")

// validateEnvelope checks what the relay can check without being a party to
// the call: known event, sender claims matching the connection, and
// well-formed session descriptions and candidates.
func validateEnvelope(pid domain.ParticipantID, meeting domain.MeetingID, env domain.Envelope) error {
	switch env.Event {
	case domain.EventSignal:
		return validateSignal(pid, meeting, env.Payload)
	case domain.EventJoinRequest, domain.EventApproveGuest, domain.EventRejectGuest:
		var ev domain.AdmissionEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidEnvelope, env.Event, err)
		}
		if ev.GuestID == "" {
			return fmt.Errorf("%w: %s without guest", ErrInvalidEnvelope, env.Event)
		}
		if env.Event == domain.EventJoinRequest && ev.GuestID != pid {
			return fmt.Errorf("%w: join request on behalf of %s", ErrInvalidEnvelope, ev.GuestID)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown event %q", ErrInvalidEnvelope, env.Event)
	}
}

func validateSignal(pid domain.ParticipantID, meeting domain.MeetingID, raw json.RawMessage) error {
	var msg domain.SignalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if !msg.Kind.Valid() {
		return fmt.Errorf("%w: signal type %q", ErrInvalidEnvelope, msg.Kind)
	}
	if msg.FromPeer != pid {
		return fmt.Errorf("%w: fromPeer %s on connection of %s", ErrInvalidEnvelope, msg.FromPeer, pid)
	}
	if msg.MeetingID != meeting {
		return fmt.Errorf("%w: meeting %s on channel %s", ErrInvalidEnvelope, msg.MeetingID, meeting)
	}

	switch msg.Kind {
	case domain.SignalOffer, domain.SignalAnswer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(msg.Payload, &sd); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidEnvelope, msg.Kind, err)
		}
		if sd.Type.String() != string(msg.Kind) {
			return fmt.Errorf("%w: %s carries %s", ErrInvalidEnvelope, msg.Kind, sd.Type)
		}
		if _, err := sd.Unmarshal(); err != nil {
			return fmt.Errorf("%w: %s sdp: %v", ErrInvalidEnvelope, msg.Kind, err)
		}
	case domain.SignalCandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Payload, &cand); err != nil {
			return fmt.Errorf("%w: candidate: %v", ErrInvalidEnvelope, err)
		}
		if cand.Candidate == "" {
			return fmt.Errorf("%w: empty candidate", ErrInvalidEnvelope)
		}
	}
	return nil
}
