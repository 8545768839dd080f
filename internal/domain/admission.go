package domain

type AdmissionStatus string

const (
	AdmissionNone     AdmissionStatus = "none"
	AdmissionPending  AdmissionStatus = "pending"
	AdmissionApproved AdmissionStatus = "approved"
	AdmissionRejected AdmissionStatus = "rejected"
)

// AdmissionRequest tracks one guest's ask to enter a meeting.
type AdmissionRequest struct {
	RequesterID ParticipantID   `json:"requesterId"`
	Status      AdmissionStatus `json:"status"`
}

// AdmissionEvent is the payload of join-request, approve-guest and reject-guest.
// Admitted is filled by the host on approvals so late joiners learn who is
// already in the call.
type AdmissionEvent struct {
	GuestID  ParticipantID   `json:"guestId"`
	Admitted []ParticipantID `json:"admitted,omitempty"`
}
