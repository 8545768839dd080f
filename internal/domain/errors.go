package domain

import "errors"

// Call-session failure taxonomy. Components return these wrapped, callers
// test with errors.Is.
var (
	ErrMediaUnavailable  = errors.New("media unavailable")
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrRelayDisconnected = errors.New("relay disconnected")
	ErrAdmissionDenied   = errors.New("admission denied")
	ErrStaleSignal       = errors.New("stale signal")

	ErrNotHost       = errors.New("not the meeting host")
	ErrNotJoined     = errors.New("not joined")
	ErrAlreadyJoined = errors.New("already joined")
	ErrBadSignal     = errors.New("malformed signal")
)
