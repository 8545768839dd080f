package core

import (
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Sender is the outgoing side of one attached local track.
// *webrtc.RTPSender satisfies it.
type Sender interface {
	ReplaceTrack(webrtc.TrackLocal) error
	Track() webrtc.TrackLocal
}

// PeerConnection is the subset of a WebRTC peer connection the session
// manager drives. Callbacks may fire on any goroutine.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (Sender, error)

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// RemoteDescription returns nil until a remote description is applied.
	RemoteDescription() *webrtc.SessionDescription
	SignalingState() webrtc.SignalingState
	AddICECandidate(webrtc.ICECandidateInit) error

	// OnICECandidate is not invoked for the end-of-gathering nil candidate.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))

	Close() error
}

// PeerConnectionFactory allocates one connection per remote participant.
type PeerConnectionFactory interface {
	NewPeerConnection(remote domain.ParticipantID) (PeerConnection, error)
}
