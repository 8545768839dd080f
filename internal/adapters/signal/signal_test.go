package signal

import (
	"testing"
	"time"

	"github.com/dkeye/vocalize/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "limits are per participant")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"))

	rl.Forget("b")
	assert.True(t, rl.Allow("b"))
	assert.True(t, rl.Allow("b"))
}

func mustEnvelope(t *testing.T, event string, payload any) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(event, payload)
	require.NoError(t, err)
	return env
}

func mustSignal(t *testing.T, from, to domain.ParticipantID, kind domain.SignalKind, payload any) domain.Envelope {
	t.Helper()
	msg, err := domain.NewSignal("m-1", from, to, kind, payload)
	require.NoError(t, err)
	return mustEnvelope(t, domain.EventSignal, msg)
}

func TestValidateEnvelope(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close()
	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio)
	require.NoError(t, err)
	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)

	cases := []struct {
		name string
		env  domain.Envelope
		ok   bool
	}{
		{"offer", mustSignal(t, "a", "b", domain.SignalOffer, offer), true},
		{"offer labelled answer", mustSignal(t, "a", "b", domain.SignalAnswer, offer), false},
		{"spoofed sender", mustSignal(t, "c", "b", domain.SignalOffer, offer), false},
		{"garbage sdp", mustSignal(t, "a", "b", domain.SignalOffer, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}), false},
		{"candidate", mustSignal(t, "a", "b", domain.SignalCandidate, webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}), true},
		{"empty candidate", mustSignal(t, "a", "b", domain.SignalCandidate, webrtc.ICECandidateInit{}), false},
		{"own join request", mustEnvelope(t, domain.EventJoinRequest, domain.AdmissionEvent{GuestID: "a"}), true},
		{"join request for another", mustEnvelope(t, domain.EventJoinRequest, domain.AdmissionEvent{GuestID: "b"}), false},
		{"approval", mustEnvelope(t, domain.EventApproveGuest, domain.AdmissionEvent{GuestID: "b"}), true},
		{"rejection without guest", mustEnvelope(t, domain.EventRejectGuest, domain.AdmissionEvent{}), false},
		{"unknown event", mustEnvelope(t, "dance", struct{}{}), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateEnvelope("a", "m-1", tc.env)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidEnvelope)
			}
		})
	}

	other, err := domain.NewSignal("m-2", "a", "b", domain.SignalOffer, offer)
	require.NoError(t, err)
	assert.ErrorIs(t, validateEnvelope("a", "m-1", mustEnvelope(t, domain.EventSignal, other)), ErrInvalidEnvelope)
}
