package rtc

import (
	"testing"

	"github.com/dkeye/vocalize/internal/config"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferAnswerSignalingStates(t *testing.T) {
	f, err := NewFactory(config.ICE{})
	require.NoError(t, err)

	offerer, err := f.NewPeerConnection("b")
	require.NoError(t, err)
	defer offerer.Close()
	answerer, err := f.NewPeerConnection("a")
	require.NoError(t, err)
	defer answerer.Close()

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "a")
	require.NoError(t, err)
	sender, err := offerer.AddTrack(track)
	require.NoError(t, err)
	assert.Same(t, track, sender.Track())

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, offerer.SetLocalDescription(offer))
	assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, offerer.SignalingState())
	assert.Nil(t, offerer.RemoteDescription())

	require.NoError(t, answerer.SetRemoteDescription(offer))
	assert.Equal(t, webrtc.SignalingStateHaveRemoteOffer, answerer.SignalingState())
	answer, err := answerer.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, answerer.SetLocalDescription(answer))
	assert.Equal(t, webrtc.SignalingStateStable, answerer.SignalingState())

	require.NoError(t, offerer.SetRemoteDescription(answer))
	assert.Equal(t, webrtc.SignalingStateStable, offerer.SignalingState())
	assert.NotNil(t, offerer.RemoteDescription())
}

func TestRollbackLocalOffer(t *testing.T) {
	f, err := NewFactory(config.ICE{})
	require.NoError(t, err)
	pc, err := f.NewPeerConnection("x")
	require.NoError(t, err)
	defer pc.Close()

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "x")
	require.NoError(t, err)
	_, err = pc.AddTrack(track)
	require.NoError(t, err)

	offer, err := pc.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(offer))
	require.NoError(t, pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}))
	assert.Equal(t, webrtc.SignalingStateStable, pc.SignalingState())
}
