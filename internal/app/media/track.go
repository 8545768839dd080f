package media

import (
	"errors"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

var ErrTrackEnded = errors.New("track ended")

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateMuted
	TrackStateEnded
)

func (s TrackState) String() string {
	switch s {
	case TrackStateLive:
		return "live"
	case TrackStateMuted:
		return "muted"
	case TrackStateEnded:
		return "ended"
	}
	return "unknown"
}

// Track is a local outgoing track whose samples can be gated without
// renegotiation. It is shared by every peer session.
type Track struct {
	*webrtc.TrackLocalStaticSample
	state atomic.Int32 // Zero by default (TrackStateLive)
}

func NewTrack(codec webrtc.RTPCodecCapability, id, streamID string) (*Track, error) {
	inner, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	return &Track{TrackLocalStaticSample: inner}, nil
}

func (t *Track) State() TrackState {
	return TrackState(t.state.Load())
}

func (t *Track) Enabled() bool { return t.State() == TrackStateLive }

// SetEnabled toggles between live and muted. Ended tracks stay ended.
func (t *Track) SetEnabled(enabled bool) {
	to := TrackStateMuted
	if enabled {
		to = TrackStateLive
	}
	for {
		cur := t.state.Load()
		if TrackState(cur) == TrackStateEnded {
			return
		}
		if t.state.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}

func (t *Track) End() {
	t.state.Store(int32(TrackStateEnded))
}

// WriteSample drops samples while muted.
func (t *Track) WriteSample(s pionmedia.Sample) error {
	switch t.State() {
	case TrackStateMuted:
		return nil
	case TrackStateEnded:
		return ErrTrackEnded
	}
	return t.TrackLocalStaticSample.WriteSample(s)
}
