// Package rtctest provides an in-memory core.PeerConnection that follows the
// WebRTC signaling state machine without any network.
package rtctest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/pion/webrtc/v4"
)

var (
	ErrClosed              = errors.New("connection closed")
	ErrWrongState          = errors.New("wrong signaling state")
	ErrNoRemoteDescription = errors.New("remote description not set")
)

// Factory hands out Conns and remembers them per remote.
type Factory struct {
	mu      sync.Mutex
	conns   map[domain.ParticipantID][]*Conn
	seq     int
	NewErr  error
	Gather  []webrtc.ICECandidateInit
	created int
}

func NewFactory() *Factory {
	return &Factory{conns: make(map[domain.ParticipantID][]*Conn)}
}

func (f *Factory) NewPeerConnection(remote domain.ParticipantID) (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	f.seq++
	f.created++
	c := &Conn{
		Remote: remote,
		id:     f.seq,
		state:  webrtc.SignalingStateStable,
		gather: append([]webrtc.ICECandidateInit(nil), f.Gather...),
	}
	f.conns[remote] = append(f.conns[remote], c)
	return c, nil
}

// Conn returns the most recent connection created toward remote.
func (f *Factory) Conn(remote domain.ParticipantID) *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.conns[remote]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type Sender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *Sender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	return nil
}

func (s *Sender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

type Conn struct {
	Remote domain.ParticipantID
	id     int

	mu          sync.Mutex
	state       webrtc.SignalingState
	local       *webrtc.SessionDescription
	remote      *webrtc.SessionDescription
	applied     []webrtc.ICECandidateInit
	senders     []*Sender
	gather      []webrtc.ICECandidateInit
	closed      bool
	offers      int
	onICE       func(webrtc.ICECandidateInit)
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onConnState func(webrtc.PeerConnectionState)

	// FailRemote makes the next SetRemoteDescription fail.
	FailRemote error
}

func (c *Conn) AddTrack(t webrtc.TrackLocal) (core.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	s := &Sender{track: t}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	c.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d-%d", c.id, c.offers)}, nil
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if c.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, ErrWrongState
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", c.id)}, nil
}

func (c *Conn) SetLocalDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if c.state != webrtc.SignalingStateStable {
			c.mu.Unlock()
			return ErrWrongState
		}
		c.state = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		if c.state != webrtc.SignalingStateHaveRemoteOffer {
			c.mu.Unlock()
			return ErrWrongState
		}
		c.state = webrtc.SignalingStateStable
	case webrtc.SDPTypeRollback:
		if c.state != webrtc.SignalingStateHaveLocalOffer {
			c.mu.Unlock()
			return ErrWrongState
		}
		c.state = webrtc.SignalingStateStable
		c.local = nil
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		return ErrWrongState
	}
	c.local = &d
	gather := c.gather
	c.gather = nil
	onICE := c.onICE
	c.mu.Unlock()

	if onICE != nil {
		for _, cand := range gather {
			onICE(cand)
		}
	}
	return nil
}

func (c *Conn) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.FailRemote; err != nil {
		c.FailRemote = nil
		return err
	}
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if c.state != webrtc.SignalingStateStable {
			return ErrWrongState
		}
		c.state = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if c.state != webrtc.SignalingStateHaveLocalOffer {
			return ErrWrongState
		}
		c.state = webrtc.SignalingStateStable
	default:
		return ErrWrongState
	}
	c.remote = &d
	return nil
}

func (c *Conn) RemoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Conn) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Conn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SignalingStateClosed
	}
	return c.state
}

func (c *Conn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.remote == nil {
		return ErrNoRemoteDescription
	}
	c.applied = append(c.applied, cand)
	return nil
}

// Applied returns the remote candidates accepted so far, in order.
func (c *Conn) Applied() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.applied...)
}

func (c *Conn) Senders() []*Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Sender(nil), c.senders...)
}

func (c *Conn) Offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *Conn) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *Conn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnState = fn
}

// SetConnectionState fires the connection state handler synchronously.
func (c *Conn) SetConnectionState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onConnState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// EmitTrack delivers an empty remote track to the OnTrack handler.
func (c *Conn) EmitTrack() {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(&webrtc.TrackRemote{}, nil)
	}
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
