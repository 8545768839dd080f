// Package media owns local capture: it turns capturer sources into shared
// outgoing tracks and tracks which peer senders carry them.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var (
	ErrNotAcquired = errors.New("media not acquired")
	ErrNoTrack     = errors.New("no track of that kind")
)

// Handle is the set of tracks produced by one successful Acquire.
type Handle struct {
	tracks  []*Track
	sources []Source
}

func (h *Handle) Tracks() []*Track { return h.tracks }

func (h *Handle) Track(kind webrtc.RTPCodecType) (*Track, bool) {
	for _, t := range h.tracks {
		if t.Kind() == kind {
			return t, true
		}
	}
	return nil, false
}

type Controller struct {
	capturer Capturer
	streamID string
	logger   zerolog.Logger

	mu      sync.Mutex
	handle  *Handle
	cancel  context.CancelFunc
	pumps   *conc.WaitGroup
	screen  webrtc.TrackLocal
	senders map[domain.ParticipantID]map[webrtc.RTPCodecType]core.Sender
}

func NewController(capturer Capturer, streamID string) *Controller {
	return &Controller{
		capturer: capturer,
		streamID: streamID,
		logger:   log.With().Str("module", "media").Str("stream", streamID).Logger(),
		senders:  make(map[domain.ParticipantID]map[webrtc.RTPCodecType]core.Sender),
	}
}

// Acquire opens the capturer once and starts one pump per source.
// Later calls return the same handle until Release.
func (c *Controller) Acquire(ctx context.Context) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		return c.handle, nil
	}

	sources, err := c.capturer.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: capturer returned no sources", domain.ErrMediaUnavailable)
	}

	h := &Handle{sources: sources}
	for _, src := range sources {
		t, err := NewTrack(src.Codec(), src.Kind().String(), c.streamID)
		if err != nil {
			closeSources(sources)
			return nil, fmt.Errorf("%w: %s track: %v", domain.ErrMediaUnavailable, src.Kind(), err)
		}
		h.tracks = append(h.tracks, t)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	pumps := conc.NewWaitGroup()
	for i, src := range sources {
		dst := h.tracks[i]
		logger := c.logger.With().Str("kind", src.Kind().String()).Logger()
		pumps.Go(func() { pump(pumpCtx, src, dst, &logger) })
	}

	c.handle, c.cancel, c.pumps = h, cancel, pumps
	c.logger.Info().Int("tracks", len(h.tracks)).Msg("local media acquired")
	return h, nil
}

func (c *Controller) Acquired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

// Release stops every local track and closes the capturer sources.
func (c *Controller) Release() {
	c.mu.Lock()
	h, cancel, pumps := c.handle, c.cancel, c.pumps
	c.handle, c.cancel, c.pumps, c.screen = nil, nil, nil, nil
	c.senders = make(map[domain.ParticipantID]map[webrtc.RTPCodecType]core.Sender)
	c.mu.Unlock()
	if h == nil {
		return
	}

	cancel()
	for _, t := range h.tracks {
		t.End()
	}
	closeSources(h.sources)
	pumps.Wait()
	c.logger.Info().Msg("local media released")
}

// LocalTracks returns what a new peer session should send, with the
// screen substituted for the camera while sharing.
func (c *Controller) LocalTracks() []webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return nil
	}
	out := make([]webrtc.TrackLocal, 0, len(c.handle.tracks))
	for _, t := range c.handle.tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo && c.screen != nil {
			out = append(out, c.screen)
			continue
		}
		out = append(out, t)
	}
	return out
}

func (c *Controller) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return ErrNotAcquired
	}
	t, ok := c.handle.Track(kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTrack, kind)
	}
	t.SetEnabled(enabled)
	c.logger.Info().Str("kind", kind.String()).Bool("enabled", enabled).Msg("track toggled")
	return nil
}

// ReplaceVideoTrack swaps the outgoing video on every attached sender, one
// peer at a time. Peers may briefly disagree while the loop runs.
func (c *Controller) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	if c.handle == nil {
		c.mu.Unlock()
		return ErrNotAcquired
	}
	c.screen = track
	targets := c.videoSendersLocked()
	c.mu.Unlock()
	return c.replaceOn(targets, track)
}

// StopScreenShare puts the camera track back on every sender.
func (c *Controller) StopScreenShare() error {
	c.mu.Lock()
	if c.handle == nil {
		c.mu.Unlock()
		return ErrNotAcquired
	}
	c.screen = nil
	var camera webrtc.TrackLocal
	if t, ok := c.handle.Track(webrtc.RTPCodecTypeVideo); ok {
		camera = t
	}
	targets := c.videoSendersLocked()
	c.mu.Unlock()
	return c.replaceOn(targets, camera)
}

func (c *Controller) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen != nil
}

func (c *Controller) AttachSender(remote domain.ParticipantID, kind webrtc.RTPCodecType, sender core.Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byKind, ok := c.senders[remote]
	if !ok {
		byKind = make(map[webrtc.RTPCodecType]core.Sender)
		c.senders[remote] = byKind
	}
	byKind[kind] = sender
}

func (c *Controller) DetachSenders(remote domain.ParticipantID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.senders, remote)
}

// SenderCount reports how many peers currently carry a track of kind.
func (c *Controller) SenderCount(kind webrtc.RTPCodecType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, byKind := range c.senders {
		if _, ok := byKind[kind]; ok {
			n++
		}
	}
	return n
}

func (c *Controller) videoSendersLocked() map[domain.ParticipantID]core.Sender {
	out := make(map[domain.ParticipantID]core.Sender, len(c.senders))
	for remote, byKind := range c.senders {
		if s, ok := byKind[webrtc.RTPCodecTypeVideo]; ok {
			out[remote] = s
		}
	}
	return out
}

func (c *Controller) replaceOn(targets map[domain.ParticipantID]core.Sender, track webrtc.TrackLocal) error {
	var errs []error
	for remote, s := range targets {
		if err := s.ReplaceTrack(track); err != nil {
			c.logger.Warn().Err(err).Str("remote", string(remote)).Msg("replace track failed")
			errs = append(errs, fmt.Errorf("%s: %w", remote, err))
		}
	}
	c.logger.Info().Int("peers", len(targets)).Bool("screen", track != nil && c.Sharing()).Msg("video track replaced")
	return errors.Join(errs...)
}

func closeSources(sources []Source) {
	for _, s := range sources {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("kind", s.Kind().String()).Msg("close source")
		}
	}
}
