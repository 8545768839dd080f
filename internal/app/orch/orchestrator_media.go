package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/vocalize/internal/domain"
	"github.com/pion/webrtc/v4"
)

var ErrReceiveOnly = errors.New("receive-only participant")

func (o *Orchestrator) mediaReady() error {
	if o.cfg.Media == nil {
		return ErrReceiveOnly
	}
	switch s := o.State(); s {
	case StateConnecting, StateActive:
		return nil
	default:
		return fmt.Errorf("%w: state %s", domain.ErrNotJoined, s)
	}
}

// SetTrackEnabled mutes or unmutes a local track on every peer at once.
func (o *Orchestrator) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	if err := o.mediaReady(); err != nil {
		return err
	}
	return o.cfg.Media.SetTrackEnabled(kind, enabled)
}

// ShareScreen sends track instead of the camera. Peers switch one by one.
func (o *Orchestrator) ShareScreen(ctx context.Context, track webrtc.TrackLocal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.mediaReady(); err != nil {
		return err
	}
	if err := o.cfg.Media.ReplaceVideoTrack(track); err != nil {
		return fmt.Errorf("share screen: %w", err)
	}
	o.logger.Info().Str("track", track.ID()).Int("peers", o.PeerCount()).Msg("screen share started")
	return nil
}

func (o *Orchestrator) StopScreenShare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.mediaReady(); err != nil {
		return err
	}
	if err := o.cfg.Media.StopScreenShare(); err != nil {
		return fmt.Errorf("stop screen share: %w", err)
	}
	o.logger.Info().Msg("screen share stopped")
	return nil
}
