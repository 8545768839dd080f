package signal

import (
	"errors"

	"github.com/dkeye/vocalize/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleTrack announces presence on the channel.
func (ctl *SignalWSController) handleTrack(pid domain.ParticipantID, conn *wsSignalConn, f domain.RelayFrame) {
	if f.JoinedAt <= 0 {
		ctl.sendError(conn, "bad_join_time")
		return
	}
	if err := ctl.Hub.Track(pid, f.JoinedAt); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("peer", string(pid)).Msg("track")
		ctl.sendError(conn, "not_joined")
		return
	}
	log.Info().Str("module", "signal").Str("peer", string(pid)).Int64("joined_at", f.JoinedAt).Msg("presence tracked")
}

// handlePublish validates and rate-limits an envelope before the hub fans it out.
func (ctl *SignalWSController) handlePublish(pid domain.ParticipantID, meeting domain.MeetingID, conn *wsSignalConn, f domain.RelayFrame) {
	if f.Message == nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	env := *f.Message
	if err := validateEnvelope(pid, meeting, env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(pid)).Str("event", env.Event).Msg("envelope rejected")
		ctl.sendError(conn, "invalid_envelope")
		return
	}
	if env.Event == domain.EventJoinRequest && ctl.Limiter != nil && !ctl.Limiter.Allow(pid) {
		log.Warn().Str("module", "signal").Str("peer", string(pid)).Msg("join request rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}
	if err := ctl.Hub.Publish(pid, env); err != nil {
		code := "publish_failed"
		if errors.Is(err, domain.ErrNotJoined) {
			code = "not_joined"
		}
		ctl.sendError(conn, code)
	}
}
