package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			// Unblocks readPump, which detaches.
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(
	ctx context.Context,
	cancel context.CancelFunc,
	pid domain.ParticipantID,
	meeting domain.MeetingID,
	sess core.MemberSession,
	c *wsSignalConn,
) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(pid)).Msg("readPump closing")
		cancel()
		ctl.Hub.Detach(pid, sess)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(pid)
		}
		c.Close()
	}()

	for {
		if ctl.PingPeriod > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(2*ctl.PingPeriod + writeWait))
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Str("module", "signal").Str("peer", string(pid)).Msg("readPump read error")
			}
			return
		}
		ctl.handleFrame(pid, meeting, sess, c, data)
	}
}

func (ctl *SignalWSController) handleFrame(pid domain.ParticipantID, meeting domain.MeetingID, sess core.MemberSession, c *wsSignalConn, data []byte) {
	var f domain.RelayFrame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch f.Op {
	case domain.OpTrack:
		ctl.handleTrack(pid, c, f)
	case domain.OpPublish:
		ctl.handlePublish(pid, meeting, c, f)
	case domain.OpPing:
		ctl.handlePing(c)
	case domain.OpWhoAmI:
		ctl.handleWhoAmI(pid, sess, c)
	default:
		log.Warn().Str("module", "signal").Str("op", f.Op).Msg("unknown op")
		ctl.sendError(c, "unknown_op")
	}
}

func (ctl *SignalWSController) sendJSON(c *wsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
