package signal

import (
	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
)

func (ctl *SignalWSController) handleWhoAmI(pid domain.ParticipantID, sess core.MemberSession, conn *wsSignalConn) {
	ctl.sendJSON(conn, domain.RelayFrame{
		Op:   domain.OpWhoAmI,
		User: sess.Meta().User,
		Peer: string(pid),
	})
}
