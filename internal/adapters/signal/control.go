package signal

import "github.com/dkeye/vocalize/internal/domain"

func (ctl *SignalWSController) handlePing(conn *wsSignalConn) {
	ctl.sendJSON(conn, domain.RelayFrame{Op: domain.OpPong})
}

func (ctl *SignalWSController) sendError(conn *wsSignalConn, msg string) {
	ctl.sendJSON(conn, domain.RelayFrame{Op: domain.OpError, Error: msg})
}
