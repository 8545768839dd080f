// Package signal serves the meeting relay over WebSocket.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/vocalize/internal/app"
	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const (
	writeWait     = 5 * time.Second
	sendQueueSize = 32
	maxPeerIDLen  = 64
)

type SignalWSController struct {
	Hub        *app.Hub
	Limiter    *RateLimiter
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSignalWSController(hub *app.Hub, limiter *RateLimiter, readLimit int64, pingPeriod time.Duration) *SignalWSController {
	return &SignalWSController{
		Hub:        hub,
		Limiter:    limiter,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
	}
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleMeeting upgrades the request and subscribes the participant named by
// the peer query parameter to the meeting channel. The meeting must already
// be checked by the caller.
func (ctl *SignalWSController) HandleMeeting(ctx context.Context, c *gin.Context, meeting domain.MeetingID, user *domain.User) {
	pid := domain.ParticipantID(c.Query("peer"))
	if pid == "" || len(pid) > maxPeerIDLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid peer"})
		return
	}
	logger := log.With().Str("module", "signal").Str("peer", string(pid)).Str("meeting", string(meeting)).Logger()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsSignalConn{conn: ws, send: make(chan core.Frame, sendQueueSize)}
	sess := core.NewMemberSession(domain.NewMember(user, pid, meeting), conn)
	ctx, cancel := context.WithCancel(ctx)

	if err := ctl.Hub.Attach(pid, meeting, sess, cancel); err != nil {
		logger.Warn().Err(err).Msg("attach refused")
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteJSON(domain.RelayFrame{Op: domain.OpError, Error: err.Error()})
		cancel()
		conn.Close()
		return
	}
	logger.Info().Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, pid, meeting, sess, conn)
}
