// Package relay connects a participant to a meeting channel on the relay.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const (
	writeWait       = 5 * time.Second
	sendQueueSize   = 32
	messageQueue    = 64
	defaultPingTick = 20 * time.Second
)

// Client dials the relay WebSocket endpoint of the server.
type Client struct {
	// BaseURL is the server root, http(s):// or ws(s)://.
	BaseURL    string
	Dialer     *websocket.Dialer
	Header     http.Header
	PingPeriod time.Duration
}

func NewClient(baseURL string, jar http.CookieJar) *Client {
	d := *websocket.DefaultDialer
	d.Jar = jar
	return &Client{BaseURL: baseURL, Dialer: &d, PingPeriod: defaultPingTick}
}

func (c *Client) endpoint(meeting domain.MeetingID, self domain.ParticipantID) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws/meeting/" + url.PathEscape(string(meeting))
	u.RawQuery = url.Values{"peer": {string(self)}}.Encode()
	return u.String(), nil
}

func (c *Client) Subscribe(ctx context.Context, meeting domain.MeetingID, self domain.ParticipantID) (core.RelaySubscription, error) {
	target, err := c.endpoint(meeting, self)
	if err != nil {
		return nil, err
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, target, c.Header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrRelayDisconnected, target, err)
	}

	ping := c.PingPeriod
	if ping <= 0 {
		ping = defaultPingTick
	}
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &wsSubscription{
		conn:         ws,
		send:         make(chan []byte, sendQueueSize),
		presence:     make(chan domain.Presence, 1),
		messages:     make(chan domain.Envelope, messageQueue),
		disconnected: make(chan struct{}),
		cancel:       cancel,
		ping:         ping,
		logger: log.With().Str("module", "adapters.relay").
			Str("meeting", string(meeting)).Str("peer", string(self)).Logger(),
	}
	go sub.writePump(subCtx)
	go sub.readPump(subCtx)
	sub.logger.Info().Msg("relay subscribed")
	return sub, nil
}

type wsSubscription struct {
	conn     *websocket.Conn
	send     chan []byte
	presence chan domain.Presence
	messages chan domain.Envelope
	ping     time.Duration
	logger   zerolog.Logger

	disconnected chan struct{}
	cancel       context.CancelFunc

	mu           sync.RWMutex
	closed       bool
	unsubscribed bool
}

func (s *wsSubscription) Presence() <-chan domain.Presence { return s.presence }
func (s *wsSubscription) Messages() <-chan domain.Envelope { return s.messages }
func (s *wsSubscription) Disconnected() <-chan struct{}    { return s.disconnected }

func (s *wsSubscription) Publish(ctx context.Context, env domain.Envelope) error {
	return s.sendFrame(ctx, domain.RelayFrame{Op: domain.OpPublish, Message: &env})
}

func (s *wsSubscription) AnnouncePresence(ctx context.Context, joinedAt int64) error {
	return s.sendFrame(ctx, domain.RelayFrame{Op: domain.OpTrack, JoinedAt: joinedAt})
}

func (s *wsSubscription) Unsubscribe() {
	s.mu.Lock()
	s.unsubscribed = true
	s.mu.Unlock()
	s.shutdown()
	s.logger.Info().Msg("relay unsubscribed")
}

func (s *wsSubscription) sendFrame(ctx context.Context, f domain.RelayFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", f.Op, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.ErrRelayDisconnected
	}
	select {
	case s.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

// shutdown closes the socket once. Disconnected fires only when the loss
// was not requested through Unsubscribe.
func (s *wsSubscription) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	lost := !s.unsubscribed
	close(s.send)
	s.mu.Unlock()

	s.cancel()
	_ = s.conn.Close()
	if lost {
		close(s.disconnected)
		s.logger.Warn().Msg("relay connection lost")
	}
}

func (s *wsSubscription) writePump(ctx context.Context) {
	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()
	pingFrame, _ := json.Marshal(domain.RelayFrame{Op: domain.OpPing})
	for {
		var data []byte
		select {
		case <-ctx.Done():
			return
		case d, ok := <-s.send:
			if !ok {
				return
			}
			data = d
		case <-ticker.C:
			data = pingFrame
		}
		if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			s.logger.Error().Err(err).Msg("writePump set deadline")
			s.shutdown()
			return
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Error().Err(err).Msg("writePump write error")
			s.shutdown()
			return
		}
	}
}

func (s *wsSubscription) readPump(ctx context.Context) {
	defer s.shutdown()
	for {
		// Pongs answer our pings, so two missed periods mean the relay is gone.
		_ = s.conn.SetReadDeadline(time.Now().Add(2*s.ping + writeWait))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("readPump read error")
			}
			return
		}
		var f domain.RelayFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn().Err(err).Msg("bad relay frame")
			continue
		}
		switch f.Op {
		case domain.OpPresence:
			offerLatest(s.presence, f.Presence)
		case domain.OpMessage:
			if f.Message == nil {
				continue
			}
			select {
			case s.messages <- *f.Message:
			case <-ctx.Done():
				return
			}
		case domain.OpPong:
		case domain.OpWhoAmI:
			s.logger.Debug().Str("relay_peer", f.Peer).Msg("whoami")
		case domain.OpError:
			s.logger.Warn().Str("error", f.Error).Msg("relay rejected frame")
		default:
			s.logger.Warn().Str("op", f.Op).Msg("unknown relay op")
		}
	}
}

// offerLatest replaces whatever snapshot is still unread. Callers must be
// the only writer of ch.
func offerLatest(ch chan domain.Presence, p domain.Presence) {
	for {
		select {
		case ch <- p:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
