// Package http is the peer side of the meeting REST API.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/vocalize/internal/domain"
	"github.com/rs/zerolog/log"
)

// Client implements core.MeetingLookup against a running server. Share its
// cookie jar with the relay dialer so both carry the same client token.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, jar http.CookieJar) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTP:    &http.Client{Jar: jar, Timeout: 10 * time.Second},
	}
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var ae apiError
		_ = json.NewDecoder(resp.Body).Decode(&ae)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return domain.ErrMeetingNotFound
		case http.StatusGone:
			return domain.ErrMeetingEnded
		case http.StatusForbidden:
			return domain.ErrNotMeetingOwner
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, ae.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) Meeting(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	if id == "" {
		return nil, domain.ErrEmptyMeetingID
	}
	var m domain.Meeting
	if err := c.do(ctx, http.MethodGet, "/api/meeting/"+url.PathEscape(string(id)), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMeeting registers a meeting owned by this client's token.
func (c *Client) CreateMeeting(ctx context.Context, title string) (*domain.Meeting, error) {
	var m domain.Meeting
	if err := c.do(ctx, http.MethodPost, "/api/meeting/create", map[string]string{"title": title}, &m); err != nil {
		return nil, err
	}
	log.Info().Str("module", "transport.http").Str("meeting", string(m.ID)).Msg("meeting created")
	return &m, nil
}

func (c *Client) SetStatus(ctx context.Context, id domain.MeetingID, status domain.MeetingStatus) error {
	return c.do(ctx, http.MethodPost, "/api/meeting/"+url.PathEscape(string(id))+"/status", map[string]domain.MeetingStatus{"status": status}, nil)
}

func (c *Client) SetName(ctx context.Context, name string) (*domain.User, error) {
	var resp struct {
		User domain.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/user/name", map[string]string{"name": name}, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}
