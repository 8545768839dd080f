package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/vocalize/internal/app"
	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const sessionUsername = "username"

type meetingHandlers struct {
	store core.MeetingStore
	hub   *app.Hub
}

// user resolves the caller from the client token, restoring a display name
// kept in the cookie session across server restarts.
func (h *meetingHandlers) user(c *gin.Context) *domain.User {
	token := c.GetString(clientTokenKey)
	u := h.hub.Registry.GetOrCreateUser(token)
	if name, ok := sessions.Default(c).Get(sessionUsername).(string); ok && name != u.Username {
		_ = h.hub.Registry.UpdateUsername(token, name)
	}
	return u
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrMeetingNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrMeetingEnded):
		status = http.StatusGone
	case errors.Is(err, domain.ErrNotMeetingOwner):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrTitleTooLong),
		errors.Is(err, domain.ErrUnknownStatus),
		errors.Is(err, domain.ErrUsernameEmpty),
		errors.Is(err, domain.ErrUsernameTooLong):
		status = http.StatusBadRequest
	default:
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *meetingHandlers) whoami(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": h.user(c)})
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *meetingHandlers) rename(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	if err := h.hub.Registry.UpdateUsername(c.GetString(clientTokenKey), req.Name); err != nil {
		writeError(c, err)
		return
	}
	sess := sessions.Default(c)
	sess.Set(sessionUsername, req.Name)
	if err := sess.Save(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": h.user(c)})
}

func (h *meetingHandlers) channels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": h.hub.Channels.List()})
}

type createRequest struct {
	Title string `json:"title"`
}

func (h *meetingHandlers) create(c *gin.Context) {
	var req createRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
	}
	m, err := domain.NewMeeting(h.user(c).ID, req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.store.Create(c.Request.Context(), m); err != nil {
		writeError(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("meeting", string(m.ID)).Str("host", string(m.HostID)).Msg("meeting created")
	c.JSON(http.StatusCreated, m)
}

func (h *meetingHandlers) exists(c *gin.Context) {
	id := domain.MeetingID(c.Query("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrEmptyMeetingID.Error()})
		return
	}
	m, err := h.store.Meeting(c.Request.Context(), id)
	if errors.Is(err, domain.ErrMeetingNotFound) {
		c.JSON(http.StatusOK, gin.H{"exists": false})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": true, "status": m.Status})
}

func (h *meetingHandlers) get(c *gin.Context) {
	m, err := h.store.Meeting(c.Request.Context(), domain.MeetingID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type statusRequest struct {
	Status domain.MeetingStatus `json:"status"`
}

// setStatus lets the meeting owner go live or end the meeting. Ending it
// disconnects every subscriber.
func (h *meetingHandlers) setStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	ctx := c.Request.Context()
	id := domain.MeetingID(c.Param("id"))
	m, err := h.store.Meeting(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if m.HostID != h.user(c).ID {
		writeError(c, domain.ErrNotMeetingOwner)
		return
	}
	if err := h.store.UpdateStatus(ctx, id, req.Status); err != nil {
		writeError(c, err)
		return
	}
	m.Status = req.Status
	if req.Status == domain.MeetingEnded {
		h.hub.EvictMeeting(id)
	}
	c.JSON(http.StatusOK, m)
}

func (h *meetingHandlers) presence(c *gin.Context) {
	id := domain.MeetingID(c.Param("id"))
	p := h.hub.Presence(id)
	resp := gin.H{"presence": p, "members": h.hub.Members(id)}
	if host, ok := p.Host(); ok {
		resp["host"] = host
	}
	c.JSON(http.StatusOK, resp)
}

// joinable aborts the request unless the meeting exists and has not ended.
func (h *meetingHandlers) joinable(c *gin.Context) (*domain.Meeting, bool) {
	m, err := h.store.Meeting(c.Request.Context(), domain.MeetingID(c.Param("id")))
	if err == nil {
		err = m.Joinable()
	}
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return m, true
}
