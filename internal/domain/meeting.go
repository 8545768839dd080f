package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxTitleLen = 120

var (
	ErrTitleTooLong    = errors.New("meeting title too long")
	ErrUnknownStatus   = errors.New("unknown meeting status")
	ErrMeetingNotFound = errors.New("meeting not found")
	ErrMeetingEnded    = errors.New("meeting ended")
	ErrEmptyMeetingID  = errors.New("meeting id empty")
	ErrNotMeetingOwner = errors.New("not the meeting owner")
)

type MeetingID string

type MeetingStatus string

const (
	MeetingScheduled MeetingStatus = "scheduled"
	MeetingLive      MeetingStatus = "live"
	MeetingEnded     MeetingStatus = "ended"
)

func (s MeetingStatus) Valid() bool {
	switch s {
	case MeetingScheduled, MeetingLive, MeetingEnded:
		return true
	}
	return false
}

// Meeting is the persistent record looked up before joining.
// Only Status changes after creation.
type Meeting struct {
	ID        MeetingID     `json:"id"`
	HostID    UserID        `json:"host_id"`
	Title     *string       `json:"title"`
	Status    MeetingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

func NewMeeting(owner UserID, title string) (*Meeting, error) {
	if len(title) > MaxTitleLen {
		return nil, ErrTitleTooLong
	}
	m := &Meeting{
		ID:        MeetingID(uuid.NewString()),
		HostID:    owner,
		Status:    MeetingScheduled,
		CreatedAt: time.Now().UTC(),
	}
	if title != "" {
		m.Title = &title
	}
	return m, nil
}

// Joinable reports whether participants may still enter the call.
func (m *Meeting) Joinable() error {
	if m.Status == MeetingEnded {
		return ErrMeetingEnded
	}
	return nil
}
