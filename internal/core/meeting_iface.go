package core

import (
	"context"

	"github.com/dkeye/vocalize/internal/domain"
)

//go:generate mockgen -source=meeting_iface.go -destination=mocks/meeting_mock.go -package=mocks

// MeetingLookup resolves a meeting id before joining.
// Unknown ids return domain.ErrMeetingNotFound.
type MeetingLookup interface {
	Meeting(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error)
}

type MeetingStore interface {
	MeetingLookup
	Create(ctx context.Context, m *domain.Meeting) error
	UpdateStatus(ctx context.Context, id domain.MeetingID, status domain.MeetingStatus) error
}
