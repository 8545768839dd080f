package core

import (
	"context"

	"github.com/dkeye/vocalize/internal/domain"
)

// RelayClient opens a subscription on one meeting channel.
// Delivery is at-most-once, FIFO per sender, and includes the publisher's
// own messages.
type RelayClient interface {
	Subscribe(ctx context.Context, meeting domain.MeetingID, self domain.ParticipantID) (RelaySubscription, error)
}

type RelaySubscription interface {
	// Presence yields full snapshots; intermediate ones may be skipped.
	Presence() <-chan domain.Presence
	Messages() <-chan domain.Envelope
	Publish(ctx context.Context, env domain.Envelope) error
	AnnouncePresence(ctx context.Context, joinedAt int64) error
	// Disconnected is closed once the subscription is lost without Unsubscribe.
	Disconnected() <-chan struct{}
	Unsubscribe()
}
