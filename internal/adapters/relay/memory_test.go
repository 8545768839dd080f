package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/vocalize/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const meeting = domain.MeetingID("m-1")

func nextPresence(t *testing.T, ch <-chan domain.Presence, want int) domain.Presence {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case p := <-ch:
			if len(p) == want {
				return p
			}
		case <-deadline:
			t.Fatalf("no presence snapshot with %d participants", want)
			return nil
		}
	}
}

func nextMessage(t *testing.T, ch <-chan domain.Envelope) domain.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return domain.Envelope{}
	}
}

func TestMemoryHubPresence(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	a, err := hub.Subscribe(ctx, meeting, "a")
	require.NoError(t, err)
	b, err := hub.Subscribe(ctx, meeting, "b")
	require.NoError(t, err)

	require.NoError(t, a.AnnouncePresence(ctx, 10))
	require.NoError(t, b.AnnouncePresence(ctx, 20))

	p := nextPresence(t, b.Presence(), 2)
	host, _ := p.Host()
	assert.Equal(t, domain.ParticipantID("a"), host)

	a.Unsubscribe()
	p = nextPresence(t, b.Presence(), 1)
	assert.True(t, p.Has("b"))
	assert.Equal(t, domain.Presence{"b": {JoinedAt: 20}}, hub.Presence(meeting))
}

func TestMemoryHubStampsSenderAndKeepsOrder(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	a, _ := hub.Subscribe(ctx, meeting, "a")
	b, _ := hub.Subscribe(ctx, meeting, "b")

	for i := range 50 {
		env, err := domain.NewEnvelope(domain.EventSignal, i)
		require.NoError(t, err)
		env.From = "spoofed"
		require.NoError(t, a.Publish(ctx, env))
	}

	for i := range 50 {
		env := nextMessage(t, b.Messages())
		assert.Equal(t, domain.ParticipantID("a"), env.From)
		var n int
		require.NoError(t, json.Unmarshal(env.Payload, &n))
		assert.Equal(t, i, n)
	}
	// Publishers receive their own messages too.
	assert.Equal(t, domain.ParticipantID("a"), nextMessage(t, a.Messages()).From)
}

func TestMemoryHubDrop(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	a, _ := hub.Subscribe(ctx, meeting, "a")
	require.NoError(t, a.AnnouncePresence(ctx, 1))

	hub.Drop(meeting, "a")
	select {
	case <-a.Disconnected():
	case <-time.After(time.Second):
		t.Fatal("disconnect not signalled")
	}
	assert.ErrorIs(t, a.Publish(ctx, domain.Envelope{Event: domain.EventSignal}), domain.ErrRelayDisconnected)
	assert.Empty(t, hub.Presence(meeting))
}

func TestMemoryHubUnsubscribeIsNotDisconnect(t *testing.T) {
	hub := NewMemoryHub()
	a, _ := hub.Subscribe(context.Background(), meeting, "a")
	a.Unsubscribe()
	a.Unsubscribe()
	select {
	case <-a.Disconnected():
		t.Fatal("unsubscribe must not look like a lost connection")
	default:
	}
}
