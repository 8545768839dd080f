package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/vocalize/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoRelay answers each frame the way the server does for a lone member.
func echoRelay(t *testing.T, dropAfterPublish bool) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ws/meeting/m-1", r.URL.Path)
		peer := domain.ParticipantID(r.URL.Query().Get("peer"))
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var in domain.RelayFrame
			if err := ws.ReadJSON(&in); err != nil {
				return
			}
			var out domain.RelayFrame
			switch in.Op {
			case domain.OpTrack:
				out = domain.RelayFrame{Op: domain.OpPresence, Presence: domain.Presence{peer: {JoinedAt: in.JoinedAt}}}
			case domain.OpPublish:
				in.Message.From = peer
				out = domain.RelayFrame{Op: domain.OpMessage, Message: in.Message}
			case domain.OpPing:
				out = domain.RelayFrame{Op: domain.OpPong}
			}
			if err := ws.WriteJSON(out); err != nil {
				return
			}
			if in.Op == domain.OpPublish && dropAfterPublish {
				return
			}
		}
	}))
}

func TestClientRoundTrip(t *testing.T) {
	srv := echoRelay(t, false)
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	sub, err := c.Subscribe(context.Background(), meeting, "p-1")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ctx := context.Background()
	require.NoError(t, sub.AnnouncePresence(ctx, 42))
	p := nextPresence(t, sub.Presence(), 1)
	assert.Equal(t, int64(42), p["p-1"].JoinedAt)

	env, err := domain.NewEnvelope(domain.EventJoinRequest, domain.AdmissionEvent{GuestID: "p-1"})
	require.NoError(t, err)
	require.NoError(t, sub.Publish(ctx, env))

	got := nextMessage(t, sub.Messages())
	assert.Equal(t, domain.EventJoinRequest, got.Event)
	assert.Equal(t, domain.ParticipantID("p-1"), got.From)
	var ev domain.AdmissionEvent
	require.NoError(t, json.Unmarshal(got.Payload, &ev))
	assert.Equal(t, domain.ParticipantID("p-1"), ev.GuestID)
}

func TestClientSignalsLostConnection(t *testing.T) {
	srv := echoRelay(t, true)
	defer srv.Close()

	sub, err := NewClient(srv.URL, nil).Subscribe(context.Background(), meeting, "p-1")
	require.NoError(t, err)

	require.NoError(t, sub.Publish(context.Background(), domain.Envelope{Event: domain.EventSignal, Payload: json.RawMessage(`{}`)}))
	select {
	case <-sub.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("lost connection not signalled")
	}
	assert.ErrorIs(t, sub.Publish(context.Background(), domain.Envelope{Event: domain.EventSignal}), domain.ErrRelayDisconnected)
}

func TestClientUnsubscribeIsQuiet(t *testing.T) {
	srv := echoRelay(t, false)
	defer srv.Close()

	sub, err := NewClient(srv.URL, nil).Subscribe(context.Background(), meeting, "p-1")
	require.NoError(t, err)
	sub.Unsubscribe()

	select {
	case <-sub.Disconnected():
		t.Fatal("unsubscribe reported as disconnect")
	case <-time.After(50 * time.Millisecond):
	}
	assert.ErrorIs(t, sub.AnnouncePresence(context.Background(), 1), domain.ErrRelayDisconnected)
}

func TestClientDialFailure(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", nil).Subscribe(context.Background(), meeting, "p-1")
	assert.ErrorIs(t, err, domain.ErrRelayDisconnected)
}
