package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/vocalize/internal/adapters/relay"
	"github.com/dkeye/vocalize/internal/app"
	"github.com/dkeye/vocalize/internal/config"
	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/dkeye/vocalize/internal/storage/sqlite"
	apiclient "github.com/dkeye/vocalize/internal/transport/http"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*httptest.Server, *app.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "meetings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hub := app.NewHub(app.SimplePolicy{})
	cfg := &config.Config{
		Mode:              "test",
		Secret:            "test-secret",
		StaticPath:        t.TempDir(),
		ReadLimit:         1 << 16,
		JoinRequestLimit:  2,
		JoinRequestWindow: time.Minute,
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(SetupRouter(ctx, cfg, hub, store))
	t.Cleanup(srv.Close)
	return srv, hub
}

type visitor struct {
	api   *apiclient.Client
	relay *relay.Client
}

func newVisitor(t *testing.T, srv *httptest.Server) visitor {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return visitor{api: apiclient.NewClient(srv.URL, jar), relay: relay.NewClient(srv.URL, jar)}
}

func subscribe(t *testing.T, v visitor, meeting domain.MeetingID, pid domain.ParticipantID) core.RelaySubscription {
	t.Helper()
	sub, err := v.relay.Subscribe(context.Background(), meeting, pid)
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)
	return sub
}

func awaitPresence(t *testing.T, sub core.RelaySubscription, cond func(domain.Presence) bool) domain.Presence {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-sub.Presence():
			if cond(p) {
				return p
			}
		case <-deadline:
			t.Fatal("presence condition not met")
			return nil
		}
	}
}

func nextMessage(t *testing.T, sub core.RelaySubscription) domain.Envelope {
	t.Helper()
	select {
	case env := <-sub.Messages():
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
		return domain.Envelope{}
	}
}

func envelope(t *testing.T, event string, payload any) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(event, payload)
	require.NoError(t, err)
	return env
}

func signalEnvelope(t *testing.T, meeting domain.MeetingID, from, to domain.ParticipantID, kind domain.SignalKind, payload any) domain.Envelope {
	t.Helper()
	msg, err := domain.NewSignal(meeting, from, to, kind, payload)
	require.NoError(t, err)
	return envelope(t, domain.EventSignal, msg)
}

func realOffer(t *testing.T) webrtc.SessionDescription {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close()
	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio)
	require.NoError(t, err)
	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	return offer
}

func TestMeetingLifecycle(t *testing.T) {
	srv, _ := newServer(t)
	owner, stranger := newVisitor(t, srv), newVisitor(t, srv)
	ctx := context.Background()

	m, err := owner.api.CreateMeeting(ctx, "standup")
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingScheduled, m.Status)

	got, err := stranger.api.Meeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.HostID, got.HostID)
	require.NotNil(t, got.Title)
	assert.Equal(t, "standup", *got.Title)

	_, err = owner.api.Meeting(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrMeetingNotFound)

	assert.ErrorIs(t, stranger.api.SetStatus(ctx, m.ID, domain.MeetingLive), domain.ErrNotMeetingOwner)
	require.NoError(t, owner.api.SetStatus(ctx, m.ID, domain.MeetingLive))
	got, err = owner.api.Meeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingLive, got.Status)

	resp, err := owner.api.HTTP.Get(srv.URL + "/api/meeting/exists?id=" + string(m.ID))
	require.NoError(t, err)
	defer resp.Body.Close()
	var exists struct {
		Exists bool                 `json:"exists"`
		Status domain.MeetingStatus `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&exists))
	assert.True(t, exists.Exists)
	assert.Equal(t, domain.MeetingLive, exists.Status)

	u, err := owner.api.SetName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, m.HostID, u.ID)
	_, err = owner.api.SetName(ctx, "")
	assert.Error(t, err)
}

func TestRelayRoundTrip(t *testing.T) {
	srv, _ := newServer(t)
	host, guest := newVisitor(t, srv), newVisitor(t, srv)
	ctx := context.Background()

	m, err := host.api.CreateMeeting(ctx, "")
	require.NoError(t, err)

	a := subscribe(t, host, m.ID, "a")
	require.NoError(t, a.AnnouncePresence(ctx, 10))
	awaitPresence(t, a, func(p domain.Presence) bool { return p.Has("a") })

	b := subscribe(t, guest, m.ID, "b")
	require.NoError(t, b.AnnouncePresence(ctx, 20))
	p := awaitPresence(t, b, func(p domain.Presence) bool { return p.Has("a") && p.Has("b") })
	hostID, _ := p.Host()
	assert.Equal(t, domain.ParticipantID("a"), hostID)
	awaitPresence(t, a, func(p domain.Presence) bool { return p.Has("b") })

	resp, err := host.api.HTTP.Get(srv.URL + "/api/meeting/" + string(m.ID) + "/presence")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Host    domain.ParticipantID `json:"host"`
		Members []core.MemberDTO     `json:"members"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, domain.ParticipantID("a"), body.Host)
	assert.Len(t, body.Members, 2)

	// A spoofed sender never reaches the channel.
	require.NoError(t, b.Publish(ctx, signalEnvelope(t, m.ID, "a", "a", domain.SignalOffer, realOffer(t))))
	// Neither does a description that does not parse.
	require.NoError(t, b.Publish(ctx, signalEnvelope(t, m.ID, "b", "a", domain.SignalOffer, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"})))

	offer := realOffer(t)
	require.NoError(t, b.Publish(ctx, signalEnvelope(t, m.ID, "b", "a", domain.SignalOffer, offer)))

	for _, sub := range []core.RelaySubscription{a, b} {
		env := nextMessage(t, sub)
		assert.Equal(t, domain.EventSignal, env.Event)
		assert.Equal(t, domain.ParticipantID("b"), env.From)
		var msg domain.SignalMessage
		require.NoError(t, json.Unmarshal(env.Payload, &msg))
		assert.True(t, msg.AcceptedBy("a"))
		assert.False(t, msg.AcceptedBy("b"))
		var sd webrtc.SessionDescription
		require.NoError(t, json.Unmarshal(msg.Payload, &sd))
		assert.Equal(t, offer.SDP, sd.SDP)
	}
}

func TestJoinRequestsRateLimited(t *testing.T) {
	srv, _ := newServer(t)
	host, guest := newVisitor(t, srv), newVisitor(t, srv)
	ctx := context.Background()

	m, err := host.api.CreateMeeting(ctx, "")
	require.NoError(t, err)
	a := subscribe(t, host, m.ID, "a")
	b := subscribe(t, guest, m.ID, "b")

	join := envelope(t, domain.EventJoinRequest, domain.AdmissionEvent{GuestID: "b"})
	for range 3 {
		require.NoError(t, b.Publish(ctx, join))
	}
	// Asking on someone else's behalf is refused outright.
	require.NoError(t, b.Publish(ctx, envelope(t, domain.EventJoinRequest, domain.AdmissionEvent{GuestID: "a"})))
	require.NoError(t, b.Publish(ctx, signalEnvelope(t, m.ID, "b", "a", domain.SignalCandidate,
		webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"})))

	assert.Equal(t, domain.EventJoinRequest, nextMessage(t, a).Event)
	assert.Equal(t, domain.EventJoinRequest, nextMessage(t, a).Event)
	assert.Equal(t, domain.EventSignal, nextMessage(t, a).Event)
}

func TestEndingMeetingDisconnects(t *testing.T) {
	srv, hub := newServer(t)
	owner := newVisitor(t, srv)
	ctx := context.Background()

	m, err := owner.api.CreateMeeting(ctx, "")
	require.NoError(t, err)
	a := subscribe(t, owner, m.ID, "a")
	require.NoError(t, a.AnnouncePresence(ctx, 1))
	awaitPresence(t, a, func(p domain.Presence) bool { return p.Has("a") })

	require.NoError(t, owner.api.SetStatus(ctx, m.ID, domain.MeetingEnded))
	select {
	case <-a.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not disconnected")
	}
	require.Eventually(t, func() bool { return len(hub.Presence(m.ID)) == 0 }, 2*time.Second, 10*time.Millisecond)

	_, err = owner.relay.Subscribe(ctx, m.ID, "late")
	assert.ErrorIs(t, err, domain.ErrRelayDisconnected)
}

func TestParticipantIDTaken(t *testing.T) {
	srv, _ := newServer(t)
	v := newVisitor(t, srv)
	ctx := context.Background()

	m, err := v.api.CreateMeeting(ctx, "")
	require.NoError(t, err)
	first := subscribe(t, v, m.ID, "dup")
	second := subscribe(t, v, m.ID, "dup")

	select {
	case <-second.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("duplicate participant kept")
	}
	require.NoError(t, first.AnnouncePresence(ctx, 1))
	awaitPresence(t, first, func(p domain.Presence) bool { return p.Has("dup") })
}

func TestUnknownMeetingRefused(t *testing.T) {
	srv, _ := newServer(t)
	v := newVisitor(t, srv)
	_, err := v.relay.Subscribe(context.Background(), "missing", "a")
	assert.ErrorIs(t, err, domain.ErrRelayDisconnected)

	resp, err := v.api.HTTP.Get(srv.URL + "/api/ws/meeting/missing?peer=a")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
