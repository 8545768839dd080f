package app

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/vocalize/internal/core"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []domain.RelayFrame
	full   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("queue full")
	}
	var rf domain.RelayFrame
	if err := json.Unmarshal(f, &rf); err != nil {
		return err
	}
	c.frames = append(c.frames, rf)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) last() domain.RelayFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[len(c.frames)-1]
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type attached struct {
	conn     *fakeConn
	sess     core.MemberSession
	canceled bool
}

func attach(t *testing.T, h *Hub, meeting domain.MeetingID, pid domain.ParticipantID) *attached {
	t.Helper()
	a := &attached{conn: &fakeConn{}}
	a.sess = core.NewMemberSession(domain.NewMember(&domain.User{Username: string(pid)}, pid, meeting), a.conn)
	require.NoError(t, h.Attach(pid, meeting, a.sess, func() { a.canceled = true }))
	return a
}

func TestAttachSendsPresenceSnapshot(t *testing.T) {
	h := NewHub(SimplePolicy{})
	a := attach(t, h, "m", "a")
	require.NoError(t, h.Track("a", 10))

	b := attach(t, h, "m", "b")
	require.Equal(t, 1, b.conn.count())
	first := b.conn.last()
	assert.Equal(t, domain.OpPresence, first.Op)
	assert.True(t, first.Presence.Has("a"))
	assert.False(t, first.Presence.Has("b"), "not present before track")

	require.NoError(t, h.Track("b", 20))
	for _, c := range []*fakeConn{a.conn, b.conn} {
		f := c.last()
		assert.Equal(t, domain.OpPresence, f.Op)
		host, ok := f.Presence.Host()
		require.True(t, ok)
		assert.Equal(t, domain.ParticipantID("a"), host)
	}
}

func TestPublishStampsSender(t *testing.T) {
	h := NewHub(SimplePolicy{})
	a := attach(t, h, "m", "a")
	b := attach(t, h, "m", "b")
	other := attach(t, h, "other", "c")

	env, err := domain.NewEnvelope(domain.EventJoinRequest, domain.AdmissionEvent{GuestID: "b"})
	require.NoError(t, err)
	env.From = "a" // spoof attempt
	require.NoError(t, h.Publish("b", env))

	for _, c := range []*fakeConn{a.conn, b.conn} {
		f := c.last()
		require.Equal(t, domain.OpMessage, f.Op)
		assert.Equal(t, domain.ParticipantID("b"), f.Message.From)
		assert.Equal(t, domain.EventJoinRequest, f.Message.Event)
	}
	assert.Equal(t, 1, other.conn.count(), "other meetings see nothing")

	assert.ErrorIs(t, h.Publish("ghost", env), domain.ErrNotJoined)
	assert.ErrorIs(t, h.Track("ghost", 1), domain.ErrNotJoined)
}

func TestParticipantIDSingleUse(t *testing.T) {
	h := NewHub(SimplePolicy{})
	attach(t, h, "m", "a")
	sess := core.NewMemberSession(domain.NewMember(nil, "a", "m"), &fakeConn{})
	assert.ErrorIs(t, h.Attach("a", "m", sess, func() {}), ErrParticipantTaken)
}

func TestDetachRebroadcastsPresence(t *testing.T) {
	h := NewHub(SimplePolicy{})
	a := attach(t, h, "m", "a")
	b := attach(t, h, "m", "b")
	require.NoError(t, h.Track("a", 1))
	require.NoError(t, h.Track("b", 2))

	h.Detach("a", a.sess)
	f := b.conn.last()
	assert.Equal(t, domain.OpPresence, f.Op)
	assert.False(t, f.Presence.Has("a"))
	host, _ := f.Presence.Host()
	assert.Equal(t, domain.ParticipantID("b"), host)

	// A stale session cannot detach the current holder of an id.
	h.Detach("b", a.sess)
	assert.True(t, h.Presence("m").Has("b"))

	h.Detach("b", b.sess)
	_, ok := h.Channels.Get("m")
	assert.False(t, ok, "empty channel is stopped")
	assert.Empty(t, h.Presence("m"))
}

func TestSlowMemberKicked(t *testing.T) {
	h := NewHub(SimplePolicy{})
	a := attach(t, h, "m", "a")
	slow := attach(t, h, "m", "slow")
	slow.conn.full = true

	env, err := domain.NewEnvelope(domain.EventSignal, map[string]string{})
	require.NoError(t, err)
	require.NoError(t, h.Publish("a", env))
	assert.True(t, slow.canceled)
	assert.False(t, a.canceled)
}

func TestEvictMeeting(t *testing.T) {
	h := NewHub(SimplePolicy{})
	a := attach(t, h, "m", "a")
	b := attach(t, h, "m", "b")
	c := attach(t, h, "n", "c")

	assert.Equal(t, 2, h.EvictMeeting("m"))
	assert.True(t, a.canceled)
	assert.True(t, b.canceled)
	assert.False(t, c.canceled)
}

func TestMembersSnapshot(t *testing.T) {
	h := NewHub(nil)
	attach(t, h, "m", "b")
	attach(t, h, "m", "a")
	require.NoError(t, h.Track("a", 5))

	members := h.Members("m")
	require.Len(t, members, 2)
	assert.Equal(t, domain.ParticipantID("a"), members[0].Participant)
	assert.Equal(t, int64(5), members[0].JoinedAt)
	assert.Equal(t, "b", members[1].Username)
	assert.Empty(t, h.Members("none"))
}
