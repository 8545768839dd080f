package core

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/vocalize/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	mu     sync.Mutex
	frames []Frame
	full   bool
}

func (c *recordingConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("full")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *recordingConn) Close() {}

func addMember(ch ChannelService, pid domain.ParticipantID) *recordingConn {
	conn := &recordingConn{}
	ch.AddMember(pid, NewMemberSession(domain.NewMember(&domain.User{Username: string(pid)}, pid, ch.Meeting()), conn))
	return conn
}

func TestChannelPresenceOnlyTracked(t *testing.T) {
	ch := NewChannelService("m1")
	addMember(ch, "a")
	addMember(ch, "b")

	assert.Empty(t, ch.Presence())
	require.True(t, ch.Track("a", 10))
	assert.False(t, ch.Track("zz", 10))

	assert.Equal(t, domain.Presence{"a": {JoinedAt: 10}}, ch.Presence())
	assert.Equal(t, 2, ch.MemberCount())
}

func TestChannelBroadcastIncludesSender(t *testing.T) {
	ch := NewChannelService("m1")
	a := addMember(ch, "a")
	b := addMember(ch, "b")

	res := ch.Broadcast(Frame("hello"))
	assert.Equal(t, 2, res.SendTo)
	assert.Empty(t, res.Dropped)
	assert.Len(t, a.frames, 1)
	assert.Len(t, b.frames, 1)
}

func TestChannelBroadcastReportsDropped(t *testing.T) {
	ch := NewChannelService("m1")
	addMember(ch, "a")
	slow := addMember(ch, "b")
	slow.full = true

	res := ch.Broadcast(Frame("x"))
	assert.Equal(t, 1, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, domain.ParticipantID("b"), res.Dropped[0].Meta().Participant)
}

func TestChannelRemoveMember(t *testing.T) {
	ch := NewChannelService("m1")
	addMember(ch, "a")
	ch.Track("a", 1)

	assert.True(t, ch.RemoveMember("a"))
	assert.False(t, ch.RemoveMember("a"))
	assert.Empty(t, ch.Presence())
	assert.Empty(t, ch.MembersSnapshot())
}
