package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMeeting(t *testing.T) {
	m, err := NewMeeting("owner", "standup")
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, MeetingScheduled, m.Status)
	require.NotNil(t, m.Title)
	assert.Equal(t, "standup", *m.Title)
	assert.NoError(t, m.Joinable())

	untitled, err := NewMeeting("owner", "")
	require.NoError(t, err)
	assert.Nil(t, untitled.Title)
}

func TestNewMeetingTitleTooLong(t *testing.T) {
	_, err := NewMeeting("owner", strings.Repeat("x", MaxTitleLen+1))
	assert.ErrorIs(t, err, ErrTitleTooLong)
}

func TestMeetingEndedNotJoinable(t *testing.T) {
	m := &Meeting{Status: MeetingEnded}
	assert.ErrorIs(t, m.Joinable(), ErrMeetingEnded)
	assert.False(t, MeetingStatus("paused").Valid())
}

func TestUsernameValidation(t *testing.T) {
	u := UserFromToken("tok")
	assert.Equal(t, DefaultUsername, u.Username)
	assert.ErrorIs(t, u.SetUsername(""), ErrUsernameEmpty)
	assert.ErrorIs(t, u.SetUsername(strings.Repeat("a", MaxUsernameLen+1)), ErrUsernameTooLong)
	assert.Equal(t, DefaultUsername, u.Username)

	require.NoError(t, u.SetUsername("alice"))
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, UserID("tok"), u.ID)
}
