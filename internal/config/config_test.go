package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestICEServers(t *testing.T) {
	ice := ICE{STUNURL: "stun:example.org:3478", TURNURLs: []string{"turn:example.org:3478"}}
	assert.Len(t, ice.Servers(), 1)

	ice.TURNUsername, ice.TURNPassword = "u", "p"
	servers := ice.Servers()
	require.Len(t, servers, 2)
	assert.Equal(t, "u", servers[1].Username)
	assert.Empty(t, ICE{}.Servers())
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VOCALIZE_SECRET", "s3cret")
	t.Setenv("VOCALIZE_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "s3cret", cfg.Secret)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 5, cfg.JoinRequestLimit)
	assert.Equal(t, time.Minute, cfg.JoinRequestWindow)
	assert.Equal(t, "stun:stun.l.google.com:19302", cfg.ICE.STUNURL)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadPeerFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	fs := pflag.NewFlagSet("peer", pflag.ContinueOnError)
	PeerFlags(fs)
	require.NoError(t, fs.Parse([]string{"--meeting", "m-1", "--auto-approve", "--presence-timeout", "3s"}))

	cfg, err := LoadPeer(fs)
	require.NoError(t, err)
	assert.Equal(t, "m-1", cfg.Meeting)
	assert.True(t, cfg.AutoApprove)
	assert.True(t, cfg.Loop)
	assert.Equal(t, 3*time.Second, cfg.PresenceTimeout)
	assert.Equal(t, "http://localhost:8080", cfg.Server)

	bad := pflag.NewFlagSet("peer", pflag.ContinueOnError)
	PeerFlags(bad)
	require.NoError(t, bad.Parse([]string{"--device", "--video", "a.ivf"}))
	_, err = LoadPeer(bad)
	assert.Error(t, err)
}
