package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/vocalize/internal/adapters/rtc/rtctest"
	"github.com/dkeye/vocalize/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	kind   webrtc.RTPCodecType
	reads  atomic.Int32
	closed atomic.Bool
}

func (s *fakeSource) Kind() webrtc.RTPCodecType { return s.kind }

func (s *fakeSource) Codec() webrtc.RTPCodecCapability {
	if s.kind == webrtc.RTPCodecTypeAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func (s *fakeSource) ReadSample(ctx context.Context) (pionmedia.Sample, error) {
	select {
	case <-ctx.Done():
		return pionmedia.Sample{}, ctx.Err()
	case <-time.After(2 * time.Millisecond):
	}
	s.reads.Add(1)
	return pionmedia.Sample{Data: []byte{0x1}, Duration: 2 * time.Millisecond}, nil
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeCapturer struct {
	calls   atomic.Int32
	err     error
	sources []*fakeSource
}

func (f *fakeCapturer) Capture(context.Context) ([]Source, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Source, 0, len(f.sources))
	for _, s := range f.sources {
		out = append(out, s)
	}
	return out, nil
}

func newCapturer() *fakeCapturer {
	return &fakeCapturer{sources: []*fakeSource{
		{kind: webrtc.RTPCodecTypeAudio},
		{kind: webrtc.RTPCodecTypeVideo},
	}}
}

func TestAcquireIsIdempotent(t *testing.T) {
	capt := newCapturer()
	c := NewController(capt, "local")
	ctx := context.Background()

	h1, err := c.Acquire(ctx)
	require.NoError(t, err)
	h2, err := c.Acquire(ctx)
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, int32(1), capt.calls.Load())
	assert.Len(t, h1.Tracks(), 2)
	assert.Len(t, c.LocalTracks(), 2)

	assert.Eventually(t, func() bool { return capt.sources[0].reads.Load() > 2 }, time.Second, 5*time.Millisecond)
	c.Release()
}

func TestAcquireFailureIsMediaUnavailable(t *testing.T) {
	c := NewController(&fakeCapturer{err: errors.New("permission denied")}, "local")
	_, err := c.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrMediaUnavailable)
	assert.False(t, c.Acquired())

	empty := NewController(&fakeCapturer{}, "local")
	_, err = empty.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrMediaUnavailable)
}

func TestReleaseStopsEverything(t *testing.T) {
	capt := newCapturer()
	c := NewController(capt, "local")
	h, err := c.Acquire(context.Background())
	require.NoError(t, err)

	c.Release()
	assert.False(t, c.Acquired())
	for _, s := range capt.sources {
		assert.True(t, s.closed.Load())
	}
	for _, tr := range h.Tracks() {
		assert.Equal(t, TrackStateEnded, tr.State())
	}
	assert.Nil(t, c.LocalTracks())
	c.Release()

	// A fresh acquire after release captures again.
	_, err = c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), capt.calls.Load())
	c.Release()
}

func TestSetTrackEnabled(t *testing.T) {
	c := NewController(&fakeCapturer{sources: []*fakeSource{{kind: webrtc.RTPCodecTypeAudio}}}, "local")
	assert.ErrorIs(t, c.SetTrackEnabled(webrtc.RTPCodecTypeAudio, false), ErrNotAcquired)

	h, err := c.Acquire(context.Background())
	require.NoError(t, err)
	defer c.Release()

	require.NoError(t, c.SetTrackEnabled(webrtc.RTPCodecTypeAudio, false))
	audio, _ := h.Track(webrtc.RTPCodecTypeAudio)
	assert.False(t, audio.Enabled())
	require.NoError(t, c.SetTrackEnabled(webrtc.RTPCodecTypeAudio, true))
	assert.True(t, audio.Enabled())

	assert.ErrorIs(t, c.SetTrackEnabled(webrtc.RTPCodecTypeVideo, false), ErrNoTrack)
}

func TestReplaceVideoTrackAppliesToEverySender(t *testing.T) {
	c := NewController(newCapturer(), "local")
	h, err := c.Acquire(context.Background())
	require.NoError(t, err)
	defer c.Release()
	camera, _ := h.Track(webrtc.RTPCodecTypeVideo)

	senders := map[domain.ParticipantID]*rtctest.Sender{}
	for _, r := range []domain.ParticipantID{"a", "b", "c"} {
		s := &rtctest.Sender{}
		require.NoError(t, s.ReplaceTrack(camera))
		senders[r] = s
		c.AttachSender(r, webrtc.RTPCodecTypeVideo, s)
		c.AttachSender(r, webrtc.RTPCodecTypeAudio, &rtctest.Sender{})
	}
	c.DetachSenders("c")
	assert.Equal(t, 2, c.SenderCount(webrtc.RTPCodecTypeVideo))

	screen, err := NewTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "local")
	require.NoError(t, err)
	require.NoError(t, c.ReplaceVideoTrack(screen))

	assert.Same(t, screen, senders["a"].Track())
	assert.Same(t, screen, senders["b"].Track())
	assert.Same(t, camera, senders["c"].Track())
	assert.True(t, c.Sharing())
	assert.Contains(t, c.LocalTracks(), webrtc.TrackLocal(screen))

	require.NoError(t, c.StopScreenShare())
	assert.Same(t, camera, senders["a"].Track())
	assert.False(t, c.Sharing())
}

func TestTrackGating(t *testing.T) {
	tr, err := NewTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "s")
	require.NoError(t, err)
	sample := pionmedia.Sample{Data: []byte{1}, Duration: time.Millisecond}

	assert.Equal(t, TrackStateLive, tr.State())
	tr.SetEnabled(false)
	assert.Equal(t, TrackStateMuted, tr.State())
	assert.NoError(t, tr.WriteSample(sample))

	tr.End()
	tr.SetEnabled(true)
	assert.Equal(t, TrackStateEnded, tr.State())
	assert.ErrorIs(t, tr.WriteSample(sample), ErrTrackEnded)
}

func TestReceiveStatsCountsGaps(t *testing.T) {
	var s ReceiveStats
	for _, seq := range []uint16{65534, 65535, 0, 3, 4} {
		s.observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: seq}, Payload: []byte{1, 2}})
	}
	snap := s.Snapshot()
	assert.Equal(t, uint64(5), snap.Packets)
	assert.Equal(t, uint64(10), snap.Bytes)
	assert.Equal(t, uint64(2), snap.Lost)
}

func writeIVF(t *testing.T, frames ...[]byte) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("DKIF")
	_ = binary.Write(&buf, binary.LittleEndian, uint16(0))  // version
	_ = binary.Write(&buf, binary.LittleEndian, uint16(32)) // header size
	buf.WriteString("VP80")
	_ = binary.Write(&buf, binary.LittleEndian, uint16(640))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(480))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(100)) // timebase denominator
	_ = binary.Write(&buf, binary.LittleEndian, uint32(1))   // timebase numerator
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(frames)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))
	for i, f := range frames {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(f)))
		_ = binary.Write(&buf, binary.LittleEndian, uint64(i))
		buf.Write(f)
	}
	path := filepath.Join(t.TempDir(), "video.ivf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestFileCapturerIVF(t *testing.T) {
	path := writeIVF(t, []byte{0xaa, 0xbb}, []byte{0xcc})
	sources, err := FileCapturer{VideoPath: path}.Capture(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	src := sources[0]
	defer src.Close()

	assert.Equal(t, webrtc.RTPCodecTypeVideo, src.Kind())
	assert.Equal(t, webrtc.MimeTypeVP8, src.Codec().MimeType)

	ctx := context.Background()
	s1, err := src.ReadSample(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb}, s1.Data)
	assert.Equal(t, 10*time.Millisecond, s1.Duration)
	s2, err := src.ReadSample(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xcc}, s2.Data)
	_, err = src.ReadSample(ctx)
	assert.Error(t, err)
}

func TestFileCapturerErrors(t *testing.T) {
	_, err := FileCapturer{}.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoFiles)

	_, err = FileCapturer{AudioPath: filepath.Join(t.TempDir(), "missing.ogg")}.Capture(context.Background())
	assert.Error(t, err)
}
