//go:build linux

// Package device captures the local camera and microphone.
package device

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/vocalize/internal/app/media"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// Capturer opens the default camera and microphone with VP8 and Opus
// encoders. Capture fails as a unit.
type Capturer struct {
	Width, Height int
	VideoBitRate  int
}

func NewCapturer() *Capturer {
	return &Capturer{Width: 640, Height: 480, VideoBitRate: 1_000_000}
}

func (c *Capturer) Capture(_ context.Context) ([]media.Source, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = c.VideoBitRate
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: selector,
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420}
			mc.Width = prop.IntRanged{Max: c.Width}
			mc.Height = prop.IntRanged{Max: c.Height}
		},
		Audio: func(*mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}

	var out []media.Source
	for _, track := range stream.GetTracks() {
		src, err := newSource(track)
		if err != nil {
			for _, t := range stream.GetTracks() {
				_ = t.Close()
			}
			return nil, err
		}
		out = append(out, src)
	}
	log.Info().Str("module", "device").Int("tracks", len(out)).Msg("devices captured")
	return out, nil
}

type source struct {
	track  mediadevices.Track
	reader mediadevices.EncodedReadCloser
	codec  webrtc.RTPCodecCapability
}

func newSource(track mediadevices.Track) (*source, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	r, err := track.NewEncodedReader(codec.MimeType)
	if err != nil {
		return nil, fmt.Errorf("%s encoder: %w", track.Kind(), err)
	}
	return &source{track: track, reader: r, codec: codec}, nil
}

func (s *source) Kind() webrtc.RTPCodecType         { return s.track.Kind() }
func (s *source) Codec() webrtc.RTPCodecCapability { return s.codec }

// ReadSample blocks on the encoder, which paces at the device frame rate.
func (s *source) ReadSample(ctx context.Context) (pionmedia.Sample, error) {
	if err := ctx.Err(); err != nil {
		return pionmedia.Sample{}, err
	}
	buf, release, err := s.reader.Read()
	if err != nil {
		return pionmedia.Sample{}, err
	}
	defer release()
	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)
	return pionmedia.Sample{
		Data:     data,
		Duration: time.Duration(buf.Samples) * time.Second / time.Duration(s.codec.ClockRate),
	}, nil
}

func (s *source) Close() error {
	_ = s.reader.Close()
	return s.track.Close()
}
