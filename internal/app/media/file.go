package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const oggPageDuration = 20 * time.Millisecond

var ErrNoFiles = errors.New("no media files configured")

// FileCapturer plays an IVF video file and an Ogg/Opus audio file as if they
// were a camera and a microphone. Either path may be empty.
type FileCapturer struct {
	VideoPath string
	AudioPath string
	// Loop rewinds a file at EOF instead of ending the track.
	Loop bool
}

func (fc FileCapturer) Capture(_ context.Context) ([]Source, error) {
	if fc.VideoPath == "" && fc.AudioPath == "" {
		return nil, ErrNoFiles
	}
	var out []Source
	if fc.VideoPath != "" {
		src, err := openIVF(fc.VideoPath, fc.Loop)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if fc.AudioPath != "" {
		src, err := openOgg(fc.AudioPath, fc.Loop)
		if err != nil {
			closeSources(out)
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

type ivfSource struct {
	f        *os.File
	r        *ivfreader.IVFReader
	codec    webrtc.RTPCodecCapability
	frameDur time.Duration
	ticker   *time.Ticker
	loop     bool
}

func openIVF(path string, loop bool) (*ivfSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ivf: %w", err)
	}
	r, h, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("ivf header: %w", err)
	}
	var mime string
	switch h.FourCC {
	case "VP80":
		mime = webrtc.MimeTypeVP8
	case "VP90":
		mime = webrtc.MimeTypeVP9
	case "AV01":
		mime = webrtc.MimeTypeAV1
	default:
		_ = f.Close()
		return nil, fmt.Errorf("ivf codec %q not supported", h.FourCC)
	}
	frameDur := 33 * time.Millisecond
	if h.TimebaseDenominator != 0 {
		frameDur = time.Duration(h.TimebaseNumerator) * time.Second / time.Duration(h.TimebaseDenominator)
	}
	return &ivfSource{
		f:        f,
		r:        r,
		codec:    webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 90000},
		frameDur: frameDur,
		ticker:   time.NewTicker(frameDur),
		loop:     loop,
	}, nil
}

func (s *ivfSource) Kind() webrtc.RTPCodecType         { return webrtc.RTPCodecTypeVideo }
func (s *ivfSource) Codec() webrtc.RTPCodecCapability { return s.codec }

func (s *ivfSource) ReadSample(ctx context.Context) (pionmedia.Sample, error) {
	select {
	case <-ctx.Done():
		return pionmedia.Sample{}, ctx.Err()
	case <-s.ticker.C:
	}
	frame, _, err := s.r.ParseNextFrame()
	if errors.Is(err, io.EOF) && s.loop {
		if _, err := s.f.Seek(0, io.SeekStart); err != nil {
			return pionmedia.Sample{}, err
		}
		if s.r, _, err = ivfreader.NewWith(s.f); err != nil {
			return pionmedia.Sample{}, err
		}
		frame, _, err = s.r.ParseNextFrame()
	}
	if err != nil {
		return pionmedia.Sample{}, err
	}
	return pionmedia.Sample{Data: frame, Duration: s.frameDur}, nil
}

func (s *ivfSource) Close() error {
	s.ticker.Stop()
	return s.f.Close()
}

type oggSource struct {
	f           *os.File
	r           *oggreader.OggReader
	ticker      *time.Ticker
	lastGranule uint64
	loop        bool
}

func openOgg(path string, loop bool) (*oggSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ogg: %w", err)
	}
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("ogg header: %w", err)
	}
	return &oggSource{f: f, r: r, ticker: time.NewTicker(oggPageDuration), loop: loop}, nil
}

func (s *oggSource) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }

func (s *oggSource) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func (s *oggSource) ReadSample(ctx context.Context) (pionmedia.Sample, error) {
	select {
	case <-ctx.Done():
		return pionmedia.Sample{}, ctx.Err()
	case <-s.ticker.C:
	}
	page, header, err := s.r.ParseNextPage()
	if errors.Is(err, io.EOF) && s.loop {
		if _, err := s.f.Seek(0, io.SeekStart); err != nil {
			return pionmedia.Sample{}, err
		}
		if s.r, _, err = oggreader.NewWith(s.f); err != nil {
			return pionmedia.Sample{}, err
		}
		s.lastGranule = 0
		page, header, err = s.r.ParseNextPage()
	}
	if err != nil {
		return pionmedia.Sample{}, err
	}
	// Opus granule positions count 48kHz samples.
	samples := header.GranulePosition - s.lastGranule
	s.lastGranule = header.GranulePosition
	return pionmedia.Sample{Data: page, Duration: time.Duration(samples) * time.Second / 48000}, nil
}

func (s *oggSource) Close() error {
	s.ticker.Stop()
	return s.f.Close()
}
