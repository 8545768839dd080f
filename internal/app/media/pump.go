package media

import (
	"context"
	"errors"
	"io"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

// Source produces paced encoded samples of one kind.
type Source interface {
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecCapability
	// ReadSample blocks until the next sample is due.
	ReadSample(ctx context.Context) (pionmedia.Sample, error)
	Close() error
}

// Capturer opens the local sources. It fails as a unit.
type Capturer interface {
	Capture(ctx context.Context) ([]Source, error)
}

// pump reads samples from src and writes them into dst until ctx is done,
// the source drains or the track ends.
func pump(ctx context.Context, src Source, dst *Track, logger *zerolog.Logger) {
	written := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info().Int("samples", written).Msg("pump ctx done")
			return
		default:
		}
		sample, err := src.ReadSample(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Info().Int("samples", written).Msg("source drained")
			case ctx.Err() != nil:
				logger.Info().Int("samples", written).Msg("pump ctx done")
			default:
				logger.Error().Err(err).Msg("source read error, stopping")
			}
			return
		}
		if err := dst.WriteSample(sample); err != nil {
			if errors.Is(err, ErrTrackEnded) {
				logger.Info().Int("samples", written).Msg("track ended, stopping pump")
				return
			}
			logger.Warn().Err(err).Msg("write sample error")
			continue
		}
		written++
	}
}
