package media

import (
	"context"
	"sync"

	"github.com/dkeye/vocalize/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ReceiveStats counts what arrived on one remote track.
type ReceiveStats struct {
	mu      sync.Mutex
	packets uint64
	bytes   uint64
	lost    uint64
	lastSeq uint16
	started bool
}

type ReceiveSnapshot struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
	Lost    uint64 `json:"lost"`
}

func (s *ReceiveStats) observe(pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets++
	s.bytes += uint64(len(pkt.Payload))
	if s.started {
		// uint16 arithmetic handles sequence wrap.
		if gap := pkt.SequenceNumber - s.lastSeq; gap > 1 && gap < 1<<15 {
			s.lost += uint64(gap - 1)
		}
	}
	s.lastSeq = pkt.SequenceNumber
	s.started = true
}

func (s *ReceiveStats) Snapshot() ReceiveSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ReceiveSnapshot{Packets: s.packets, Bytes: s.bytes, Lost: s.lost}
}

// Drain consumes a remote track until it ends or ctx is done.
func Drain(ctx context.Context, remote domain.ParticipantID, track *webrtc.TrackRemote, stats *ReceiveStats) {
	logger := log.With().Str("module", "media.receiver").Str("remote", string(remote)).Str("kind", track.Kind().String()).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			snap := stats.Snapshot()
			logger.Info().Err(err).Uint64("packets", snap.Packets).Uint64("lost", snap.Lost).Msg("remote track ended")
			return
		}
		stats.observe(pkt)
	}
}
