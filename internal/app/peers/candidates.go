package peers

import (
	"sync"

	"github.com/dkeye/vocalize/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// CandidateBuffer holds remote ICE candidates that arrived before the remote
// description of their session was applied.
type CandidateBuffer struct {
	mu      sync.Mutex
	pending map[domain.ParticipantID][]webrtc.ICECandidateInit
}

func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{pending: make(map[domain.ParticipantID][]webrtc.ICECandidateInit)}
}

func (b *CandidateBuffer) Enqueue(remote domain.ParticipantID, c webrtc.ICECandidateInit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[remote] = append(b.pending[remote], c)
}

// Flush applies the queued candidates in arrival order and clears the queue.
// A failing candidate is logged and skipped. Returns how many were applied.
func (b *CandidateBuffer) Flush(remote domain.ParticipantID, apply func(webrtc.ICECandidateInit) error) int {
	b.mu.Lock()
	queue := b.pending[remote]
	delete(b.pending, remote)
	b.mu.Unlock()

	applied := 0
	for _, c := range queue {
		if err := apply(c); err != nil {
			log.Warn().Err(err).Str("module", "peers.candidates").Str("remote", string(remote)).Msg("buffered candidate rejected")
			continue
		}
		applied++
	}
	if len(queue) > 0 {
		log.Debug().Str("module", "peers.candidates").Str("remote", string(remote)).Int("queued", len(queue)).Int("applied", applied).Msg("flushed")
	}
	return applied
}

func (b *CandidateBuffer) Len(remote domain.ParticipantID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[remote])
}

func (b *CandidateBuffer) Drop(remote domain.ParticipantID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, remote)
}
