package progress

import (
	"context"
	"sync"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// ChannelSink is an in-process Sink fanning out updates to per-job
// subscriber channels.
type ChannelSink struct {
	mu   sync.Mutex
	subs map[string][]chan domain.IngestionJobStatus
}

// NewChannelSink constructs an empty ChannelSink.
func NewChannelSink() *ChannelSink {
	return &ChannelSink{subs: make(map[string][]chan domain.IngestionJobStatus)}
}

// Subscribe returns a channel that receives every update emitted for
// jobID, plus an unsubscribe function the caller must call when done.
func (s *ChannelSink) Subscribe(jobID string) (<-chan domain.IngestionJobStatus, func()) {
	ch := make(chan domain.IngestionJobStatus, 16)

	s.mu.Lock()
	s.subs[jobID] = append(s.subs[jobID], ch)
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		chans := s.subs[jobID]
		for i, c := range chans {
			if c == ch {
				s.subs[jobID] = append(chans[:i], chans[i+1:]...)
				close(ch)
				break
			}
		}
		if len(s.subs[jobID]) == 0 {
			delete(s.subs, jobID)
		}
	}
	return ch, unsubscribe
}

// Publish delivers an update to every subscriber of its jobID. A slow
// subscriber whose buffer is full has the update dropped rather than
// blocking the broadcaster.
func (s *ChannelSink) Publish(ctx context.Context, update domain.IngestionJobStatus) error {
	s.mu.Lock()
	chans := append([]chan domain.IngestionJobStatus(nil), s.subs[update.JobID]...)
	s.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- update:
		default:
		}
	}
	return nil
}
