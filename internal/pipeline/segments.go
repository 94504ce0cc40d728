package pipeline

import (
	"context"

	"reverie/internal/lifecycle"
	"reverie/internal/logging"
	"reverie/internal/store"
)

// AddSegment stores a segment and moves it along: audio segments are handed
// to the transcription pool, text segments settle the barrier right away.
func (p *Pipeline) AddSegment(ctx context.Context, in store.NewSegment) (*store.Segment, error) {
	if in.Modality == store.ModalityAudio && in.DurationSeconds <= 0 {
		in.DurationSeconds = p.measureDuration(ctx, in.ContentRef)
	}
	seg, err := p.store.AddSegment(ctx, in)
	if err != nil {
		return nil, err
	}
	p.hub.Publish(seg.DreamID)
	switch seg.Status {
	case lifecycle.StatusPending:
		p.kickPending([]*store.Segment{seg})
	case lifecycle.StatusCompleted:
		p.Settle(ctx, seg.DreamID)
	}
	return seg, nil
}

// DeleteSegment removes a segment that is not being transcribed and
// re-evaluates the barrier without it.
func (p *Pipeline) DeleteSegment(ctx context.Context, dreamID, segmentID string) (*store.Segment, error) {
	seg, err := p.store.DeleteSegment(ctx, dreamID, segmentID)
	if err != nil {
		return nil, err
	}
	p.Settle(ctx, dreamID)
	return seg, nil
}

// measureDuration measures an uploaded recording. A missing duration reader or an
// unreadable file leaves the duration at zero.
func (p *Pipeline) measureDuration(ctx context.Context, ref string) float64 {
	if p.durations == nil || ref == "" {
		return 0
	}
	seconds, err := p.durations(ctx, p.cfg.AudioPath(ref))
	if err != nil {
		p.logger.Debug("audio duration lookup failed",
			logging.String("content_ref", ref),
			logging.Error(err),
		)
		return 0
	}
	return seconds
}
