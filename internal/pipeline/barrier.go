package pipeline

import (
	"context"
	"strings"

	"reverie/internal/lifecycle"
	"reverie/internal/logging"
	"reverie/internal/services"
	"reverie/internal/store"
)

// Consolidation describes one barrier evaluation.
type Consolidation struct {
	// Ready is false while any segment is pending or processing.
	Ready      bool
	Transcript string
	Completed  int
	Failed     int
	InFlight   int
	// Changed reports whether the stored transcript was rewritten.
	Changed bool
	// Triggered lists the automatic stages enqueued by this evaluation.
	Triggered []store.Stage
}

// Settle is the transcriber's settled hook: it evaluates the barrier and logs
// instead of returning errors.
func (p *Pipeline) Settle(ctx context.Context, dreamID string) {
	if _, err := p.Consolidate(ctx, dreamID); err != nil {
		logging.WarnWithContext(
			logging.WithContext(services.WithDreamID(ctx, dreamID), p.logger),
			"consolidation failed",
			"consolidation_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "transcript stays stale until the next segment transition or recovery"),
		)
	}
}

// Consolidate evaluates the barrier for a dream. Once no segment is in
// flight it joins completed, non-blank transcripts in segment order, stores
// the result when it changed, and enqueues automatic stages that were never
// started. Repeated evaluations produce the same transcript and enqueue
// nothing new.
func (p *Pipeline) Consolidate(ctx context.Context, dreamID string) (Consolidation, error) {
	if _, err := p.store.MustGetDream(ctx, dreamID); err != nil {
		return Consolidation{}, err
	}
	segments, err := p.store.ListSegments(ctx, dreamID)
	if err != nil {
		return Consolidation{}, err
	}

	var result Consolidation
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg.Status {
		case lifecycle.StatusPending, lifecycle.StatusProcessing:
			result.InFlight++
		case lifecycle.StatusFailed:
			result.Failed++
		case lifecycle.StatusCompleted:
			result.Completed++
			if text := strings.TrimSpace(seg.Transcript); text != "" {
				parts = append(parts, text)
			}
		}
	}
	if result.InFlight > 0 {
		return result, nil
	}

	result.Ready = true
	result.Transcript = strings.Join(parts, p.delimiter())
	changed, err := p.store.SetTranscript(ctx, dreamID, result.Transcript)
	if err != nil {
		return result, err
	}
	result.Changed = changed

	if result.Transcript != "" {
		triggered, err := p.triggerAutoStages(ctx, dreamID)
		if err != nil {
			return result, err
		}
		result.Triggered = triggered
	}

	logger := logging.WithContext(services.WithDreamID(ctx, dreamID), p.logger)
	if changed {
		logger.Info(
			"transcript consolidated",
			logging.String(logging.FieldEventType, "transcript_consolidated"),
			logging.Int("completed_segments", result.Completed),
			logging.Int("failed_segments", result.Failed),
			logging.Int("transcript_chars", len(result.Transcript)),
		)
	}
	p.hub.Publish(dreamID)
	return result, nil
}

func (p *Pipeline) delimiter() string {
	if p.cfg.Pipeline.TranscriptDelimiter != "" {
		return p.cfg.Pipeline.TranscriptDelimiter
	}
	return "\n\n"
}

func (p *Pipeline) triggerAutoStages(ctx context.Context, dreamID string) ([]store.Stage, error) {
	var triggered []store.Stage
	for _, name := range p.cfg.Pipeline.AutoStages {
		stage, ok := store.ParseStage(name)
		if !ok {
			continue
		}
		state, err := p.store.GetStage(ctx, dreamID, stage)
		if err != nil {
			return triggered, err
		}
		if state == nil || state.Status != lifecycle.StatusAbsent {
			continue
		}
		submitted, err := p.Submit(ctx, dreamID, stage)
		if err != nil {
			return triggered, err
		}
		if submitted {
			triggered = append(triggered, stage)
		}
	}
	return triggered, nil
}
