package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reverie/internal/lifecycle"
	"reverie/internal/logging"
	"reverie/internal/services"
	"reverie/internal/store"
)

// DreamView is a consistent snapshot of a dream, its segments and every
// stage.
type DreamView struct {
	Dream    *store.Dream
	Segments []*store.Segment
	Stages   []*store.StageState
}

// Stage returns the state of one stage from the view.
func (v *DreamView) Stage(stage store.Stage) *store.StageState {
	if v == nil {
		return nil
	}
	for _, st := range v.Stages {
		if st.Stage == stage {
			return st
		}
	}
	return nil
}

// GetDreamView loads the current view of a dream.
func (p *Pipeline) GetDreamView(ctx context.Context, dreamID string) (*DreamView, error) {
	dream, err := p.store.MustGetDream(ctx, dreamID)
	if err != nil {
		return nil, err
	}
	segments, err := p.store.ListSegments(ctx, dreamID)
	if err != nil {
		return nil, err
	}
	stages, err := p.store.ListStages(ctx, dreamID)
	if err != nil {
		return nil, err
	}
	return &DreamView{Dream: dream, Segments: segments, Stages: stages}, nil
}

// AwaitStage blocks until stage is completed or failed and returns the view
// at that moment. When timeout elapses first it returns the latest view
// together with an error matching services.ErrTimeout.
func (p *Pipeline) AwaitStage(ctx context.Context, dreamID string, stage store.Stage, timeout time.Duration) (*DreamView, error) {
	return p.await(ctx, dreamID, timeout, string(stage), func(view *DreamView) bool {
		st := view.Stage(stage)
		return st != nil && st.Status.IsTerminal()
	})
}

// AwaitConsolidation blocks until no segment of the dream is in flight.
func (p *Pipeline) AwaitConsolidation(ctx context.Context, dreamID string, timeout time.Duration) (*DreamView, error) {
	return p.await(ctx, dreamID, timeout, "consolidation", func(view *DreamView) bool {
		for _, seg := range view.Segments {
			if seg.Status.IsInFlight() {
				return false
			}
		}
		return true
	})
}

func (p *Pipeline) await(ctx context.Context, dreamID string, timeout time.Duration, what string, done func(*DreamView) bool) (*DreamView, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	for {
		view, finished, err := p.awaitChange(ctx, dreamID, timer, done)
		if finished || err != nil {
			if errors.Is(err, errAwaitTimeout) {
				err = services.Wrap(services.ErrTimeout, what, "await",
					fmt.Sprintf("dream %s not ready after %s", dreamID, timeout), nil)
			}
			return view, err
		}
	}
}

var errAwaitTimeout = errors.New("await timed out")

// awaitChange reads the view once and, unless done, blocks until the dream
// changes, ctx ends or timer fires.
func (p *Pipeline) awaitChange(ctx context.Context, dreamID string, timer <-chan time.Time, done func(*DreamView) bool) (*DreamView, bool, error) {
	// Subscribe before reading so a change between the read and the select
	// still wakes us.
	changed, leave := p.hub.Subscribe(dreamID)
	defer leave()
	view, err := p.GetDreamView(ctx, dreamID)
	if err != nil {
		return nil, true, err
	}
	if done(view) {
		return view, true, nil
	}
	select {
	case <-ctx.Done():
		return view, true, ctx.Err()
	case <-timer:
		return view, true, errAwaitTimeout
	case <-changed:
		return view, false, nil
	}
}

// FinishDream closes a recording session: it waits for transcription to
// settle, consolidates, marks the dream completed, triggers the summary and
// blocks until the summary is terminal or the finish timeout elapses. It
// fails with services.ErrNoTranscript when the dream has no segments or none
// produced text.
func (p *Pipeline) FinishDream(ctx context.Context, dreamID string) (*DreamView, error) {
	ctx = services.WithDreamID(ctx, dreamID)
	if _, err := p.store.MustGetDream(ctx, dreamID); err != nil {
		return nil, err
	}
	segments, err := p.store.ListSegments(ctx, dreamID)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, services.Wrap(services.ErrNoTranscript, "finish", "consolidate", "dream "+dreamID+" has no segments", nil)
	}

	deadline := time.Now().Add(p.cfg.FinishTimeout())
	p.kickPending(segments)
	if _, err := p.AwaitConsolidation(ctx, dreamID, remaining(deadline)); err != nil {
		return nil, err
	}
	result, err := p.Consolidate(ctx, dreamID)
	if err != nil {
		return nil, err
	}
	if err := p.store.SetDreamState(ctx, dreamID, store.DreamCompleted); err != nil {
		return nil, err
	}
	if result.Transcript == "" {
		return nil, services.Wrap(services.ErrNoTranscript, "finish", "consolidate",
			fmt.Sprintf("no transcript from %d segment(s), %d failed", len(segments), result.Failed), nil)
	}

	status, err := p.ensureSummary(ctx, dreamID)
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, p.logger).Debug("awaiting summary", logging.String("summary_status", string(status)))

	view, err := p.AwaitStage(ctx, dreamID, store.StageSummary, remaining(deadline))
	if err != nil {
		return view, err
	}
	if summary := view.Stage(store.StageSummary); summary != nil && summary.Status == lifecycle.StatusFailed {
		return view, services.Wrap(services.ErrGenerationFailed, string(store.StageSummary), "finish", summary.ErrorMessage, nil)
	}
	return view, nil
}

// kickPending starts transcription for pending segments when a slot is
// free. The workflow lane picks up the rest; the claim keeps the two from
// double-processing a segment.
func (p *Pipeline) kickPending(segments []*store.Segment) {
	if p.transcriber == nil {
		return
	}
	for _, seg := range segments {
		if seg.Status != lifecycle.StatusPending {
			continue
		}
		segmentID := seg.ID
		p.spawn(p.segmentSlots, func(ctx context.Context) {
			// Failures are recorded on the segment by the worker.
			_ = p.transcriber.Process(ctx, segmentID)
		})
	}
}

// remaining never returns zero, which await treats as no timeout.
func remaining(deadline time.Time) time.Duration {
	return max(time.Until(deadline), time.Millisecond)
}
