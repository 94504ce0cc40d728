package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"reverie/internal/lifecycle"
	"reverie/internal/services"
	"reverie/internal/store"
	"reverie/internal/testsupport"
)

func TestFinishDreamTranscribesAndSummarizes(t *testing.T) {
	h := newHarness(t, summaryResponder)
	dream := testsupport.NewDream(t, h.store, "u")
	testsupport.AddAudio(t, h.store, dream.ID, 0, "one.m4a")
	testsupport.AddAudio(t, h.store, dream.ID, 1, "two.m4a")
	h.backend.set("one.m4a", "I stood at the top", nil)
	h.backend.set("two.m4a", "then the stairs melted", nil)

	view, err := h.p.FinishDream(context.Background(), dream.ID)
	if err != nil {
		t.Fatalf("FinishDream failed: %v", err)
	}
	if view.Dream.State != store.DreamCompleted {
		t.Fatalf("expected completed dream, got %s", view.Dream.State)
	}
	if view.Dream.Transcript != "I stood at the top\n\nthen the stairs melted" {
		t.Fatalf("unexpected transcript %q", view.Dream.Transcript)
	}
	summary := view.Stage(store.StageSummary)
	if summary == nil || summary.Status != lifecycle.StatusCompleted {
		t.Fatalf("expected completed summary, got %#v", summary)
	}
	if calls := h.llm.Calls("dream summarizer"); calls != 1 {
		t.Fatalf("expected one summary generation, got %d", calls)
	}
}

func TestFinishDreamSkipsFailedSegment(t *testing.T) {
	h := newHarness(t, summaryResponder)
	dream := testsupport.NewDream(t, h.store, "u")
	testsupport.AddAudio(t, h.store, dream.ID, 0, "one.m4a")
	broken := testsupport.AddAudio(t, h.store, dream.ID, 1, "two.m4a")
	testsupport.AddAudio(t, h.store, dream.ID, 2, "three.m4a")
	h.backend.set("one.m4a", "one", nil)
	h.backend.set("three.m4a", "three", nil)
	mustFail(t, h.store, broken.ID)

	view, err := h.p.FinishDream(context.Background(), dream.ID)
	if err != nil {
		t.Fatalf("FinishDream failed: %v", err)
	}
	if view.Dream.Transcript != "one\n\nthree" {
		t.Fatalf("unexpected transcript %q", view.Dream.Transcript)
	}
	if summary := view.Stage(store.StageSummary); summary == nil || summary.Status != lifecycle.StatusCompleted {
		t.Fatalf("expected completed summary, got %#v", summary)
	}
	if h.backend.count("two.m4a") != 0 {
		t.Fatal("a failed segment should not be transcribed again by finish")
	}
}

func TestFinishDreamWithoutSegments(t *testing.T) {
	h := newHarness(t, summaryResponder)
	dream := testsupport.NewDream(t, h.store, "u")
	if _, err := h.p.FinishDream(context.Background(), dream.ID); !errors.Is(err, services.ErrNoTranscript) {
		t.Fatalf("expected ErrNoTranscript, got %v", err)
	}
}

func TestFinishDreamAllSegmentsFailed(t *testing.T) {
	h := newHarness(t, summaryResponder)
	dream := testsupport.NewDream(t, h.store, "u")
	seg := testsupport.AddAudio(t, h.store, dream.ID, 0, "broken.m4a")
	mustFail(t, h.store, seg.ID)

	if _, err := h.p.FinishDream(context.Background(), dream.ID); !errors.Is(err, services.ErrNoTranscript) {
		t.Fatalf("expected ErrNoTranscript, got %v", err)
	}
	if state := mustDream(t, h.store, dream.ID).State; state != store.DreamCompleted {
		t.Fatalf("finish should still close the dream, got %s", state)
	}
}

func TestFinishDreamTimesOut(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(system, user string) (string, error) {
		<-release
		return summaryResponder(system, user)
	}, testsupport.WithFinishTimeout(1))
	t.Cleanup(func() { close(release) })
	dream := testsupport.NewDream(t, h.store, "u")
	testsupport.AddText(t, h.store, dream.ID, 0, "endless hallway")

	start := time.Now()
	view, err := h.p.FinishDream(context.Background(), dream.ID)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("finish overran its timeout: %s", elapsed)
	}
	if view == nil || view.Stage(store.StageSummary).Status != lifecycle.StatusProcessing {
		t.Fatalf("expected summary still processing in the returned view, got %#v", view)
	}
}

func TestAwaitStageReturnsOnFailure(t *testing.T) {
	h := newHarness(t, summaryResponder, testsupport.WithAutoStages())
	dream := consolidatedDream(t, h, "a closed door")
	ctx := context.Background()
	if _, err := h.store.TransitionStage(ctx, dream.ID, store.StageAnalysis, lifecycle.EventStart, store.StageOutcome{}); err != nil {
		t.Fatalf("TransitionStage failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.p.AwaitStage(ctx, dream.ID, store.StageAnalysis, 3*time.Second)
		done <- err
	}()
	if _, err := h.store.TransitionStage(ctx, dream.ID, store.StageAnalysis, lifecycle.EventFail, store.StageOutcome{Reason: "boom"}); err != nil {
		t.Fatalf("TransitionStage failed: %v", err)
	}
	h.p.Hub().Publish(dream.ID)
	if err := <-done; err != nil {
		t.Fatalf("AwaitStage failed: %v", err)
	}
}
