package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"reverie/internal/lifecycle"
	"reverie/internal/pipeline"
	"reverie/internal/store"
	"reverie/internal/testsupport"
)

func TestRecoverConsolidatesPartialFailure(t *testing.T) {
	h := newHarness(t, summaryResponder, testsupport.WithAutoStages())
	ctx := context.Background()
	dream := testsupport.NewDream(t, h.store, "u")
	for i, ref := range []string{"a.m4a", "b.m4a"} {
		seg := testsupport.AddAudio(t, h.store, dream.ID, i, ref)
		mustFail(t, h.store, seg.ID)
	}
	testsupport.AddText(t, h.store, dream.ID, 2, "the part I typed")

	report, err := h.p.Recover(ctx, dream.ID)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if !report.Success || report.Method != pipeline.RecoveryConsolidated {
		t.Fatalf("unexpected report %#v", report)
	}
	if got := mustDream(t, h.store, dream.ID).Transcript; got != "the part I typed" {
		t.Fatalf("unexpected transcript %q", got)
	}
	h.p.Wait()
	if state := mustStage(t, h.store, dream.ID, store.StageSummary); state.Status != lifecycle.StatusCompleted {
		t.Fatalf("expected recovered summary, got %s", state.Status)
	}

	again, err := h.p.Recover(ctx, dream.ID)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	h.p.Wait()
	if !again.Success || h.llm.Calls("dream summarizer") != 1 {
		t.Fatalf("second recovery should not regenerate, report=%#v calls=%d", again, h.llm.Calls("dream summarizer"))
	}
}

func TestRecoverRetranscribesFailedSegments(t *testing.T) {
	h := newHarness(t, summaryResponder, testsupport.WithAutoStages())
	dream := testsupport.NewDream(t, h.store, "u")
	seg := testsupport.AddAudio(t, h.store, dream.ID, 0, "retry.m4a")
	h.backend.set("retry.m4a", "", errors.New("network blip"))
	if err := h.worker.Process(context.Background(), seg.ID); err == nil {
		t.Fatal("expected first transcription to fail")
	}
	h.backend.set("retry.m4a", "recovered words", nil)

	report, err := h.p.Recover(context.Background(), dream.ID)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if !report.Success || report.Method != pipeline.RecoveryRetranscribed {
		t.Fatalf("unexpected report %#v", report)
	}
	if got := mustDream(t, h.store, dream.ID).Transcript; got != "recovered words" {
		t.Fatalf("unexpected transcript %q", got)
	}
	if calls := h.backend.count("retry.m4a"); calls != 2 {
		t.Fatalf("expected one retry, got %d calls", calls)
	}
}

func TestRecoverBoundsRetranscriptionAttempts(t *testing.T) {
	h := newHarness(t, summaryResponder, testsupport.WithAutoStages())
	h.cfg.Pipeline.SegmentMaxAttempts = 2
	dream := testsupport.NewDream(t, h.store, "u")
	seg := testsupport.AddAudio(t, h.store, dream.ID, 0, "corrupt.m4a")
	mustFail(t, h.store, seg.ID)
	h.backend.set("corrupt.m4a", "", errors.New("unreadable"))

	report, err := h.p.Recover(context.Background(), dream.ID)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if report.Success || report.Message != "no recoverable content" {
		t.Fatalf("unexpected report %#v", report)
	}
	if calls := h.backend.count("corrupt.m4a"); calls != 2 {
		t.Fatalf("expected attempts bounded at 2, got %d", calls)
	}
}

func TestRecoverWithoutContent(t *testing.T) {
	h := newHarness(t, summaryResponder)
	dream := testsupport.NewDream(t, h.store, "u")
	report, err := h.p.Recover(context.Background(), dream.ID)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if report.Success || report.Method != pipeline.RecoveryNone || report.Message != "no recoverable content" {
		t.Fatalf("unexpected report %#v", report)
	}
}

func TestRecoverOrphansReclaimsProcessingWork(t *testing.T) {
	h := newHarness(t, summaryResponder, testsupport.WithAutoStages())
	ctx := context.Background()
	dream := testsupport.NewDream(t, h.store, "u")
	seg := testsupport.AddAudio(t, h.store, dream.ID, 0, "orphan.m4a")
	h.backend.set("orphan.m4a", "left mid-flight", nil)
	if _, err := h.store.MarkSegmentStatus(ctx, seg.ID, lifecycle.EventStart, store.SegmentMark{}); err != nil {
		t.Fatalf("MarkSegmentStatus failed: %v", err)
	}

	reports, err := h.p.RecoverOrphans(ctx)
	if err != nil {
		t.Fatalf("RecoverOrphans failed: %v", err)
	}
	if len(reports) != 1 || reports[0].DreamID != dream.ID || !reports[0].Success {
		t.Fatalf("unexpected reports %#v", reports)
	}
	current, err := h.store.GetSegment(ctx, seg.ID)
	if err != nil {
		t.Fatalf("GetSegment failed: %v", err)
	}
	if current.Status != lifecycle.StatusCompleted || current.Transcript != "left mid-flight" {
		t.Fatalf("unexpected segment %#v", current)
	}
}

func TestRecoverOrphansRequeuesAbandonedStages(t *testing.T) {
	h := newHarness(t, summaryResponder)
	ctx := context.Background()
	dream := testsupport.NewDream(t, h.store, "u")
	testsupport.AddText(t, h.store, dream.ID, 0, "a door opens onto the sea")
	if _, err := h.p.Consolidate(ctx, dream.ID); err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
	if _, err := h.p.RunStage(ctx, dream.ID, store.StageSummary, false); err != nil {
		t.Fatalf("RunStage failed: %v", err)
	}
	if _, err := h.store.TransitionStage(ctx, dream.ID, store.StageAnalysis, lifecycle.EventStart, store.StageOutcome{}); err != nil {
		t.Fatalf("TransitionStage failed: %v", err)
	}
	if _, err := h.store.TransitionStage(ctx, dream.ID, store.StageQuestions, lifecycle.EventStart, store.StageOutcome{}); err != nil {
		t.Fatalf("TransitionStage failed: %v", err)
	}
	if _, err := h.store.TransitionStage(ctx, dream.ID, store.StageQuestions, lifecycle.EventFail, store.StageOutcome{Reason: "model refused"}); err != nil {
		t.Fatalf("TransitionStage failed: %v", err)
	}

	reports, err := h.p.RecoverOrphans(ctx)
	if err != nil {
		t.Fatalf("RecoverOrphans failed: %v", err)
	}
	if len(reports) != 1 || !reports[0].Success {
		t.Fatalf("unexpected reports %#v", reports)
	}
	h.p.Wait()

	if state := mustStage(t, h.store, dream.ID, store.StageAnalysis); state.Status != lifecycle.StatusCompleted {
		t.Fatalf("expected abandoned analysis to be regenerated, got %s (%s)", state.Status, state.ErrorMessage)
	}
	if calls := h.llm.Calls("thoughtful dream analyst"); calls != 1 {
		t.Fatalf("expected one analysis generation, got %d", calls)
	}
	if state := mustStage(t, h.store, dream.ID, store.StageQuestions); state.Status != lifecycle.StatusFailed || state.ErrorMessage != "model refused" {
		t.Fatalf("a stage that failed on its own should stay failed, got %s (%s)", state.Status, state.ErrorMessage)
	}
	if calls := h.llm.Calls("dream summarizer"); calls != 1 {
		t.Fatalf("completed summary should not be regenerated, got %d calls", calls)
	}
}

func TestRecoverLeavesOtherDreamsAlone(t *testing.T) {
	h := newHarness(t, summaryResponder)
	h.cfg.Workflow.HeartbeatTimeout = 1
	ctx := context.Background()

	target := testsupport.NewDream(t, h.store, "u")
	testsupport.AddText(t, h.store, target.ID, 0, "a quiet field")
	other := testsupport.NewDream(t, h.store, "u")
	busy := testsupport.AddAudio(t, h.store, other.ID, 0, "busy.m4a")
	if _, err := h.store.MarkSegmentStatus(ctx, busy.ID, lifecycle.EventStart, store.SegmentMark{}); err != nil {
		t.Fatalf("MarkSegmentStatus failed: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)

	if _, err := h.p.Recover(ctx, target.ID); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	current, err := h.store.GetSegment(ctx, busy.ID)
	if err != nil {
		t.Fatalf("GetSegment failed: %v", err)
	}
	if current.Status != lifecycle.StatusProcessing {
		t.Fatalf("recovering one dream must not reclaim another's work, got %s", current.Status)
	}
}
