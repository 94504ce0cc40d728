package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"reverie/internal/lifecycle"
	"reverie/internal/pipeline"
	"reverie/internal/services"
	"reverie/internal/store"
	"reverie/internal/testsupport"
)

func TestConsolidateJoinsCompletedSegmentsInOrder(t *testing.T) {
	h := newHarness(t, summaryResponder)
	ctx := context.Background()
	dream := testsupport.NewDream(t, h.store, "u")

	testsupport.AddText(t, h.store, dream.ID, 2, "second part")
	testsupport.AddText(t, h.store, dream.ID, 0, "first part")
	failed := testsupport.AddAudio(t, h.store, dream.ID, 1, "broken.m4a")
	mustFail(t, h.store, failed.ID)
	silent := testsupport.AddAudio(t, h.store, dream.ID, 3, "silent.m4a")
	if _, err := h.store.MarkSegmentStatus(ctx, silent.ID, lifecycle.EventSucceed, store.SegmentMark{Transcript: "   "}); err != nil {
		t.Fatalf("MarkSegmentStatus failed: %v", err)
	}

	first, err := h.p.Consolidate(ctx, dream.ID)
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
	if !first.Ready || first.Transcript != "first part\n\nsecond part" {
		t.Fatalf("unexpected consolidation %#v", first)
	}
	if first.Completed != 3 || first.Failed != 1 || !first.Changed {
		t.Fatalf("unexpected counters %#v", first)
	}
	if len(first.Triggered) != 1 || first.Triggered[0] != store.StageSummary {
		t.Fatalf("expected summary to be triggered, got %v", first.Triggered)
	}

	second, err := h.p.Consolidate(ctx, dream.ID)
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
	if second.Transcript != first.Transcript || second.Changed || len(second.Triggered) != 0 {
		t.Fatalf("second evaluation should be a no-op, got %#v", second)
	}
	if got := mustDream(t, h.store, dream.ID).Transcript; got != first.Transcript {
		t.Fatalf("stored transcript %q", got)
	}
}

func TestConsolidateWaitsForInFlightSegments(t *testing.T) {
	h := newHarness(t, summaryResponder)
	dream := testsupport.NewDream(t, h.store, "u")
	testsupport.AddText(t, h.store, dream.ID, 0, "done already")
	testsupport.AddAudio(t, h.store, dream.ID, 1, "pending.m4a")

	result, err := h.p.Consolidate(context.Background(), dream.ID)
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
	if result.Ready || result.InFlight != 1 {
		t.Fatalf("expected barrier to hold, got %#v", result)
	}
	if mustDream(t, h.store, dream.ID).ConsolidatedAt != nil {
		t.Fatal("transcript should not be written while segments are in flight")
	}
	if state := mustStage(t, h.store, dream.ID, store.StageSummary); state.Status != lifecycle.StatusAbsent {
		t.Fatalf("summary should not start, got %s", state.Status)
	}
}

func TestConsolidateWithoutCompletedSegmentsTriggersNothing(t *testing.T) {
	h := newHarness(t, summaryResponder)
	dream := testsupport.NewDream(t, h.store, "u")
	seg := testsupport.AddAudio(t, h.store, dream.ID, 0, "broken.m4a")
	mustFail(t, h.store, seg.ID)

	result, err := h.p.Consolidate(context.Background(), dream.ID)
	if err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
	if !result.Ready || result.Transcript != "" || len(result.Triggered) != 0 {
		t.Fatalf("unexpected consolidation %#v", result)
	}
	if state := mustStage(t, h.store, dream.ID, store.StageSummary); state.Status != lifecycle.StatusAbsent {
		t.Fatalf("summary should stay absent, got %s", state.Status)
	}
}

func TestSegmentSettlementDrivesBarrier(t *testing.T) {
	h := newHarness(t, summaryResponder, testsupport.WithAutoStages())
	dream := testsupport.NewDream(t, h.store, "u")
	seg := testsupport.AddAudio(t, h.store, dream.ID, 0, "take.m4a")
	h.backend.set("take.m4a", "I was underwater", nil)

	if err := h.worker.Process(context.Background(), seg.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if got := mustDream(t, h.store, dream.ID).Transcript; got != "I was underwater" {
		t.Fatalf("expected settled segment to consolidate, got %q", got)
	}
}

func TestHubWakesSubscribersOnce(t *testing.T) {
	h := newHarness(t, summaryResponder)
	hub := h.p.Hub()
	first, leaveFirst := hub.Subscribe("d")
	defer leaveFirst()
	again, leaveAgain := hub.Subscribe("d")
	defer leaveAgain()
	if first != again {
		t.Fatal("subscribers between publishes should share a channel")
	}
	hub.Publish("d")
	select {
	case <-first:
	default:
		t.Fatal("publish should close the channel")
	}
	next, leaveNext := hub.Subscribe("d")
	defer leaveNext()
	select {
	case <-next:
		t.Fatal("a fresh subscription should block until the next publish")
	default:
	}
	hub.Publish("other")
}

func TestHubDropsKeyWhenLastWaiterLeaves(t *testing.T) {
	hub := pipeline.NewHub()
	_, leaveFirst := hub.Subscribe("d")
	_, leaveSecond := hub.Subscribe("d")
	leaveFirst()
	leaveFirst()
	if hub.Len() != 1 {
		t.Fatalf("key should stay while a waiter listens, got %d keys", hub.Len())
	}
	leaveSecond()
	if hub.Len() != 0 {
		t.Fatalf("expected no keys after the last waiter left, got %d", hub.Len())
	}

	_, stale := hub.Subscribe("d")
	hub.Publish("d")
	_, fresh := hub.Subscribe("d")
	stale()
	if hub.Len() != 1 {
		t.Fatal("a waiter from before a publish must not drop the fresh channel")
	}
	fresh()
}

func TestTimedOutWaiterLeavesNoSubscription(t *testing.T) {
	h := newHarness(t, summaryResponder)
	dream := testsupport.NewDream(t, h.store, "u")
	_, err := h.p.AwaitStage(context.Background(), dream.ID, store.StageAnalysis, 50*time.Millisecond)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if n := h.p.Hub().Len(); n != 0 {
		t.Fatalf("expected the timed out waiter to unsubscribe, got %d keys", n)
	}
}
