package profile_test

import (
	"context"
	"math"
	"testing"

	"reverie/internal/lifecycle"
	"reverie/internal/profile"
	"reverie/internal/store"
	"reverie/internal/testsupport"
)

func summarizedDream(t *testing.T, st *store.Store, userID, summary string) *store.Dream {
	t.Helper()
	ctx := context.Background()
	dream := testsupport.NewDream(t, st, userID)
	testsupport.AddAudio(t, st, dream.ID, 0, "a.wav")
	if _, err := st.SetTranscript(ctx, dream.ID, summary); err != nil {
		t.Fatalf("SetTranscript failed: %v", err)
	}
	if _, err := st.TransitionStage(ctx, dream.ID, store.StageSummary, lifecycle.EventStart, store.StageOutcome{}); err != nil {
		t.Fatalf("TransitionStage failed: %v", err)
	}
	if _, err := st.TransitionStage(ctx, dream.ID, store.StageSummary, lifecycle.EventSucceed, store.StageOutcome{Artifact: summary}); err != nil {
		t.Fatalf("TransitionStage failed: %v", err)
	}
	return dream
}

func TestRecomputeAggregatesSummarizedDreams(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	svc := profile.NewService(st, nil)

	summarizedDream(t, st, "u", "Flying across the ocean on a long journey")
	last := summarizedDream(t, st, "u", "Travel through a forest path to explore")
	summarizedDream(t, st, "other", "Darkness and fear")
	// Dreams without a summary are ignored.
	testsupport.NewDream(t, st, "u")

	svc.OnSummaryCompleted(context.Background(), last, "")

	snap, err := svc.Get(context.Background(), "u")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if snap.Summary.DreamCount != 2 {
		t.Fatalf("expected 2 dreams, got %d", snap.Summary.DreamCount)
	}
	if snap.Summary.TotalDurationSeconds != 25 {
		t.Fatalf("expected 25s total duration, got %v", snap.Summary.TotalDurationSeconds)
	}
	if snap.Summary.ThemeKeywords["ocean"] != 1 || snap.Summary.ThemeKeywords["journey"] != 1 {
		t.Fatalf("unexpected keywords %v", snap.Summary.ThemeKeywords)
	}
	if snap.Profile.Archetype != "moonwalker" {
		t.Fatalf("expected moonwalker, got %s", snap.Profile.Archetype)
	}
	if snap.Profile.Confidence < 0.80 || snap.Profile.Confidence > 0.95 {
		t.Fatalf("confidence %v out of range", snap.Profile.Confidence)
	}
	if len(snap.Profile.TopThemes) == 0 || snap.Profile.TopThemes[0] != "Adventure" {
		t.Fatalf("unexpected themes %v", snap.Profile.TopThemes)
	}

	// Recomputing is idempotent.
	again, err := svc.Recompute(context.Background(), "u")
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if again.Summary.DreamCount != 2 {
		t.Fatalf("expected recompute to converge on 2 dreams, got %d", again.Summary.DreamCount)
	}
}

func TestGetWithoutDreamsReturnsDefault(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	svc := profile.NewService(st, nil)

	snap, err := svc.Get(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if snap.Summary.DreamCount != 0 || snap.Profile.Archetype != profile.DefaultArchetype || math.Abs(snap.Profile.Confidence-0.875) > 1e-9 {
		t.Fatalf("unexpected snapshot %+v %+v", snap.Summary, snap.Profile)
	}
}
