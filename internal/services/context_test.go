package services_test

import (
	"context"
	"testing"

	"reverie/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithDreamID(ctx, "dream-1")
	ctx = services.WithSegmentID(ctx, "seg-1")
	ctx = services.WithCheckInID(ctx, "chk-1")
	ctx = services.WithStage(ctx, "summary")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.DreamIDFromContext(ctx); !ok || id != "dream-1" {
		t.Fatalf("unexpected dream id: %v %v", id, ok)
	}
	if id, ok := services.SegmentIDFromContext(ctx); !ok || id != "seg-1" {
		t.Fatalf("unexpected segment id: %v %v", id, ok)
	}
	if id, ok := services.CheckInIDFromContext(ctx); !ok || id != "chk-1" {
		t.Fatalf("unexpected check-in id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "summary" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}
