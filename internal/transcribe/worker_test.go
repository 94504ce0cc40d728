package transcribe_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"reverie/internal/lifecycle"
	"reverie/internal/logging"
	"reverie/internal/notifications"
	"reverie/internal/services"
	"reverie/internal/testsupport"
	"reverie/internal/transcribe"
)

type fakeBackend struct {
	text  string
	err   error
	paths []string
}

func (f *fakeBackend) Transcribe(_ context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	return f.text, f.err
}

func (f *fakeBackend) Name() string { return "fake" }

func TestProcessCompletesSegmentAndNotifiesBarrier(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	dream := testsupport.NewDream(t, st, "u")
	seg := testsupport.AddAudio(t, st, dream.ID, 0, "take-1.m4a")

	backend := &fakeBackend{text: "  a staircase of water  "}
	worker := transcribe.NewWorker(cfg, st, backend, logging.NewNop(), notifications.NewService(cfg))
	var settled []string
	worker.OnSettled(func(_ context.Context, dreamID string) { settled = append(settled, dreamID) })

	if err := worker.Process(context.Background(), seg.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	current, err := st.GetSegment(context.Background(), seg.ID)
	if err != nil {
		t.Fatalf("GetSegment failed: %v", err)
	}
	if current.Status != lifecycle.StatusCompleted || current.Transcript != "a staircase of water" {
		t.Fatalf("unexpected segment %#v", current)
	}
	if len(backend.paths) != 1 || backend.paths[0] != filepath.Join(cfg.Paths.AudioDir, "take-1.m4a") {
		t.Fatalf("unexpected backend paths %v", backend.paths)
	}
	if len(settled) != 1 || settled[0] != dream.ID {
		t.Fatalf("expected barrier hook for %s, got %v", dream.ID, settled)
	}
}

func TestProcessRecordsFailureWithoutRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	dream := testsupport.NewDream(t, st, "u")
	seg := testsupport.AddAudio(t, st, dream.ID, 0, "take-1.m4a")

	backend := &fakeBackend{err: errors.New("decoder exploded")}
	worker := transcribe.NewWorker(cfg, st, backend, logging.NewNop(), nil)
	settledCalls := 0
	worker.OnSettled(func(context.Context, string) { settledCalls++ })

	if err := worker.Process(context.Background(), seg.ID); err == nil {
		t.Fatal("expected failure")
	}
	current, err := st.GetSegment(context.Background(), seg.ID)
	if err != nil {
		t.Fatalf("GetSegment failed: %v", err)
	}
	if current.Status != lifecycle.StatusFailed || current.Transcript != "" {
		t.Fatalf("unexpected segment %#v", current)
	}
	if len(backend.paths) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(backend.paths))
	}
	if settledCalls != 1 {
		t.Fatalf("expected barrier hook after failure, got %d calls", settledCalls)
	}
}

func TestProcessRejectsSettledSegment(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	dream := testsupport.NewDream(t, st, "u")
	seg := testsupport.AddText(t, st, dream.ID, 0, "already text")

	worker := transcribe.NewWorker(cfg, st, &fakeBackend{}, logging.NewNop(), nil)
	if err := worker.Process(context.Background(), seg.ID); !errors.Is(err, services.ErrAlreadyInProgress) {
		t.Fatalf("expected ErrAlreadyInProgress for completed segment, got %v", err)
	}
}

func TestProcessEmptyTranscriptIsSuccess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	dream := testsupport.NewDream(t, st, "u")
	seg := testsupport.AddAudio(t, st, dream.ID, 0, "silence.m4a")

	worker := transcribe.NewWorker(cfg, st, &fakeBackend{text: ""}, logging.NewNop(), nil)
	if err := worker.Process(context.Background(), seg.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	current, _ := st.GetSegment(context.Background(), seg.ID)
	if current.Status != lifecycle.StatusCompleted {
		t.Fatalf("silent recording should complete, got %s", current.Status)
	}
}
