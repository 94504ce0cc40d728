package daemonrun_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reverie/internal/api"
	"reverie/internal/config"
	"reverie/internal/daemon"
	"reverie/internal/daemonrun"
	"reverie/internal/logging"
	"reverie/internal/preflight"
	"reverie/internal/testsupport"
)

type fileBackend struct{}

func (fileBackend) Transcribe(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	return strings.TrimSpace(string(data)), err
}

func (fileBackend) Name() string { return "file" }

func noChecks(context.Context, *config.Config) []preflight.Result { return nil }

func TestRuntimeTranscribesAudioAndSummarizes(t *testing.T) {
	stub := testsupport.NewStubLLM(t, func(system, _ string) (string, error) {
		if strings.Contains(system, "dream summarizer") {
			return `{"title": "night train", "summary": "You ride a train through the dark."}`, nil
		}
		return "An interpretation.", nil
	})
	cfg := testsupport.NewConfig(t, testsupport.WithLLM(stub.URL()))
	cfg.Image.Enabled = false
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Paths.AudioDir, "part1.txt"), []byte("I boarded a night train."), 0o644); err != nil {
		t.Fatalf("write audio fixture failed: %v", err)
	}

	rt, err := daemonrun.Build(cfg, logging.NewNop(), fileBackend{}, daemon.WithChecks(noChecks))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = rt.Shutdown()
	})
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	client, err := api.NewClient(rt.Daemon.Addr(), "", 30*time.Second)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	dream, err := client.CreateDream(ctx, api.CreateDreamRequest{UserID: "user-1"})
	if err != nil {
		t.Fatalf("CreateDream failed: %v", err)
	}
	if _, err := client.AddSegment(ctx, dream.ID, api.AddSegmentRequest{Modality: "audio", ContentRef: "part1.txt", DurationSeconds: 4}); err != nil {
		t.Fatalf("AddSegment failed: %v", err)
	}

	finished, err := client.FinishDream(ctx, dream.ID)
	if err != nil {
		t.Fatalf("FinishDream failed: %v", err)
	}
	if finished.Transcript != "I boarded a night train." {
		t.Fatalf("unexpected transcript %q", finished.Transcript)
	}
	if finished.Title != "Night Train" {
		t.Fatalf("unexpected title %q", finished.Title)
	}

	prof, err := client.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if prof.DreamCount != 1 || prof.TotalDurationSeconds != 4 {
		t.Fatalf("unexpected profile %+v", prof)
	}
}
