package whisperx_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"reverie/internal/services/whisperx"
)

func TestTranscribeRunsFFmpegThenWhisperX(t *testing.T) {
	source := filepath.Join(t.TempDir(), "take.m4a")
	if err := os.WriteFile(source, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	var commands []string
	svc := whisperx.NewService(whisperx.Config{Language: "en", VADMethod: whisperx.VADMethodPyannote, HFToken: "hf"}, t.TempDir()).
		WithRunner(func(_ context.Context, name string, args ...string) error {
			commands = append(commands, name)
			if name != whisperx.UVXCommand {
				return nil
			}
			if !slices.Contains(args, "--language") || !slices.Contains(args, "--hf_token") {
				t.Errorf("missing language or token args: %v", args)
			}
			idx := slices.Index(args, "--output_dir")
			out := filepath.Join(args[idx+1], "segment.json")
			return os.WriteFile(out, []byte(`{"segments":[{"text":" I was flying "},{"text":""},{"text":"over a lake."}]}`), 0o644)
		})

	text, err := svc.Transcribe(context.Background(), source)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "I was flying over a lake." {
		t.Fatalf("unexpected transcript %q", text)
	}
	if strings.Join(commands, ",") != "ffmpeg,uvx" {
		t.Fatalf("unexpected command order %v", commands)
	}
}

func TestTranscribeMissingSource(t *testing.T) {
	svc := whisperx.NewService(whisperx.Config{}, t.TempDir())
	if _, err := svc.Transcribe(context.Background(), filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Fatal("expected missing source to fail")
	}
}

func TestTranscribePropagatesRunnerError(t *testing.T) {
	source := filepath.Join(t.TempDir(), "take.wav")
	if err := os.WriteFile(source, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	boom := errors.New("boom")
	svc := whisperx.NewService(whisperx.Config{}, t.TempDir()).
		WithRunner(func(context.Context, string, ...string) error { return boom })
	if _, err := svc.Transcribe(context.Background(), source); !errors.Is(err, boom) {
		t.Fatalf("expected runner error, got %v", err)
	}
}
