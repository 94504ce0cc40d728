package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"reverie/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// External endpoints point at an unroutable address until a test overrides them.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.AudioDir = filepath.Join(base, "audio")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.LLM.APIKey = "test"
	cfgVal.LLM.BaseURL = "http://127.0.0.1:9/chat"
	cfgVal.Transcription.APIKey = "test"
	cfgVal.Transcription.BaseURL = "http://127.0.0.1:9/transcribe"
	cfgVal.Image.APIKey = "test"
	cfgVal.Image.BaseURL = "http://127.0.0.1:9/images"
	cfgVal.Pipeline.FinishTimeout = 5
	cfgVal.Pipeline.CheckInRetryBaseDelay = 0
	cfgVal.Workflow.HeartbeatInterval = 1
	cfgVal.Workflow.HeartbeatTimeout = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithLLM points the chat client at url.
func WithLLM(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.BaseURL = url
	}
}

// WithTranscription points the HTTP transcription backend at url.
func WithTranscription(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transcription.Backend = "http"
		b.cfg.Transcription.BaseURL = url
	}
}

// WithImages points the image generation client at url.
func WithImages(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Image.BaseURL = url
	}
}

// WithVideo enables the video stage against the job service at url.
func WithVideo(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Video.Enabled = true
		b.cfg.Video.BaseURL = url
		b.cfg.Video.PollInterval = 1
		b.cfg.Video.TimeoutSeconds = 5
	}
}

// WithAutoStages replaces the stages triggered after consolidation.
func WithAutoStages(stages ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.AutoStages = stages
	}
}

// WithAPIToken requires bearer authentication on the API server.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithFinishTimeout sets the finish wait in seconds.
func WithFinishTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.FinishTimeout = seconds
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and uvx are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "uvx"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(binDir, name), script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
