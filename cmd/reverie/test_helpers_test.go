package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"reverie/internal/config"
	"reverie/internal/daemon"
	"reverie/internal/daemonrun"
	"reverie/internal/logging"
	"reverie/internal/preflight"
	"reverie/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	runtime    *daemonrun.Runtime
	configPath string
}

type noAudio struct{}

func (noAudio) Transcribe(context.Context, string) (string, error) {
	return "", errors.New("no audio in cli tests")
}

func (noAudio) Name() string { return "none" }

func respond(system, _ string) (string, error) {
	switch {
	case strings.Contains(system, "dream summarizer"):
		return `{"title": "lighthouse at dusk", "summary": "You climb a lighthouse as the sun sets."}`, nil
	case strings.Contains(system, "interpretation questions"):
		return `{"questions": [{"question": "How did the climb feel?", "choices": ["Easy", "Exhausting"]}]}`, nil
	case strings.Contains(system, "inner voice"):
		return "The light you climb toward is already yours.", nil
	}
	return "The lighthouse marks a guiding purpose.", nil
}

func passingChecks(context.Context, *config.Config) []preflight.Result {
	return []preflight.Result{{Name: "LLM", Passed: true, Detail: "API reachable"}}
}

// setupCLITestEnv runs a daemon in-process and writes a config file that
// points the CLI at it.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	stub := testsupport.NewStubLLM(t, respond)
	cfg := testsupport.NewConfig(t, testsupport.WithLLM(stub.URL()))
	cfg.Image.Enabled = false
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	rt, err := daemonrun.Build(cfg, logging.NewNop(), noAudio{}, daemon.WithChecks(passingChecks))
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

	fileCfg := *cfg
	fileCfg.Paths.APIBind = rt.Daemon.Addr()
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, &fileCfg)

	return &cliTestEnv{cfg: cfg, runtime: rt, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func runJSON(t *testing.T, env *cliTestEnv, out any, args ...string) {
	t.Helper()
	stdout, stderr, err := runCLI(t, append([]string{"--json"}, args...), env.configPath)
	if err != nil {
		t.Fatalf("%s failed: %v (stderr %q)", strings.Join(args, " "), err, stderr)
	}
	if err := json.Unmarshal([]byte(stdout), out); err != nil {
		t.Fatalf("decode %s output %q: %v", strings.Join(args, " "), stdout, err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
