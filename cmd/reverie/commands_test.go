package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"reverie/internal/api"
	"reverie/internal/export"
	"reverie/internal/services"
	"reverie/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite failed: %v", err)
	}

	cfg := testsupport.NewConfig(t)
	path := filepath.Join(testsupport.BaseDir(cfg), "valid.toml")
	writeTestConfig(t, path, cfg)
	out, _, err = runCLI(t, []string{"config", "validate"}, path)
	if err != nil {
		t.Fatalf("config validate failed: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Config path: "+path)
}

func TestConfigValidateRejectsBadBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transcription.Backend = "carrier-pigeon"
	path := filepath.Join(testsupport.BaseDir(cfg), "bad.toml")
	writeTestConfig(t, path, cfg)

	_, _, err := runCLI(t, []string{"config", "validate"}, path)
	if err == nil || !strings.Contains(err.Error(), "transcription.backend") {
		t.Fatalf("expected backend validation error, got %v", err)
	}
}

func TestStatusWithoutDaemonRunsChecks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:1"
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, path, cfg)

	out, _, err := runCLI(t, []string{"status"}, path)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	requireContains(t, out, "Not running")
	requireContains(t, out, "Data directory")
}

func TestDreamCommandsAgainstDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	var dream api.Dream
	runJSON(t, env, &dream, "dream", "create", "--user", "user-1", "--info", "I fell asleep by the sea")
	if dream.ID == "" || dream.State != "draft" {
		t.Fatalf("unexpected created dream %+v", dream)
	}

	var seg api.Segment
	runJSON(t, env, &seg, "dream", "add-text", dream.ID, "I climbed the lighthouse stairs.")
	if seg.Order != 0 {
		t.Fatalf("expected first segment at order 0, got %d", seg.Order)
	}
	runJSON(t, env, &seg, "dream", "add-text", dream.ID, "The lamp turned toward me.")
	if seg.Order != 1 {
		t.Fatalf("expected next free order 1, got %d", seg.Order)
	}

	out, _, err := runCLI(t, []string{"dream", "finish", dream.ID}, env.configPath)
	if err != nil {
		t.Fatalf("dream finish failed: %v", err)
	}
	requireContains(t, out, "Lighthouse At Dusk")
	requireContains(t, out, "I climbed the lighthouse stairs.\n\nThe lamp turned toward me.")

	out, _, err = runCLI(t, []string{"dream", "generate", dream.ID, "questions"}, env.configPath)
	if err != nil {
		t.Fatalf("dream generate failed: %v", err)
	}
	requireContains(t, out, "1. How did the climb feel?")
	requireContains(t, out, "2) Exhausting")

	var answer api.Answer
	runJSON(t, env, &answer, "dream", "answer", dream.ID, "--question", "1", "--choice", "2")
	if answer.QuestionIndex != 0 || answer.ChoiceIndex == nil || *answer.ChoiceIndex != 1 {
		t.Fatalf("unexpected answer %+v", answer)
	}

	var stage api.Stage
	runJSON(t, env, &stage, "dream", "generate", dream.ID, "analysis")
	if stage.Status != "completed" || stage.Artifact == "" {
		t.Fatalf("unexpected analysis stage %+v", stage)
	}

	out, _, err = runCLI(t, []string{"dream", "list", "--user", "user-1"}, env.configPath)
	if err != nil {
		t.Fatalf("dream list failed: %v", err)
	}
	requireContains(t, out, dream.ID)
	requireContains(t, out, "Lighthouse At Dusk")

	out, _, err = runCLI(t, []string{"dream", "show", dream.ID}, env.configPath)
	if err != nil {
		t.Fatalf("dream show failed: %v", err)
	}
	requireContains(t, out, "Transcript")
	requireContains(t, out, "The lighthouse marks a guiding purpose.")

	var report api.RecoveryReport
	runJSON(t, env, &report, "dream", "recover", dream.ID)
	if report.Method != "consolidated" || !report.Success {
		t.Fatalf("unexpected recovery report %+v", report)
	}

	var prof api.Profile
	runJSON(t, env, &prof, "profile", "user-1")
	if prof.DreamCount != 1 {
		t.Fatalf("expected one counted dream, got %+v", prof)
	}
}

func TestDreamCommandErrors(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"dream", "show", "missing"}, env.configPath)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}

	var dream api.Dream
	runJSON(t, env, &dream, "dream", "create", "--user", "user-1")
	_, _, err = runCLI(t, []string{"dream", "finish", dream.ID}, env.configPath)
	if !errors.Is(err, services.ErrNoTranscript) {
		t.Fatalf("expected no transcript error, got %v", err)
	}

	_, _, err = runCLI(t, []string{"dream", "answer", dream.ID, "--question", "0", "--choice", "1"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "--question") {
		t.Fatalf("expected question number error, got %v", err)
	}
}

func TestCheckInCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	var submitted api.CheckIn
	runJSON(t, env, &submitted, "checkin", "submit", "--user", "user-2", "--mood", "calm=0.8", "--mood", "tired=0.3", "Slept well")
	if submitted.ID == "" || submitted.MoodScores["calm"] != 0.8 {
		t.Fatalf("unexpected check-in %+v", submitted)
	}

	waitFor(t, 5*time.Second, func() bool {
		var current api.CheckIn
		runJSON(t, env, &current, "checkin", "show", submitted.ID)
		return current.InsightStatus == "completed"
	})

	out, _, err := runCLI(t, []string{"checkin", "show", submitted.ID}, env.configPath)
	if err != nil {
		t.Fatalf("checkin show failed: %v", err)
	}
	requireContains(t, out, "calm=0.80 tired=0.30")
	requireContains(t, out, "The light you climb toward is already yours.")

	if _, _, err := runCLI(t, []string{"checkin", "submit", "--user", "user-2", "--mood", "calm", "x"}, env.configPath); err == nil {
		t.Fatal("expected malformed mood to fail")
	}
}

func TestStatusAndExportCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	var status api.DaemonStatus
	runJSON(t, env, &status, "status")
	if !status.Running || len(status.Checks) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	requireContains(t, out, "Running (pid")

	var dream api.Dream
	runJSON(t, env, &dream, "dream", "create", "--user", "user-3", "--title", "Glass Forest")

	target := filepath.Join(t.TempDir(), "dreams.xlsx")
	var result export.Result
	runJSON(t, env, &result, "export", "--user", "user-3", "--output", target)
	if result.Dreams != 1 || result.Path != target {
		t.Fatalf("unexpected export result %+v", result)
	}
	f, err := excelize.OpenFile(target)
	if err != nil {
		t.Fatalf("open workbook failed: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Dreams")
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 2 || rows[1][2] != "Glass Forest" {
		t.Fatalf("unexpected dream rows %v", rows)
	}
}

func TestAddAudioImportsLocalFile(t *testing.T) {
	env := setupCLITestEnv(t)

	var dream api.Dream
	runJSON(t, env, &dream, "dream", "create", "--user", "user-4")

	src := filepath.Join(t.TempDir(), "morning memo.m4a")
	if err := os.WriteFile(src, []byte("pretend audio"), 0o644); err != nil {
		t.Fatalf("write recording failed: %v", err)
	}

	var seg api.Segment
	runJSON(t, env, &seg, "dream", "add-audio", dream.ID, src, "--import", "--duration", "2")
	want := filepath.Join(dream.ID, "morning memo.m4a")
	if seg.ContentRef != want || seg.Modality != "audio" || seg.DurationSeconds != 2 {
		t.Fatalf("unexpected segment %+v", seg)
	}
	data, err := os.ReadFile(env.cfg.AudioPath(want))
	if err != nil {
		t.Fatalf("imported recording missing: %v", err)
	}
	if string(data) != "pretend audio" {
		t.Fatalf("unexpected imported content %q", data)
	}
}

func TestLogsCommandPrintsTail(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, path, cfg)
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("create log dir failed: %v", err)
	}
	content := "first\nsecond\nthird\n"
	if err := os.WriteFile(filepath.Join(cfg.Paths.LogDir, "reverie.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log failed: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "-n", "2"}, path)
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if out != "second\nthird\n" {
		t.Fatalf("unexpected logs output %q", out)
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:1"
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, path, cfg)

	out, _, err := runCLI(t, []string{"stop"}, path)
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}
