package whisperx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) error

// Service runs WhisperX transcriptions.
type Service struct {
	cfg          Config
	ffmpegBinary string
	scratchDir   string
	run          Runner
}

// NewService creates a WhisperX service. scratchDir holds per-segment work
// directories and defaults to the system temp dir.
func NewService(cfg Config, scratchDir string) *Service {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.VADMethod == "" {
		cfg.VADMethod = VADMethodSilero
	}
	return &Service{
		cfg:          cfg,
		ffmpegBinary: FFmpegCommand,
		scratchDir:   scratchDir,
		run:          runCommand,
	}
}

// WithRunner replaces the command runner (used by tests).
func (s *Service) WithRunner(run Runner) *Service {
	if run != nil {
		s.run = run
	}
	return s
}

// Name identifies the backend in logs.
func (s *Service) Name() string {
	return "whisperx:" + s.cfg.Model
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	// Torch 2.6 changed torch.load to weights_only=true, which breaks pyannote checkpoints.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Transcribe normalizes the recording at source and returns its transcript.
func (s *Service) Transcribe(ctx context.Context, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", errors.New("whisperx: source path required")
	}
	if _, err := os.Stat(source); err != nil {
		return "", fmt.Errorf("whisperx: source: %w", err)
	}
	workDir, err := os.MkdirTemp(s.scratchDir, "whisperx-*")
	if err != nil {
		return "", fmt.Errorf("whisperx: create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	wavPath := filepath.Join(workDir, "segment.wav")
	if err := s.run(ctx, s.ffmpegBinary, normalizeArgs(source, wavPath)...); err != nil {
		return "", fmt.Errorf("whisperx: normalize audio: %w", err)
	}
	if err := s.run(ctx, UVXCommand, s.buildArgs(wavPath, workDir)...); err != nil {
		return "", fmt.Errorf("whisperx: %w", err)
	}
	text, err := LoadTranscript(filepath.Join(workDir, "segment.json"))
	if err != nil {
		return "", fmt.Errorf("whisperx: read output: %w", err)
	}
	return text, nil
}

func (s *Service) buildArgs(source, outputDir string) []string {
	args := make([]string, 0, 32)
	if s.cfg.CUDAEnabled {
		args = append(args, "--index-url", CUDAIndexURL, "--extra-index-url", PypiIndexURL)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}
	args = append(args,
		"whisperx",
		source,
		"--model", s.cfg.Model,
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
		"--chunk_size", ChunkSize,
		"--beam_size", BeamSize,
		"--temperature", Temperature,
		"--vad_method", s.cfg.VADMethod,
	)
	if s.cfg.VADMethod == VADMethodPyannote && s.cfg.HFToken != "" {
		args = append(args, "--hf_token", s.cfg.HFToken)
	}
	if s.cfg.Language != "" {
		args = append(args, "--language", s.cfg.Language)
	}
	if s.cfg.CUDAEnabled {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}
	return args
}

type outputPayload struct {
	Segments []struct {
		Text string `json:"text"`
	} `json:"segments"`
}

// LoadTranscript joins the segment texts of a WhisperX JSON output file.
func LoadTranscript(jsonPath string) (string, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return "", err
	}
	var payload outputPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("parse whisperx json: %w", err)
	}
	parts := make([]string, 0, len(payload.Segments))
	for _, seg := range payload.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
