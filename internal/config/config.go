package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	AudioDir string `toml:"audio_dir"`
	EnvFile  string `toml:"env_file"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// LLM contains the chat-completions connection used by every text stage.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Transcription selects and configures the speech-to-text backend.
type Transcription struct {
	Backend             string `toml:"backend"`
	BaseURL             string `toml:"base_url"`
	APIKey              string `toml:"api_key"`
	Model               string `toml:"model"`
	Language            string `toml:"language"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
	WhisperXModel       string `toml:"whisperx_model"`
	WhisperXCUDAEnabled bool   `toml:"whisperx_cuda_enabled"`
	WhisperXVADMethod   string `toml:"whisperx_vad_method"`
	WhisperXHuggingFace string `toml:"whisperx_hf_token"`
}

// Image configures the illustration stage.
type Image struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	Size           string `toml:"size"`
	Style          string `toml:"style"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Video configures the video stage. Rendering runs as a job on an external
// service that reverie submits to and polls.
type Video struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	PollInterval   int    `toml:"poll_interval"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Pipeline bounds concurrency, retries and the finish wait.
type Pipeline struct {
	TranscriptionWorkers  int      `toml:"transcription_workers"`
	StageWorkers          int      `toml:"stage_workers"`
	FinishTimeout         int      `toml:"finish_timeout"`
	SegmentMaxAttempts    int      `toml:"segment_max_attempts"`
	CheckInRetryCeiling   int      `toml:"checkin_retry_ceiling"`
	CheckInRetryBaseDelay int      `toml:"checkin_retry_base_delay"`
	InsightRecentDreams   int      `toml:"insight_recent_dreams"`
	AutoStages            []string `toml:"auto_stages"`
	TranscriptDelimiter   string   `toml:"transcript_delimiter"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	DreamReady     bool   `toml:"dream_ready"`
	StageFailures  bool   `toml:"stage_failures"`
	Recovery       bool   `toml:"recovery"`
	Insights       bool   `toml:"insights"`
	Errors         bool   `toml:"errors"`
}

// Config encapsulates all configuration values for Reverie.
//
// Configuration sections by subsystem:
//   - Paths: data, log and audio directories plus the API bind address
//   - LLM: chat-completions connection shared by the text stages
//   - Transcription: speech-to-text backend (http or whisperx)
//   - Image: image generation for the illustration stage
//   - Video: external video rendering jobs
//   - Pipeline: worker counts, retry ceilings and the finish timeout
//   - Workflow: daemon polling intervals and heartbeats
//   - Logging: log format, level, and retention
//   - Notifications: ntfy push notification settings
type Config struct {
	Paths         Paths         `toml:"paths"`
	LLM           LLM           `toml:"llm"`
	Transcription Transcription `toml:"transcription"`
	Image         Image         `toml:"image"`
	Video         Video         `toml:"video"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	env, err := loadEnv(cfg.Paths.EnvFile, resolvedPath)
	if err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(env); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reverie.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.AudioDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "reverie.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "reverie.lock")
}

// AudioPath resolves a segment content reference inside the audio directory.
// Absolute references are returned unchanged.
func (c *Config) AudioPath(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(c.Paths.AudioDir, filepath.Clean(ref))
}

// WhisperXBinary returns the launcher used to run WhisperX.
func (c *Config) WhisperXBinary() string {
	return "uvx"
}

// FinishTimeout returns the server-side bound on finish.
func (c *Config) FinishTimeout() time.Duration {
	return time.Duration(c.Pipeline.FinishTimeout) * time.Second
}

// CheckInRetryBaseDelay returns the first backoff interval for insight retries.
func (c *Config) CheckInRetryBaseDelay() time.Duration {
	return time.Duration(c.Pipeline.CheckInRetryBaseDelay) * time.Second
}

// VideoPollInterval returns how often a running video job is polled.
func (c *Config) VideoPollInterval() time.Duration {
	return time.Duration(c.Video.PollInterval) * time.Second
}

// VideoTimeout bounds one video job from submission to result.
func (c *Config) VideoTimeout() time.Duration {
	return time.Duration(c.Video.TimeoutSeconds) * time.Second
}

// HeartbeatInterval returns how often in-flight work refreshes its heartbeat.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Workflow.HeartbeatInterval) * time.Second
}

// HeartbeatTimeout returns how long a heartbeat may go stale before the
// entry is reclaimed.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Workflow.HeartbeatTimeout) * time.Second
}

// QueuePollInterval returns the idle poll interval of the transcription lane.
func (c *Config) QueuePollInterval() time.Duration {
	return time.Duration(c.Workflow.QueuePollInterval) * time.Second
}

// ErrorRetryInterval returns the pause after a store error in a lane.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Workflow.ErrorRetryInterval) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains common LLM settings used across stages.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// GetLLM returns the shared LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
	}
}
