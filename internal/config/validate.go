package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"reverie/internal/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if c.Video.Enabled && c.Video.BaseURL == "" {
		return errors.New("video.base_url is required when video is enabled")
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTranscription() error {
	switch c.Transcription.Backend {
	case "http", "whisperx":
	default:
		return fmt.Errorf("transcription.backend must be http or whisperx, got %q", c.Transcription.Backend)
	}
	if !language.Valid(c.Transcription.Language) {
		return fmt.Errorf("transcription.language: unrecognized language %q", c.Transcription.Language)
	}
	if c.Transcription.Backend == "whisperx" {
		switch c.Transcription.WhisperXVADMethod {
		case "silero", "pyannote":
		default:
			return fmt.Errorf("transcription.whisperx_vad_method must be silero or pyannote, got %q", c.Transcription.WhisperXVADMethod)
		}
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.transcription_workers": c.Pipeline.TranscriptionWorkers,
		"pipeline.stage_workers":         c.Pipeline.StageWorkers,
		"pipeline.finish_timeout":        c.Pipeline.FinishTimeout,
		"pipeline.segment_max_attempts":  c.Pipeline.SegmentMaxAttempts,
		"pipeline.checkin_retry_ceiling": c.Pipeline.CheckInRetryCeiling,
	}); err != nil {
		return err
	}
	if c.Pipeline.CheckInRetryBaseDelay < 0 {
		return errors.New("pipeline.checkin_retry_base_delay must be >= 0")
	}
	for _, stage := range c.Pipeline.AutoStages {
		if !slices.Contains(knownStages, stage) {
			return fmt.Errorf("pipeline.auto_stages: unknown stage %q (valid: %s)", stage, strings.Join(knownStages, ", "))
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"notifications.request_timeout": c.Notifications.RequestTimeout,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
