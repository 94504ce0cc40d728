package config

import (
	"fmt"
	"slices"
	"strings"
)

func (c *Config) normalize(env envLookup) error {
	if err := c.normalizePaths(env); err != nil {
		return err
	}
	c.normalizeLLM(env)
	c.normalizeTranscription(env)
	c.normalizeImage(env)
	c.normalizeVideo(env)
	c.normalizePipeline()
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return nil
}

func (c *Config) normalizePaths(env envLookup) error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.AudioDir) == "" {
		c.Paths.AudioDir = defaultAudioDir
	}
	if c.Paths.AudioDir, err = expandPath(c.Paths.AudioDir); err != nil {
		return fmt.Errorf("paths.audio_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if value, ok := env.first("REVERIE_API_TOKEN"); ok {
		c.Paths.APIToken = value
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeLLM(env envLookup) {
	if value, ok := env.first("REVERIE_LLM_API_KEY", "OPENROUTER_API_KEY"); ok {
		c.LLM.APIKey = value
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	if c.LLM.Referer == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeTranscription(env envLookup) {
	c.Transcription.Backend = strings.ToLower(strings.TrimSpace(c.Transcription.Backend))
	if c.Transcription.Backend == "" {
		c.Transcription.Backend = defaultTranscriptionBackend
	}
	if value, ok := env.first("REVERIE_TRANSCRIPTION_API_KEY", "OPENAI_API_KEY"); ok {
		c.Transcription.APIKey = value
	}
	c.Transcription.APIKey = strings.TrimSpace(c.Transcription.APIKey)
	c.Transcription.BaseURL = strings.TrimSpace(c.Transcription.BaseURL)
	if c.Transcription.BaseURL == "" {
		c.Transcription.BaseURL = defaultTranscriptionBaseURL
	}
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	if c.Transcription.Model == "" {
		c.Transcription.Model = defaultTranscriptionModel
	}
	c.Transcription.Language = strings.ToLower(strings.TrimSpace(c.Transcription.Language))
	if c.Transcription.TimeoutSeconds <= 0 {
		c.Transcription.TimeoutSeconds = defaultTranscriptionTimeout
	}
	c.Transcription.WhisperXModel = strings.TrimSpace(c.Transcription.WhisperXModel)
	if c.Transcription.WhisperXModel == "" {
		c.Transcription.WhisperXModel = defaultWhisperXModel
	}
	c.Transcription.WhisperXVADMethod = strings.ToLower(strings.TrimSpace(c.Transcription.WhisperXVADMethod))
	if c.Transcription.WhisperXVADMethod == "" {
		c.Transcription.WhisperXVADMethod = defaultWhisperXVADMethod
	}
	if value, ok := env.first("HUGGING_FACE_HUB_TOKEN", "HF_TOKEN"); ok {
		c.Transcription.WhisperXHuggingFace = value
	}
	c.Transcription.WhisperXHuggingFace = strings.TrimSpace(c.Transcription.WhisperXHuggingFace)
}

func (c *Config) normalizeImage(env envLookup) {
	if value, ok := env.first("REVERIE_IMAGE_API_KEY"); ok {
		c.Image.APIKey = value
	}
	c.Image.APIKey = strings.TrimSpace(c.Image.APIKey)
	if c.Image.APIKey == "" {
		// Falls back to the transcription key.
		c.Image.APIKey = c.Transcription.APIKey
	}
	c.Image.BaseURL = strings.TrimSpace(c.Image.BaseURL)
	if c.Image.BaseURL == "" {
		c.Image.BaseURL = defaultImageBaseURL
	}
	c.Image.Model = strings.TrimSpace(c.Image.Model)
	if c.Image.Model == "" {
		c.Image.Model = defaultImageModel
	}
	c.Image.Size = strings.TrimSpace(c.Image.Size)
	if c.Image.Size == "" {
		c.Image.Size = defaultImageSize
	}
	c.Image.Style = strings.TrimSpace(c.Image.Style)
	if c.Image.TimeoutSeconds <= 0 {
		c.Image.TimeoutSeconds = defaultImageTimeout
	}
}

func (c *Config) normalizePipeline() {
	stages := make([]string, 0, len(c.Pipeline.AutoStages))
	for _, stage := range c.Pipeline.AutoStages {
		normalized := strings.ToLower(strings.TrimSpace(stage))
		if normalized == "" || slices.Contains(stages, normalized) {
			continue
		}
		stages = append(stages, normalized)
	}
	c.Pipeline.AutoStages = stages
	if c.Pipeline.TranscriptDelimiter == "" {
		c.Pipeline.TranscriptDelimiter = defaultTranscriptDelimiter
	}
	if c.Pipeline.InsightRecentDreams <= 0 {
		c.Pipeline.InsightRecentDreams = defaultInsightRecentDreams
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeVideo(env envLookup) {
	if value, ok := env.first("REVERIE_VIDEO_API_KEY"); ok {
		c.Video.APIKey = value
	}
	c.Video.APIKey = strings.TrimSpace(c.Video.APIKey)
	c.Video.BaseURL = strings.TrimRight(strings.TrimSpace(c.Video.BaseURL), "/")
	if c.Video.PollInterval <= 0 {
		c.Video.PollInterval = defaultVideoPollInterval
	}
	if c.Video.TimeoutSeconds <= 0 {
		c.Video.TimeoutSeconds = defaultVideoTimeout
	}
}
