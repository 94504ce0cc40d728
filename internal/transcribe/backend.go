package transcribe

import (
	"context"
	"path/filepath"

	"reverie/internal/config"
	"reverie/internal/language"
	"reverie/internal/services/transcription"
	"reverie/internal/services/whisperx"
)

// Backend converts one recording into text. An empty string is a valid
// result for a silent recording.
type Backend interface {
	Transcribe(ctx context.Context, path string) (string, error)
	Name() string
}

// NewBackend builds the backend selected by transcription.backend.
func NewBackend(cfg *config.Config) Backend {
	lang := language.ToISO2(cfg.Transcription.Language)
	if cfg.Transcription.Backend == "whisperx" {
		return whisperx.NewService(whisperx.Config{
			Model:       cfg.Transcription.WhisperXModel,
			CUDAEnabled: cfg.Transcription.WhisperXCUDAEnabled,
			VADMethod:   cfg.Transcription.WhisperXVADMethod,
			HFToken:     cfg.Transcription.WhisperXHuggingFace,
			Language:    lang,
		}, filepath.Join(cfg.Paths.DataDir, "scratch"))
	}
	return transcription.NewClient(transcription.Config{
		BaseURL:        cfg.Transcription.BaseURL,
		APIKey:         cfg.Transcription.APIKey,
		Model:          cfg.Transcription.Model,
		Language:       lang,
		TimeoutSeconds: cfg.Transcription.TimeoutSeconds,
	})
}
