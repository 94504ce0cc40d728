package config

const (
	defaultConfigPath                  = "~/.config/reverie/config.toml"
	defaultDataDir                     = "~/.local/share/reverie"
	defaultLogDir                      = "~/.local/share/reverie/logs"
	defaultAudioDir                    = "~/.local/share/reverie/audio"
	defaultLogRetentionDays            = 60
	defaultLogFormat                   = "console"
	defaultLogLevel                    = "info"
	defaultAPIBind                     = "127.0.0.1:7488"
	defaultLLMBaseURL                  = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel                    = "google/gemini-3-flash-preview"
	defaultLLMReferer                  = "https://github.com/reverie-app/reverie"
	defaultLLMTitle                    = "Reverie"
	defaultLLMTimeoutSeconds           = 60
	defaultTranscriptionBackend        = "http"
	defaultTranscriptionBaseURL        = "https://api.openai.com/v1/audio/transcriptions"
	defaultTranscriptionModel          = "whisper-1"
	defaultTranscriptionTimeout        = 120
	defaultWhisperXModel               = "large-v3-turbo"
	defaultWhisperXVADMethod           = "silero"
	defaultImageBaseURL                = "https://api.openai.com/v1/images/generations"
	defaultImageModel                  = "dall-e-3"
	defaultImageSize                   = "1024x1024"
	defaultImageStyle                  = "dreamlike, surreal, soft lighting"
	defaultImageTimeout                = 120
	defaultVideoPollInterval           = 5
	defaultVideoTimeout                = 900
	defaultTranscriptionWorkers        = 4
	defaultStageWorkers                = 4
	defaultFinishTimeout               = 90
	defaultSegmentMaxAttempts          = 3
	defaultCheckInRetryCeiling         = 3
	defaultCheckInRetryBaseDelay       = 2
	defaultInsightRecentDreams         = 5
	defaultTranscriptDelimiter         = "\n\n"
	defaultWorkflowHeartbeatInterval   = 15
	defaultWorkflowHeartbeatTimeout    = 120
	defaultNotificationsRequestTimeout = 10
)

// knownStages lists the stage names accepted by pipeline.auto_stages.
var knownStages = []string{"summary", "analysis", "expanded_analysis", "questions", "image", "video"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			AudioDir: defaultAudioDir,
			APIBind:  defaultAPIBind,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Transcription: Transcription{
			Backend:           defaultTranscriptionBackend,
			BaseURL:           defaultTranscriptionBaseURL,
			Model:             defaultTranscriptionModel,
			TimeoutSeconds:    defaultTranscriptionTimeout,
			WhisperXModel:     defaultWhisperXModel,
			WhisperXVADMethod: defaultWhisperXVADMethod,
		},
		Image: Image{
			Enabled:        true,
			BaseURL:        defaultImageBaseURL,
			Model:          defaultImageModel,
			Size:           defaultImageSize,
			Style:          defaultImageStyle,
			TimeoutSeconds: defaultImageTimeout,
		},
		Video: Video{
			PollInterval:   defaultVideoPollInterval,
			TimeoutSeconds: defaultVideoTimeout,
		},
		Pipeline: Pipeline{
			TranscriptionWorkers:  defaultTranscriptionWorkers,
			StageWorkers:          defaultStageWorkers,
			FinishTimeout:         defaultFinishTimeout,
			SegmentMaxAttempts:    defaultSegmentMaxAttempts,
			CheckInRetryCeiling:   defaultCheckInRetryCeiling,
			CheckInRetryBaseDelay: defaultCheckInRetryBaseDelay,
			InsightRecentDreams:   defaultInsightRecentDreams,
			AutoStages:            []string{"summary"},
			TranscriptDelimiter:   defaultTranscriptDelimiter,
		},
		Workflow: Workflow{
			QueuePollInterval:  5,
			ErrorRetryInterval: 10,
			HeartbeatInterval:  defaultWorkflowHeartbeatInterval,
			HeartbeatTimeout:   defaultWorkflowHeartbeatTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotificationsRequestTimeout,
			DreamReady:     true,
			StageFailures:  true,
			Recovery:       true,
			Insights:       true,
			Errors:         true,
		},
	}
}
