package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Dream describes a dream with its segments and stage states.
type Dream struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title"`
	State          string    `json:"state"`
	Transcript     string    `json:"transcript"`
	AdditionalInfo string    `json:"additional_info,omitempty"`
	CreatedAt      string    `json:"created_at,omitempty"`
	UpdatedAt      string    `json:"updated_at,omitempty"`
	ConsolidatedAt string    `json:"consolidated_at,omitempty"`
	Segments       []Segment `json:"segments,omitempty"`
	Stages         []Stage   `json:"stages,omitempty"`
}

// Stage returns the named stage from the dream, if present.
func (d Dream) Stage(name string) (Stage, bool) {
	for _, st := range d.Stages {
		if st.Name == name {
			return st, true
		}
	}
	return Stage{}, false
}

// Segment is one ordered recording unit.
type Segment struct {
	ID              string  `json:"id"`
	DreamID         string  `json:"dream_id"`
	Order           int     `json:"order"`
	Modality        string  `json:"modality"`
	ContentRef      string  `json:"content_ref,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Transcript      string  `json:"transcript,omitempty"`
	Status          string  `json:"status"`
	FailureReason   string  `json:"failure_reason,omitempty"`
	Attempts        int     `json:"attempts"`
}

// Stage is the state of one enrichment stage.
type Stage struct {
	Name         string          `json:"name"`
	Status       string          `json:"status"`
	Artifact     string          `json:"artifact,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	GeneratedAt  string          `json:"generated_at,omitempty"`
	Attempts     int             `json:"attempts"`
}

// Answer is a recorded reply to an interpretation question.
type Answer struct {
	DreamID       string `json:"dream_id"`
	QuestionIndex int    `json:"question_index"`
	ChoiceIndex   *int   `json:"choice_index,omitempty"`
	CustomAnswer  string `json:"custom_answer,omitempty"`
}

// CheckIn describes a mood check-in and its insight.
type CheckIn struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	Text           string             `json:"text"`
	MoodScores     map[string]float64 `json:"mood_scores,omitempty"`
	InsightStatus  string             `json:"insight_status"`
	InsightText    string             `json:"insight_text,omitempty"`
	InsightType    string             `json:"insight_type,omitempty"`
	InsightVersion int                `json:"insight_version,omitempty"`
	ErrorMessage   string             `json:"error_message,omitempty"`
	RetryCount     int                `json:"retry_count"`
	GeneratedAt    string             `json:"generated_at,omitempty"`
	CreatedAt      string             `json:"created_at,omitempty"`
}

// Profile combines a user's dream counters with the archetype snapshot.
type Profile struct {
	UserID               string         `json:"user_id"`
	DreamCount           int            `json:"dream_count"`
	TotalDurationSeconds float64        `json:"total_duration_seconds"`
	LastDreamAt          string         `json:"last_dream_at,omitempty"`
	ThemeKeywords        map[string]int `json:"theme_keywords,omitempty"`
	Archetype            string         `json:"archetype"`
	Confidence           float64        `json:"confidence"`
	TopThemes            []string       `json:"top_themes,omitempty"`
}

// RecoveryReport describes the outcome of a recovery.
type RecoveryReport struct {
	DreamID     string         `json:"dream_id"`
	Success     bool           `json:"success"`
	Method      string         `json:"method"`
	Message     string         `json:"message"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

// CreateDreamRequest creates a draft dream. An empty ID is generated.
type CreateDreamRequest struct {
	ID             string `json:"id,omitempty"`
	UserID         string `json:"user_id"`
	Title          string `json:"title"`
	AdditionalInfo string `json:"additional_info,omitempty"`
}

// AddSegmentRequest appends a text or audio segment.
type AddSegmentRequest struct {
	Order           int     `json:"order"`
	Modality        string  `json:"modality"`
	Text            string  `json:"text,omitempty"`
	ContentRef      string  `json:"content_ref,omitempty"`
	DurationSeconds float64 `json:"duration,omitempty"`
}

// AnswerRequest records the reply to one question. Exactly one of
// ChoiceIndex and CustomAnswer is set.
type AnswerRequest struct {
	QuestionIndex int    `json:"question_index"`
	ChoiceIndex   *int   `json:"choice_index,omitempty"`
	CustomAnswer  string `json:"custom_answer,omitempty"`
}

// CheckInRequest submits a mood check-in.
type CheckInRequest struct {
	UserID     string             `json:"user_id"`
	Text       string             `json:"text"`
	MoodScores map[string]float64 `json:"mood_scores,omitempty"`
}

// DreamListResponse wraps a user's dreams.
type DreamListResponse struct {
	Dreams []Dream `json:"dreams"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WorkflowStatus summarizes the background lanes.
type WorkflowStatus struct {
	Running      bool                      `json:"running"`
	LastError    string                    `json:"last_error,omitempty"`
	LastActivity string                    `json:"last_activity,omitempty"`
	Dreams       int                       `json:"dreams"`
	Counts       map[string]map[string]int `json:"counts"`
	Lanes        []LaneStatus              `json:"lanes"`
}

// LaneStatus reports one background lane.
type LaneStatus struct {
	Name      string `json:"name"`
	LastRun   string `json:"last_run,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Processed int    `json:"processed"`
}

// CheckStatus is the result of one preflight check.
type CheckStatus struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"database_path"`
	LockFilePath string         `json:"lock_file_path"`
	Workflow     WorkflowStatus `json:"workflow"`
	Checks       []CheckStatus  `json:"checks"`
}
