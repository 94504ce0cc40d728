package store

import (
	"strings"
	"time"

	"reverie/internal/lifecycle"
)

// Stage names an enrichment stage of a dream.
type Stage string

const (
	StageSummary          Stage = "summary"
	StageAnalysis         Stage = "analysis"
	StageExpandedAnalysis Stage = "expanded_analysis"
	StageQuestions        Stage = "questions"
	StageImage            Stage = "image"
	StageVideo            Stage = "video"
)

// AllStages lists every dream stage in display order.
var AllStages = []Stage{
	StageSummary,
	StageAnalysis,
	StageExpandedAnalysis,
	StageQuestions,
	StageImage,
	StageVideo,
}

// ParseStage converts user input (dashes or underscores) into a Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_")
	for _, stage := range AllStages {
		if string(stage) == normalized {
			return stage, true
		}
	}
	return "", false
}

// Modality describes how a segment was recorded.
type Modality string

const (
	ModalityAudio Modality = "audio"
	ModalityText  Modality = "text"
)

// ParseModality validates a modality string.
func ParseModality(value string) (Modality, bool) {
	switch Modality(strings.ToLower(strings.TrimSpace(value))) {
	case ModalityAudio:
		return ModalityAudio, true
	case ModalityText:
		return ModalityText, true
	}
	return "", false
}

// DreamState tracks whether the user finished recording.
type DreamState string

const (
	DreamDraft     DreamState = "draft"
	DreamCompleted DreamState = "completed"
)

// Dream is the aggregate root for one recorded narrative.
type Dream struct {
	ID             string
	UserID         string
	Title          string
	State          DreamState
	Transcript     string
	AdditionalInfo string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ConsolidatedAt *time.Time
}

// Segment is one ordered recording unit of a dream.
type Segment struct {
	ID              string
	DreamID         string
	Order           int
	Modality        Modality
	ContentRef      string
	ContentText     string
	DurationSeconds float64
	Transcript      string
	Status          lifecycle.Status
	FailureReason   string
	Attempts        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeat   *time.Time
}

// HasRawContent reports whether the segment can be transcribed again.
func (s *Segment) HasRawContent() bool {
	if s == nil {
		return false
	}
	if s.Modality == ModalityText {
		return strings.TrimSpace(s.ContentText) != ""
	}
	return strings.TrimSpace(s.ContentRef) != ""
}

// StageState is the persisted lifecycle of one (dream, stage) pair. Stages
// never started are reported with StatusAbsent.
type StageState struct {
	DreamID       string
	Stage         Stage
	Status        lifecycle.Status
	Artifact      string
	MetadataJSON  string
	ErrorMessage  string
	GeneratedAt   *time.Time
	Attempts      int
	UpdatedAt     time.Time
	LastHeartbeat *time.Time
}

// StageOutcome carries the values written by a stage transition.
type StageOutcome struct {
	Artifact     string
	MetadataJSON string
	Reason       string
}

// SegmentMark carries the values written by a segment transition. Expect
// narrows the accepted previous status below what the machine allows.
type SegmentMark struct {
	Transcript string
	Reason     string
	Expect     lifecycle.Status
}

// CheckIn is a user's periodic mood entry with an asynchronously generated
// insight.
type CheckIn struct {
	ID                  string
	UserID              string
	Text                string
	MoodScores          map[string]float64
	InsightStatus       lifecycle.Status
	InsightText         string
	InsightType         string
	InsightVersion      int
	ContextMetadataJSON string
	ErrorMessage        string
	RetryCount          int
	GeneratedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastHeartbeat       *time.Time
}

// InsightOutcome carries the values written by a check-in transition.
type InsightOutcome struct {
	Text                string
	Type                string
	Version             int
	ContextMetadataJSON string
	Reason              string
	// MaxAttempts bounds EventStart: when positive the claim only succeeds
	// while retry_count is below it.
	MaxAttempts int
}

// Answer records the user's reply to one interpretation question.
type Answer struct {
	DreamID       string
	QuestionIndex int
	ChoiceIndex   *int
	CustomAnswer  string
	CreatedAt     time.Time
}

// DreamSummary holds per-user counters derived from summarized dreams.
type DreamSummary struct {
	UserID               string
	DreamCount           int
	TotalDurationSeconds float64
	LastDreamAt          *time.Time
	ThemeKeywords        map[string]int
	UpdatedAt            time.Time
}

// UserProfile is the archetype snapshot derived from a DreamSummary.
type UserProfile struct {
	UserID     string
	Archetype  string
	Confidence float64
	TopThemes  []string
	UpdatedAt  time.Time
}

// SummarizedDream is a dream with a completed summary, used for profile
// recomputation.
type SummarizedDream struct {
	DreamID         string
	CreatedAt       time.Time
	Summary         string
	DurationSeconds float64
}

// AnalysedDream pairs a dream with its completed analysis text.
type AnalysedDream struct {
	Dream    Dream
	Analysis string
}

// AbandonReport lists what AbandonStale moved to failed.
type AbandonReport struct {
	SegmentDreamIDs []string
	StageDreamIDs   []string
	CheckInIDs      []string
}

// DreamIDs returns the distinct dreams touched by the report.
func (r AbandonReport) DreamIDs() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{r.SegmentDreamIDs, r.StageDreamIDs} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Empty reports whether nothing was abandoned.
func (r AbandonReport) Empty() bool {
	return len(r.SegmentDreamIDs) == 0 && len(r.StageDreamIDs) == 0 && len(r.CheckInIDs) == 0
}

// Stats counts entities per lifecycle status.
type Stats struct {
	Dreams   int
	Segments map[lifecycle.Status]int
	Stages   map[lifecycle.Status]int
	CheckIns map[lifecycle.Status]int
}
