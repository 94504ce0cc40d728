package api

import (
	"encoding/json"
	"time"

	"reverie/internal/pipeline"
	"reverie/internal/profile"
	"reverie/internal/store"
	"reverie/internal/workflow"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// FromDream converts a dream record without segments or stages.
func FromDream(d *store.Dream) Dream {
	if d == nil {
		return Dream{}
	}
	return Dream{
		ID:             d.ID,
		UserID:         d.UserID,
		Title:          d.Title,
		State:          string(d.State),
		Transcript:     d.Transcript,
		AdditionalInfo: d.AdditionalInfo,
		CreatedAt:      formatTime(d.CreatedAt),
		UpdatedAt:      formatTime(d.UpdatedAt),
		ConsolidatedAt: formatTimePtr(d.ConsolidatedAt),
	}
}

// FromDreamView converts a full dream view.
func FromDreamView(view *pipeline.DreamView) Dream {
	if view == nil {
		return Dream{}
	}
	dto := FromDream(view.Dream)
	for _, seg := range view.Segments {
		dto.Segments = append(dto.Segments, FromSegment(seg))
	}
	for _, st := range view.Stages {
		dto.Stages = append(dto.Stages, FromStage(st))
	}
	return dto
}

// FromSegment converts a segment record.
func FromSegment(seg *store.Segment) Segment {
	if seg == nil {
		return Segment{}
	}
	return Segment{
		ID:              seg.ID,
		DreamID:         seg.DreamID,
		Order:           seg.Order,
		Modality:        string(seg.Modality),
		ContentRef:      seg.ContentRef,
		DurationSeconds: seg.DurationSeconds,
		Transcript:      seg.Transcript,
		Status:          string(seg.Status),
		FailureReason:   seg.FailureReason,
		Attempts:        seg.Attempts,
	}
}

// FromStage converts a stage state.
func FromStage(st *store.StageState) Stage {
	if st == nil {
		return Stage{}
	}
	dto := Stage{
		Name:         string(st.Stage),
		Status:       string(st.Status),
		Artifact:     st.Artifact,
		ErrorMessage: st.ErrorMessage,
		GeneratedAt:  formatTimePtr(st.GeneratedAt),
		Attempts:     st.Attempts,
	}
	if raw := st.MetadataJSON; raw != "" && json.Valid([]byte(raw)) {
		dto.Metadata = json.RawMessage(raw)
	}
	return dto
}

// FromAnswer converts a stored answer.
func FromAnswer(a *store.Answer) Answer {
	if a == nil {
		return Answer{}
	}
	return Answer{
		DreamID:       a.DreamID,
		QuestionIndex: a.QuestionIndex,
		ChoiceIndex:   a.ChoiceIndex,
		CustomAnswer:  a.CustomAnswer,
	}
}

// FromCheckIn converts a check-in record.
func FromCheckIn(c *store.CheckIn) CheckIn {
	if c == nil {
		return CheckIn{}
	}
	return CheckIn{
		ID:             c.ID,
		UserID:         c.UserID,
		Text:           c.Text,
		MoodScores:     c.MoodScores,
		InsightStatus:  string(c.InsightStatus),
		InsightText:    c.InsightText,
		InsightType:    c.InsightType,
		InsightVersion: c.InsightVersion,
		ErrorMessage:   c.ErrorMessage,
		RetryCount:     c.RetryCount,
		GeneratedAt:    formatTimePtr(c.GeneratedAt),
		CreatedAt:      formatTime(c.CreatedAt),
	}
}

// FromProfile converts a profile snapshot.
func FromProfile(snap profile.Snapshot) Profile {
	var dto Profile
	if sum := snap.Summary; sum != nil {
		dto.UserID = sum.UserID
		dto.DreamCount = sum.DreamCount
		dto.TotalDurationSeconds = sum.TotalDurationSeconds
		dto.LastDreamAt = formatTimePtr(sum.LastDreamAt)
		dto.ThemeKeywords = sum.ThemeKeywords
	}
	if p := snap.Profile; p != nil {
		dto.UserID = p.UserID
		dto.Archetype = p.Archetype
		dto.Confidence = p.Confidence
		dto.TopThemes = p.TopThemes
	}
	return dto
}

// FromRecovery converts a pipeline recovery report.
func FromRecovery(r pipeline.RecoveryReport) RecoveryReport {
	return RecoveryReport{
		DreamID:     r.DreamID,
		Success:     r.Success,
		Method:      r.Method,
		Message:     r.Message,
		Diagnostics: r.Diagnostics,
	}
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:      summary.Running,
		LastError:    summary.LastError,
		LastActivity: formatTime(summary.LastActivity),
		Dreams:       summary.Stats.Dreams,
		Counts: map[string]map[string]int{
			"segments": statusCounts(summary.Stats.Segments),
			"stages":   statusCounts(summary.Stats.Stages),
			"checkins": statusCounts(summary.Stats.CheckIns),
		},
		Lanes: make([]LaneStatus, 0, len(summary.Lanes)),
	}
	for _, lane := range summary.Lanes {
		wf.Lanes = append(wf.Lanes, LaneStatus{
			Name:      lane.Name,
			LastRun:   formatTime(lane.LastRun),
			LastError: lane.LastError,
			Processed: lane.Processed,
		})
	}
	return wf
}

func statusCounts[K ~string](counts map[K]int) map[string]int {
	out := make(map[string]int, len(counts))
	for status, count := range counts {
		out[string(status)] = count
	}
	return out
}
