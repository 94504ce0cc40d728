package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"reverie/internal/lifecycle"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type scanner interface{ Scan(dest ...any) error }

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseTime(raw sql.NullString) time.Time {
	t, _ := parseTimeString(raw.String)
	return t
}

func parseTimePtr(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseStatus(raw string) lifecycle.Status {
	status, ok := lifecycle.ParseStatus(raw)
	if !ok {
		return lifecycle.Status(raw)
	}
	return status
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func statusArgs(statuses []lifecycle.Status) []any {
	args := make([]any, 0, len(statuses))
	for _, status := range statuses {
		args = append(args, string(status))
	}
	return args
}

func marshalJSON(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalJSON[T any](raw sql.NullString) T {
	var out T
	if raw.Valid && strings.TrimSpace(raw.String) != "" {
		_ = json.Unmarshal([]byte(raw.String), &out)
	}
	return out
}

const dreamColumns = "id, user_id, title, state, transcript, additional_info, created_at, updated_at, consolidated_at"

func scanDream(row scanner) (*Dream, error) {
	var (
		d              Dream
		state          string
		additionalInfo sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
		consolidated   sql.NullString
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.Title, &state, &d.Transcript, &additionalInfo, &createdRaw, &updatedRaw, &consolidated); err != nil {
		return nil, err
	}
	d.State = DreamState(state)
	d.AdditionalInfo = additionalInfo.String
	d.CreatedAt = parseTime(createdRaw)
	d.UpdatedAt = parseTime(updatedRaw)
	d.ConsolidatedAt = parseTimePtr(consolidated)
	return &d, nil
}

const segmentColumns = "id, dream_id, seg_order, modality, content_ref, content_text, duration_seconds, transcript, status, failure_reason, attempts, created_at, updated_at, last_heartbeat"

func scanSegment(row scanner) (*Segment, error) {
	var (
		seg         Segment
		modality    string
		contentRef  sql.NullString
		contentText sql.NullString
		transcript  sql.NullString
		status      string
		reason      sql.NullString
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
		heartbeat   sql.NullString
	)
	if err := row.Scan(
		&seg.ID, &seg.DreamID, &seg.Order, &modality, &contentRef, &contentText,
		&seg.DurationSeconds, &transcript, &status, &reason, &seg.Attempts,
		&createdRaw, &updatedRaw, &heartbeat,
	); err != nil {
		return nil, err
	}
	seg.Modality = Modality(modality)
	seg.ContentRef = contentRef.String
	seg.ContentText = contentText.String
	seg.Transcript = transcript.String
	seg.Status = parseStatus(status)
	seg.FailureReason = reason.String
	seg.CreatedAt = parseTime(createdRaw)
	seg.UpdatedAt = parseTime(updatedRaw)
	seg.LastHeartbeat = parseTimePtr(heartbeat)
	return &seg, nil
}

const stageColumns = "dream_id, stage, status, artifact, metadata_json, error_message, generated_at, attempts, updated_at, last_heartbeat"

func scanStage(row scanner) (*StageState, error) {
	var (
		st         StageState
		stage      string
		status     string
		artifact   sql.NullString
		metadata   sql.NullString
		errMessage sql.NullString
		generated  sql.NullString
		updatedRaw sql.NullString
		heartbeat  sql.NullString
	)
	if err := row.Scan(&st.DreamID, &stage, &status, &artifact, &metadata, &errMessage, &generated, &st.Attempts, &updatedRaw, &heartbeat); err != nil {
		return nil, err
	}
	st.Stage = Stage(stage)
	st.Status = parseStatus(status)
	st.Artifact = artifact.String
	st.MetadataJSON = metadata.String
	st.ErrorMessage = errMessage.String
	st.GeneratedAt = parseTimePtr(generated)
	st.UpdatedAt = parseTime(updatedRaw)
	st.LastHeartbeat = parseTimePtr(heartbeat)
	return &st, nil
}

const checkInColumns = "id, user_id, checkin_text, mood_scores_json, insight_status, insight_text, insight_type, insight_version, context_metadata_json, error_message, retry_count, generated_at, created_at, updated_at, last_heartbeat"

func scanCheckIn(row scanner) (*CheckIn, error) {
	var (
		c           CheckIn
		moodRaw     sql.NullString
		status      string
		insightText sql.NullString
		insightType sql.NullString
		contextRaw  sql.NullString
		errMessage  sql.NullString
		generated   sql.NullString
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
		heartbeat   sql.NullString
	)
	if err := row.Scan(
		&c.ID, &c.UserID, &c.Text, &moodRaw, &status, &insightText, &insightType,
		&c.InsightVersion, &contextRaw, &errMessage, &c.RetryCount, &generated,
		&createdRaw, &updatedRaw, &heartbeat,
	); err != nil {
		return nil, err
	}
	c.MoodScores = unmarshalJSON[map[string]float64](moodRaw)
	c.InsightStatus = parseStatus(status)
	c.InsightText = insightText.String
	c.InsightType = insightType.String
	c.ContextMetadataJSON = contextRaw.String
	c.ErrorMessage = errMessage.String
	c.GeneratedAt = parseTimePtr(generated)
	c.CreatedAt = parseTime(createdRaw)
	c.UpdatedAt = parseTime(updatedRaw)
	c.LastHeartbeat = parseTimePtr(heartbeat)
	return &c, nil
}
