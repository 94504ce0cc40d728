package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"reverie/internal/lifecycle"
	"reverie/internal/services"
)

// NewCheckIn describes a check-in to create.
type NewCheckIn struct {
	UserID     string
	Text       string
	MoodScores map[string]float64
}

// CreateCheckIn inserts a check-in whose insight is pending.
func (s *Store) CreateCheckIn(ctx context.Context, in NewCheckIn) (*CheckIn, error) {
	userID := strings.TrimSpace(in.UserID)
	text := strings.TrimSpace(in.Text)
	if userID == "" {
		return nil, services.Wrap(services.ErrValidation, "store", "create checkin", "user id is required", nil)
	}
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, "store", "create checkin", "check-in text is required", nil)
	}
	var mood string
	if len(in.MoodScores) > 0 {
		encoded, err := marshalJSON(in.MoodScores)
		if err != nil {
			return nil, fmt.Errorf("encode mood scores: %w", err)
		}
		mood = encoded
	}

	id := uuid.NewString()
	ts := s.timestamp()
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO checkins (id, user_id, checkin_text, mood_scores_json, insight_status, retry_count, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		id,
		userID,
		text,
		nullableString(mood),
		lifecycle.StatusPending,
		ts,
		ts,
	); err != nil {
		return nil, fmt.Errorf("insert checkin: %w", err)
	}
	return s.GetCheckIn(ctx, id)
}

// GetCheckIn fetches a check-in by identifier. A missing check-in returns nil, nil.
func (s *Store) GetCheckIn(ctx context.Context, id string) (*CheckIn, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+checkInColumns+` FROM checkins WHERE id = ?`, id)
	c, err := scanCheckIn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkin: %w", err)
	}
	return c, nil
}

// ListCheckIns returns the check-ins of userID, newest first. An empty
// userID lists every check-in.
func (s *Store) ListCheckIns(ctx context.Context, userID string) ([]*CheckIn, error) {
	query := `SELECT ` + checkInColumns + ` FROM checkins`
	var args []any
	if userID = strings.TrimSpace(userID); userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id`
	return s.queryCheckIns(ctx, query, args...)
}

// RetryableCheckIns lists check-ins whose insight is pending, or failed
// with retry budget left under ceiling.
func (s *Store) RetryableCheckIns(ctx context.Context, ceiling, limit int) ([]*CheckIn, error) {
	if limit <= 0 {
		limit = 1
	}
	return s.queryCheckIns(ctx,
		`SELECT `+checkInColumns+` FROM checkins
         WHERE insight_status = ? OR (insight_status = ? AND retry_count < ?)
         ORDER BY updated_at ASC LIMIT ?`,
		lifecycle.StatusPending,
		lifecycle.StatusFailed,
		ceiling,
		limit,
	)
}

func (s *Store) queryCheckIns(ctx context.Context, query string, args ...any) ([]*CheckIn, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query checkins: %w", err)
	}
	defer rows.Close()

	var out []*CheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkin: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TransitionCheckIn applies ev to a check-in's insight status with the same
// conditional update used for segments. Failed and abandoned attempts count
// toward retry_count. A start with out.MaxAttempts set is refused once
// retry_count reaches it, in the same statement that claims the row.
func (s *Store) TransitionCheckIn(ctx context.Context, id string, ev lifecycle.Event, out InsightOutcome) (*CheckIn, error) {
	machine := lifecycle.CheckIns
	to, ok := machine.Target(ev)
	if !ok {
		return nil, &lifecycle.TransitionError{Machine: machine.Name(), Event: ev}
	}
	sources := machine.Sources(ev)

	ts := s.timestamp()
	var (
		set  string
		args []any
	)
	switch ev {
	case lifecycle.EventStart:
		set = `insight_status = ?, error_message = NULL, last_heartbeat = ?, updated_at = ?`
		args = []any{to, ts, ts}
	case lifecycle.EventSucceed:
		version := out.Version
		if version <= 0 {
			version = 1
		}
		set = `insight_status = ?, insight_text = ?, insight_type = ?, insight_version = ?, context_metadata_json = ?,
               error_message = NULL, generated_at = ?, last_heartbeat = NULL, updated_at = ?`
		args = []any{to, out.Text, nullableString(out.Type), version, nullableString(out.ContextMetadataJSON), ts, ts}
	case lifecycle.EventFail, lifecycle.EventAbandon:
		reason := strings.TrimSpace(out.Reason)
		if reason == "" {
			reason = "insight generation failed"
		}
		set = `insight_status = ?, error_message = ?, retry_count = retry_count + 1, last_heartbeat = NULL, updated_at = ?`
		args = []any{to, reason, ts}
	default:
		return nil, &lifecycle.TransitionError{Machine: machine.Name(), Event: ev}
	}

	where := `id = ? AND insight_status IN (` + makePlaceholders(len(sources)) + `)`
	args = append(args, id)
	args = append(args, statusArgs(sources)...)
	if ev == lifecycle.EventStart && out.MaxAttempts > 0 {
		where += ` AND retry_count < ?`
		args = append(args, out.MaxAttempts)
	}
	res, err := s.execWithRetry(ctx, `UPDATE checkins SET `+set+` WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("transition checkin %s: %w", ev, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("transition checkin rows: %w", err)
	}

	current, err := s.GetCheckIn(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, services.Wrap(services.ErrNotFound, "store", "transition checkin", "checkin "+id, nil)
	}
	if affected == 0 {
		return current, &lifecycle.TransitionError{Machine: machine.Name(), From: current.InsightStatus, Event: ev}
	}
	return current, nil
}

// CheckInHeartbeat refreshes the heartbeat of a processing check-in.
func (s *Store) CheckInHeartbeat(ctx context.Context, id string) error {
	ts := s.timestamp()
	if _, err := s.execWithRetry(ctx,
		`UPDATE checkins SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND insight_status = ?`,
		ts, ts, id, lifecycle.StatusProcessing,
	); err != nil {
		return fmt.Errorf("checkin heartbeat: %w", err)
	}
	return nil
}
