package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"reverie/internal/services"
)

// NewDream describes a dream to create. An empty ID is generated.
type NewDream struct {
	ID             string
	UserID         string
	Title          string
	AdditionalInfo string
}

// CreateDream inserts a draft dream.
func (s *Store) CreateDream(ctx context.Context, in NewDream) (*Dream, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, services.Wrap(services.ErrValidation, "store", "create dream", "user id is required", nil)
	}
	existing, err := s.GetDream(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, services.Wrap(services.ErrAlreadyExists, "store", "create dream", "dream "+id+" already exists", nil)
	}

	ts := s.timestamp()
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO dreams (id, user_id, title, state, transcript, additional_info, created_at, updated_at)
         VALUES (?, ?, ?, ?, '', ?, ?, ?)`,
		id,
		userID,
		strings.TrimSpace(in.Title),
		DreamDraft,
		nullableString(strings.TrimSpace(in.AdditionalInfo)),
		ts,
		ts,
	); err != nil {
		return nil, fmt.Errorf("insert dream: %w", err)
	}
	return s.GetDream(ctx, id)
}

// GetDream fetches a dream by identifier. A missing dream returns nil, nil.
func (s *Store) GetDream(ctx context.Context, id string) (*Dream, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+dreamColumns+` FROM dreams WHERE id = ?`, id)
	dream, err := scanDream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dream: %w", err)
	}
	return dream, nil
}

// MustGetDream is GetDream that reports a missing dream as ErrNotFound.
func (s *Store) MustGetDream(ctx context.Context, id string) (*Dream, error) {
	dream, err := s.GetDream(ctx, id)
	if err != nil {
		return nil, err
	}
	if dream == nil {
		return nil, services.Wrap(services.ErrNotFound, "store", "get dream", "dream "+id, nil)
	}
	return dream, nil
}

// ListDreams returns the dreams of userID, newest first. An empty userID
// lists every dream.
func (s *Store) ListDreams(ctx context.Context, userID string) ([]*Dream, error) {
	query := `SELECT ` + dreamColumns + ` FROM dreams`
	var args []any
	if userID = strings.TrimSpace(userID); userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dreams: %w", err)
	}
	defer rows.Close()

	var dreams []*Dream
	for rows.Next() {
		dream, err := scanDream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dream: %w", err)
		}
		dreams = append(dreams, dream)
	}
	return dreams, rows.Err()
}

// SetTranscript stores the consolidated transcript. It only writes when the
// text changed or the dream was never consolidated, and reports whether a
// write happened.
func (s *Store) SetTranscript(ctx context.Context, dreamID, transcript string) (bool, error) {
	ts := s.timestamp()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE dreams SET transcript = ?, consolidated_at = ?, updated_at = ?
         WHERE id = ? AND (transcript <> ? OR consolidated_at IS NULL)`,
		transcript,
		ts,
		ts,
		dreamID,
		transcript,
	)
	if err != nil {
		return false, fmt.Errorf("set transcript: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set transcript rows: %w", err)
	}
	return affected > 0, nil
}

// SetTitleIfEmpty fills in a generated title without overwriting one the
// user chose.
func (s *Store) SetTitleIfEmpty(ctx context.Context, dreamID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE dreams SET title = ?, updated_at = ? WHERE id = ? AND TRIM(title) = ''`,
		title,
		s.timestamp(),
		dreamID,
	); err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	return nil
}

// SetAdditionalInfo replaces the free-text context of a dream.
func (s *Store) SetAdditionalInfo(ctx context.Context, dreamID, info string) error {
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE dreams SET additional_info = ?, updated_at = ? WHERE id = ?`,
		nullableString(strings.TrimSpace(info)),
		s.timestamp(),
		dreamID,
	); err != nil {
		return fmt.Errorf("set additional info: %w", err)
	}
	return nil
}

// SetDreamState records whether the user finished the dream.
func (s *Store) SetDreamState(ctx context.Context, dreamID string, state DreamState) error {
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE dreams SET state = ?, updated_at = ? WHERE id = ?`,
		state,
		s.timestamp(),
		dreamID,
	); err != nil {
		return fmt.Errorf("set dream state: %w", err)
	}
	return nil
}

// DeleteDream removes a dream; segments, stages and answers cascade.
func (s *Store) DeleteDream(ctx context.Context, dreamID string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM dreams WHERE id = ?`, dreamID)
	if err != nil {
		return false, fmt.Errorf("delete dream: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RecentAnalysedDreams returns up to limit dreams of userID whose analysis
// stage completed, newest first.
func (s *Store) RecentAnalysedDreams(ctx context.Context, userID string, limit int) ([]AnalysedDream, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT d.id, d.user_id, d.title, d.state, d.transcript, d.additional_info,
                d.created_at, d.updated_at, d.consolidated_at, st.artifact
         FROM dreams d
         JOIN dream_stages st ON st.dream_id = d.id AND st.stage = ? AND st.status = 'completed'
         WHERE d.user_id = ?
         ORDER BY d.created_at DESC
         LIMIT ?`,
		StageAnalysis,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent analysed dreams: %w", err)
	}
	defer rows.Close()

	var out []AnalysedDream
	for rows.Next() {
		var (
			d              Dream
			state          string
			additionalInfo sql.NullString
			createdRaw     sql.NullString
			updatedRaw     sql.NullString
			consolidated   sql.NullString
			analysis       sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.Title, &state, &d.Transcript, &additionalInfo,
			&createdRaw, &updatedRaw, &consolidated, &analysis); err != nil {
			return nil, fmt.Errorf("scan analysed dream: %w", err)
		}
		d.State = DreamState(state)
		d.AdditionalInfo = additionalInfo.String
		d.CreatedAt = parseTime(createdRaw)
		d.UpdatedAt = parseTime(updatedRaw)
		d.ConsolidatedAt = parseTimePtr(consolidated)
		out = append(out, AnalysedDream{Dream: d, Analysis: analysis.String})
	}
	return out, rows.Err()
}
