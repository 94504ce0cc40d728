package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"reverie/internal/services"
)

// RecordAnswer stores (or replaces) the answer to one interpretation
// question. Exactly one of choiceIndex and custom must be set.
func (s *Store) RecordAnswer(ctx context.Context, dreamID string, questionIndex int, choiceIndex *int, custom string) (*Answer, error) {
	custom = strings.TrimSpace(custom)
	if questionIndex < 0 {
		return nil, services.Wrap(services.ErrValidation, "store", "record answer", "question index must be >= 0", nil)
	}
	if (choiceIndex == nil) == (custom == "") {
		return nil, services.Wrap(services.ErrValidation, "store", "record answer", "provide either a choice or a custom answer", nil)
	}
	if choiceIndex != nil && *choiceIndex < 0 {
		return nil, services.Wrap(services.ErrValidation, "store", "record answer", "choice index must be >= 0", nil)
	}
	if _, err := s.MustGetDream(ctx, dreamID); err != nil {
		return nil, err
	}

	var choice any
	if choiceIndex != nil {
		choice = *choiceIndex
	}
	ts := s.timestamp()
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO question_answers (dream_id, question_index, choice_index, custom_answer, created_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (dream_id, question_index) DO UPDATE SET
             choice_index = excluded.choice_index,
             custom_answer = excluded.custom_answer,
             created_at = excluded.created_at`,
		dreamID,
		questionIndex,
		choice,
		nullableString(custom),
		ts,
	); err != nil {
		return nil, fmt.Errorf("record answer: %w", err)
	}
	return &Answer{
		DreamID:       dreamID,
		QuestionIndex: questionIndex,
		ChoiceIndex:   choiceIndex,
		CustomAnswer:  custom,
		CreatedAt:     parseTime(sql.NullString{String: ts, Valid: true}),
	}, nil
}

// ListAnswers returns a dream's answers by question index.
func (s *Store) ListAnswers(ctx context.Context, dreamID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT dream_id, question_index, choice_index, custom_answer, created_at
         FROM question_answers WHERE dream_id = ? ORDER BY question_index ASC`,
		dreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var out []Answer
	for rows.Next() {
		var (
			a       Answer
			choice  sql.NullInt64
			custom  sql.NullString
			created sql.NullString
		)
		if err := rows.Scan(&a.DreamID, &a.QuestionIndex, &choice, &custom, &created); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		if choice.Valid {
			idx := int(choice.Int64)
			a.ChoiceIndex = &idx
		}
		a.CustomAnswer = custom.String
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SummarizedDreams returns every dream of userID with a completed summary,
// oldest first, with the total duration of its segments.
func (s *Store) SummarizedDreams(ctx context.Context, userID string) ([]SummarizedDream, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT d.id, d.created_at, st.artifact,
                (SELECT COALESCE(SUM(duration_seconds), 0) FROM segments WHERE dream_id = d.id)
         FROM dreams d
         JOIN dream_stages st ON st.dream_id = d.id AND st.stage = ? AND st.status = 'completed'
         WHERE d.user_id = ?
         ORDER BY d.created_at ASC`,
		StageSummary,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("summarized dreams: %w", err)
	}
	defer rows.Close()

	var out []SummarizedDream
	for rows.Next() {
		var (
			d       SummarizedDream
			created sql.NullString
			summary sql.NullString
		)
		if err := rows.Scan(&d.DreamID, &created, &summary, &d.DurationSeconds); err != nil {
			return nil, fmt.Errorf("scan summarized dream: %w", err)
		}
		d.CreatedAt = parseTime(created)
		d.Summary = summary.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertDreamSummary replaces the per-user counters.
func (s *Store) UpsertDreamSummary(ctx context.Context, sum DreamSummary) error {
	keywords, err := marshalJSON(sum.ThemeKeywords)
	if err != nil {
		return fmt.Errorf("encode theme keywords: %w", err)
	}
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO dream_summaries (user_id, dream_count, total_duration_seconds, last_dream_at, theme_keywords_json, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT (user_id) DO UPDATE SET
             dream_count = excluded.dream_count,
             total_duration_seconds = excluded.total_duration_seconds,
             last_dream_at = excluded.last_dream_at,
             theme_keywords_json = excluded.theme_keywords_json,
             updated_at = excluded.updated_at`,
		sum.UserID,
		sum.DreamCount,
		sum.TotalDurationSeconds,
		nullableTime(sum.LastDreamAt),
		nullableString(keywords),
		s.timestamp(),
	); err != nil {
		return fmt.Errorf("upsert dream summary: %w", err)
	}
	return nil
}

// GetDreamSummary returns nil, nil when the user has no summary yet.
func (s *Store) GetDreamSummary(ctx context.Context, userID string) (*DreamSummary, error) {
	var (
		sum      DreamSummary
		last     sql.NullString
		keywords sql.NullString
		updated  sql.NullString
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT user_id, dream_count, total_duration_seconds, last_dream_at, theme_keywords_json, updated_at
         FROM dream_summaries WHERE user_id = ?`,
		userID,
	).Scan(&sum.UserID, &sum.DreamCount, &sum.TotalDurationSeconds, &last, &keywords, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dream summary: %w", err)
	}
	sum.LastDreamAt = parseTimePtr(last)
	sum.ThemeKeywords = unmarshalJSON[map[string]int](keywords)
	sum.UpdatedAt = parseTime(updated)
	return &sum, nil
}

// UpsertProfile replaces the archetype snapshot of a user.
func (s *Store) UpsertProfile(ctx context.Context, p UserProfile) error {
	themes, err := marshalJSON(p.TopThemes)
	if err != nil {
		return fmt.Errorf("encode top themes: %w", err)
	}
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO user_profiles (user_id, archetype, confidence, top_themes_json, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (user_id) DO UPDATE SET
             archetype = excluded.archetype,
             confidence = excluded.confidence,
             top_themes_json = excluded.top_themes_json,
             updated_at = excluded.updated_at`,
		p.UserID,
		p.Archetype,
		p.Confidence,
		nullableString(themes),
		s.timestamp(),
	); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// GetProfile returns nil, nil when no profile was computed for userID.
func (s *Store) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var (
		p       UserProfile
		themes  sql.NullString
		updated sql.NullString
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT user_id, archetype, confidence, top_themes_json, updated_at FROM user_profiles WHERE user_id = ?`,
		userID,
	).Scan(&p.UserID, &p.Archetype, &p.Confidence, &themes, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.TopThemes = unmarshalJSON[[]string](themes)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}
