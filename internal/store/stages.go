package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"reverie/internal/lifecycle"
	"reverie/internal/services"
)

// GetStage returns the state of one stage. Stages never started come back
// with StatusAbsent; a missing dream returns nil, nil.
func (s *Store) GetStage(ctx context.Context, dreamID string, stage Stage) (*StageState, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+stageColumns+` FROM dream_stages WHERE dream_id = ? AND stage = ?`,
		dreamID, stage,
	)
	st, err := scanStage(row)
	if errors.Is(err, sql.ErrNoRows) {
		dream, derr := s.GetDream(ctx, dreamID)
		if derr != nil {
			return nil, derr
		}
		if dream == nil {
			return nil, nil
		}
		return &StageState{DreamID: dreamID, Stage: stage, Status: lifecycle.StatusAbsent}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stage: %w", err)
	}
	return st, nil
}

// ListStages returns every stage of a dream in AllStages order, filling in
// absent ones.
func (s *Store) ListStages(ctx context.Context, dreamID string) ([]*StageState, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+stageColumns+` FROM dream_stages WHERE dream_id = ?`, dreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	found := make(map[Stage]*StageState, len(AllStages))
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		found[st.Stage] = st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*StageState, 0, len(AllStages))
	for _, stage := range AllStages {
		if st, ok := found[stage]; ok {
			out = append(out, st)
			continue
		}
		out = append(out, &StageState{DreamID: dreamID, Stage: stage, Status: lifecycle.StatusAbsent})
	}
	return out, nil
}

// TransitionStage applies ev to a (dream, stage) pair as one conditional
// statement keyed on the statuses the stage machine accepts. Entering
// processing additionally requires a non-empty transcript. When the update
// loses, the error is ErrNotFound, ErrNoTranscript, or a TransitionError
// carrying the status that blocked it.
func (s *Store) TransitionStage(ctx context.Context, dreamID string, stage Stage, ev lifecycle.Event, out StageOutcome) (*StageState, error) {
	machine := lifecycle.Stages
	to, ok := machine.Target(ev)
	if !ok {
		return nil, &lifecycle.TransitionError{Machine: machine.Name(), Event: ev}
	}
	sources := machine.Sources(ev)
	rowSources := slices.DeleteFunc(slices.Clone(sources), func(st lifecycle.Status) bool {
		return st == lifecycle.StatusAbsent
	})
	fromAbsent := len(rowSources) < len(sources)
	starting := to == lifecycle.StatusProcessing

	ts := s.timestamp()
	var (
		set     string
		setArgs []any
		// Column values used when the row does not exist yet.
		insertAttempts  int
		insertHeartbeat any
	)
	switch ev {
	case lifecycle.EventEnqueue:
		set = `status = ?, artifact = NULL, metadata_json = NULL, generated_at = NULL, error_message = NULL, last_heartbeat = NULL, updated_at = ?`
		setArgs = []any{to, ts}
	case lifecycle.EventStart, lifecycle.EventForceStart:
		set = `status = ?, artifact = NULL, metadata_json = NULL, generated_at = NULL, error_message = NULL, attempts = attempts + 1, last_heartbeat = ?, updated_at = ?`
		setArgs = []any{to, ts, ts}
		insertAttempts = 1
		insertHeartbeat = ts
	case lifecycle.EventSucceed:
		set = `status = ?, artifact = ?, metadata_json = ?, generated_at = ?, error_message = NULL, last_heartbeat = NULL, updated_at = ?`
		setArgs = []any{to, out.Artifact, nullableString(out.MetadataJSON), ts, ts}
	case lifecycle.EventFail, lifecycle.EventAbandon:
		reason := strings.TrimSpace(out.Reason)
		if reason == "" {
			reason = "generation failed"
		}
		set = `status = ?, artifact = NULL, generated_at = NULL, error_message = ?, last_heartbeat = NULL, updated_at = ?`
		setArgs = []any{to, reason, ts}
	default:
		return nil, &lifecycle.TransitionError{Machine: machine.Name(), Event: ev}
	}

	guard := ""
	var guardArgs []any
	if starting {
		guard = ` AND EXISTS (SELECT 1 FROM dreams WHERE id = ? AND TRIM(transcript) <> '')`
		guardArgs = []any{dreamID}
	}

	var (
		query string
		args  []any
	)
	if fromAbsent {
		// The SELECT form lets the transcript guard apply to the insert path.
		query = `INSERT INTO dream_stages (dream_id, stage, status, attempts, last_heartbeat, updated_at)
                 SELECT ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM dreams WHERE id = ?` + transcriptClause(starting) + `)
                 ON CONFLICT (dream_id, stage) DO UPDATE SET ` + set + `
                 WHERE dream_stages.status IN (` + makePlaceholders(len(rowSources)) + `)` + guard
		args = append(args, dreamID, stage, to, insertAttempts, insertHeartbeat, ts, dreamID)
		args = append(args, setArgs...)
		args = append(args, statusArgs(rowSources)...)
		args = append(args, guardArgs...)
	} else {
		query = `UPDATE dream_stages SET ` + set + `
                 WHERE dream_id = ? AND stage = ? AND status IN (` + makePlaceholders(len(rowSources)) + `)` + guard
		args = append(args, setArgs...)
		args = append(args, dreamID, stage)
		args = append(args, statusArgs(rowSources)...)
		args = append(args, guardArgs...)
	}

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transition stage %s %s: %w", stage, ev, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("transition stage rows: %w", err)
	}

	current, err := s.GetStage(ctx, dreamID, stage)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, services.Wrap(services.ErrNotFound, string(stage), string(ev), "dream "+dreamID, nil)
	}
	if affected > 0 {
		return current, nil
	}
	if starting && machine.Allows(current.Status, ev) {
		return current, services.Wrap(services.ErrNoTranscript, string(stage), string(ev), "dream "+dreamID+" has no transcript", nil)
	}
	return current, &lifecycle.TransitionError{Machine: machine.Name(), From: current.Status, Event: ev}
}

func transcriptClause(starting bool) string {
	if starting {
		return ` AND TRIM(transcript) <> ''`
	}
	return ""
}

// StageHeartbeat refreshes the heartbeat of a processing stage.
func (s *Store) StageHeartbeat(ctx context.Context, dreamID string, stage Stage) error {
	ts := s.timestamp()
	if _, err := s.execWithRetry(ctx,
		`UPDATE dream_stages SET last_heartbeat = ?, updated_at = ? WHERE dream_id = ? AND stage = ? AND status = ?`,
		ts, ts, dreamID, stage, lifecycle.StatusProcessing,
	); err != nil {
		return fmt.Errorf("stage heartbeat: %w", err)
	}
	return nil
}

// PendingStages lists (dream, stage) pairs left in pending, oldest first.
func (s *Store) PendingStages(ctx context.Context, limit int) ([]*StageState, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+stageColumns+` FROM dream_stages WHERE status = ? ORDER BY updated_at ASC LIMIT ?`,
		lifecycle.StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pending stages: %w", err)
	}
	defer rows.Close()

	var out []*StageState
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
