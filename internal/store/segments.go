package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"reverie/internal/lifecycle"
	"reverie/internal/services"
)

// NewSegment describes a segment to add to a dream. Text segments carry
// their content inline and are stored already transcribed; audio segments
// reference a file and start pending.
type NewSegment struct {
	DreamID         string
	Order           int
	Modality        Modality
	ContentRef      string
	ContentText     string
	DurationSeconds float64
}

// AddSegment appends a segment to a dream. It fails with ErrNotFound when the
// dream is absent and ErrDuplicateOrder when the order is taken.
func (s *Store) AddSegment(ctx context.Context, in NewSegment) (*Segment, error) {
	if in.Order < 0 {
		return nil, services.Wrap(services.ErrValidation, "store", "add segment", "order must be >= 0", nil)
	}
	var (
		status     = lifecycle.StatusPending
		transcript any
	)
	switch in.Modality {
	case ModalityText:
		text := strings.TrimSpace(in.ContentText)
		if text == "" {
			return nil, services.Wrap(services.ErrValidation, "store", "add segment", "text segment requires content", nil)
		}
		in.ContentText = text
		status = lifecycle.StatusCompleted
		transcript = text
	case ModalityAudio:
		if strings.TrimSpace(in.ContentRef) == "" {
			return nil, services.Wrap(services.ErrValidation, "store", "add segment", "audio segment requires a content reference", nil)
		}
	default:
		return nil, services.Wrap(services.ErrValidation, "store", "add segment", fmt.Sprintf("unknown modality %q", in.Modality), nil)
	}

	dream, err := s.GetDream(ctx, in.DreamID)
	if err != nil {
		return nil, err
	}
	if dream == nil {
		return nil, services.Wrap(services.ErrNotFound, "store", "add segment", "dream "+in.DreamID, nil)
	}

	id := uuid.NewString()
	ts := s.timestamp()
	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO segments (
            id, dream_id, seg_order, modality, content_ref, content_text, duration_seconds,
            transcript, status, attempts, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id,
		in.DreamID,
		in.Order,
		in.Modality,
		nullableString(strings.TrimSpace(in.ContentRef)),
		nullableString(in.ContentText),
		in.DurationSeconds,
		transcript,
		status,
		ts,
		ts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrDuplicateOrder, "store", "add segment",
				fmt.Sprintf("order %d already exists for dream %s", in.Order, in.DreamID), nil)
		}
		return nil, fmt.Errorf("insert segment: %w", err)
	}
	return s.GetSegment(ctx, id)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetSegment fetches a segment by identifier. A missing segment returns nil, nil.
func (s *Store) GetSegment(ctx context.Context, id string) (*Segment, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+segmentColumns+` FROM segments WHERE id = ?`, id)
	seg, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return seg, nil
}

// ListSegments returns the segments of a dream ordered by order ascending.
func (s *Store) ListSegments(ctx context.Context, dreamID string) ([]*Segment, error) {
	return s.querySegments(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE dream_id = ? ORDER BY seg_order ASC`,
		dreamID,
	)
}

// PendingSegments returns up to limit pending segments, oldest first.
func (s *Store) PendingSegments(ctx context.Context, limit int) ([]*Segment, error) {
	if limit <= 0 {
		limit = 1
	}
	return s.querySegments(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE status = ? ORDER BY created_at ASC, seg_order ASC LIMIT ?`,
		lifecycle.StatusPending,
		limit,
	)
}

func (s *Store) querySegments(ctx context.Context, query string, args ...any) ([]*Segment, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segments []*Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// DeleteSegment removes a segment that is not being transcribed. It returns
// the removed segment.
func (s *Store) DeleteSegment(ctx context.Context, dreamID, segmentID string) (*Segment, error) {
	seg, err := s.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	if seg == nil || seg.DreamID != dreamID {
		return nil, services.Wrap(services.ErrNotFound, "store", "delete segment", "segment "+segmentID, nil)
	}
	res, err := s.execWithRetry(ctx,
		`DELETE FROM segments WHERE id = ? AND dream_id = ? AND status <> ?`,
		segmentID, dreamID, lifecycle.StatusProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("delete segment: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, services.Wrap(services.ErrAlreadyInProgress, "store", "delete segment", "segment is being transcribed", nil)
	}
	return seg, nil
}

// MarkSegmentStatus is the only mutation path for transcription_status. The
// update is conditional on the previous status the segment machine accepts
// for ev (or mark.Expect when set), so concurrent workers cannot downgrade a
// completed segment.
func (s *Store) MarkSegmentStatus(ctx context.Context, segmentID string, ev lifecycle.Event, mark SegmentMark) (*Segment, error) {
	machine := lifecycle.Segments
	to, ok := machine.Target(ev)
	if !ok {
		return nil, &lifecycle.TransitionError{Machine: machine.Name(), Event: ev}
	}
	sources := machine.Sources(ev)
	if mark.Expect != "" {
		if !slices.Contains(sources, mark.Expect) {
			return nil, &lifecycle.TransitionError{Machine: machine.Name(), From: mark.Expect, Event: ev}
		}
		sources = []lifecycle.Status{mark.Expect}
	}

	ts := s.timestamp()
	var (
		set  string
		args []any
	)
	switch ev {
	case lifecycle.EventStart:
		set = `status = ?, attempts = attempts + 1, failure_reason = NULL, last_heartbeat = ?, updated_at = ?`
		args = []any{to, ts, ts}
	case lifecycle.EventSucceed:
		set = `status = ?, transcript = ?, failure_reason = NULL, last_heartbeat = NULL, updated_at = ?`
		args = []any{to, mark.Transcript, ts}
	case lifecycle.EventFail, lifecycle.EventAbandon:
		reason := strings.TrimSpace(mark.Reason)
		if reason == "" {
			reason = "transcription failed"
		}
		set = `status = ?, transcript = NULL, failure_reason = ?, last_heartbeat = NULL, updated_at = ?`
		args = []any{to, reason, ts}
	case lifecycle.EventRequeue:
		set = `status = ?, transcript = NULL, failure_reason = NULL, last_heartbeat = NULL, updated_at = ?`
		args = []any{to, ts}
	default:
		return nil, &lifecycle.TransitionError{Machine: machine.Name(), Event: ev}
	}

	args = append(args, segmentID)
	args = append(args, statusArgs(sources)...)
	res, err := s.execWithRetry(ctx,
		`UPDATE segments SET `+set+` WHERE id = ? AND status IN (`+makePlaceholders(len(sources))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("mark segment %s: %w", ev, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("mark segment rows: %w", err)
	}

	seg, err := s.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		return nil, services.Wrap(services.ErrNotFound, "store", "mark segment", "segment "+segmentID, nil)
	}
	if affected == 0 {
		return seg, &lifecycle.TransitionError{Machine: machine.Name(), From: seg.Status, Event: ev}
	}
	return seg, nil
}

// SegmentHeartbeat refreshes the heartbeat of a processing segment.
func (s *Store) SegmentHeartbeat(ctx context.Context, segmentID string) error {
	ts := s.timestamp()
	if _, err := s.execWithRetry(ctx,
		`UPDATE segments SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		ts, ts, segmentID, lifecycle.StatusProcessing,
	); err != nil {
		return fmt.Errorf("segment heartbeat: %w", err)
	}
	return nil
}

// TotalDuration sums the recorded durations of a dream's segments.
func (s *Store) TotalDuration(ctx context.Context, dreamID string) (time.Duration, error) {
	var seconds float64
	if err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COALESCE(SUM(duration_seconds), 0) FROM segments WHERE dream_id = ?`, dreamID,
	).Scan(&seconds); err != nil {
		return 0, fmt.Errorf("total duration: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
