package store

import (
	"context"
	"fmt"
	"time"

	"reverie/internal/lifecycle"
)

// AbandonStale moves processing segments, stages and check-ins whose
// heartbeat is missing or older than cutoff to failed with reason
// lifecycle.AbandonedReason. A zero cutoff abandons every processing entry,
// which is what startup does with orphans of a previous run.
func (s *Store) AbandonStale(ctx context.Context, cutoff time.Time) (AbandonReport, error) {
	return s.abandonStale(ctx, cutoff, "")
}

// AbandonStaleDream is AbandonStale limited to the segments and stages of one
// dream. Check-ins are left alone.
func (s *Store) AbandonStaleDream(ctx context.Context, dreamID string, cutoff time.Time) (AbandonReport, error) {
	return s.abandonStale(ctx, cutoff, dreamID)
}

func (s *Store) abandonStale(ctx context.Context, cutoff time.Time, dreamID string) (AbandonReport, error) {
	var report AbandonReport
	ts := s.timestamp()
	reason := lifecycle.AbandonedReason

	if cutoff.IsZero() {
		cutoff = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
	}
	where := `(last_heartbeat IS NULL OR last_heartbeat < ?)`
	args := []any{formatTime(cutoff)}
	if dreamID != "" {
		where += ` AND dream_id = ?`
		args = append(args, dreamID)
	}

	segs, err := s.queryStringsWithRetry(ctx,
		`UPDATE segments SET status = ?, transcript = NULL, failure_reason = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND `+where+`
         RETURNING dream_id`,
		append([]any{lifecycle.StatusFailed, reason, ts, lifecycle.StatusProcessing}, args...)...,
	)
	if err != nil {
		return report, fmt.Errorf("abandon segments: %w", err)
	}
	report.SegmentDreamIDs = segs

	stages, err := s.queryStringsWithRetry(ctx,
		`UPDATE dream_stages SET status = ?, artifact = NULL, generated_at = NULL, error_message = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND `+where+`
         RETURNING dream_id`,
		append([]any{lifecycle.StatusFailed, reason, ts, lifecycle.StatusProcessing}, args...)...,
	)
	if err != nil {
		return report, fmt.Errorf("abandon stages: %w", err)
	}
	report.StageDreamIDs = stages
	if dreamID != "" {
		return report, nil
	}

	checkins, err := s.queryStringsWithRetry(ctx,
		`UPDATE checkins SET insight_status = ?, error_message = ?, retry_count = retry_count + 1, last_heartbeat = NULL, updated_at = ?
         WHERE insight_status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)
         RETURNING id`,
		lifecycle.StatusFailed, reason, ts, lifecycle.StatusProcessing, formatTime(cutoff),
	)
	if err != nil {
		return report, fmt.Errorf("abandon checkins: %w", err)
	}
	report.CheckInIDs = checkins
	return report, nil
}

// Stats counts dreams and the status distribution of every lifecycle.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Segments: make(map[lifecycle.Status]int),
		Stages:   make(map[lifecycle.Status]int),
		CheckIns: make(map[lifecycle.Status]int),
	}
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(*) FROM dreams`).Scan(&stats.Dreams); err != nil {
		return stats, fmt.Errorf("count dreams: %w", err)
	}
	groups := []struct {
		query string
		into  map[lifecycle.Status]int
	}{
		{`SELECT status, COUNT(*) FROM segments GROUP BY status`, stats.Segments},
		{`SELECT status, COUNT(*) FROM dream_stages GROUP BY status`, stats.Stages},
		{`SELECT insight_status, COUNT(*) FROM checkins GROUP BY insight_status`, stats.CheckIns},
	}
	for _, group := range groups {
		if err := s.countByStatus(ctx, group.query, group.into); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (s *Store) countByStatus(ctx context.Context, query string, into map[lifecycle.Status]int) error {
	rows, err := s.db.QueryContext(ensureContext(ctx), query)
	if err != nil {
		return fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return fmt.Errorf("scan status count: %w", err)
		}
		into[parseStatus(status)] = count
	}
	return rows.Err()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ensureContext(ctx))
}
