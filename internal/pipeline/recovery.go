package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"reverie/internal/lifecycle"
	"reverie/internal/logging"
	"reverie/internal/notifications"
	"reverie/internal/retry"
	"reverie/internal/services"
	"reverie/internal/store"
)

// Recovery methods reported in RecoveryReport.Method.
const (
	RecoveryConsolidated  = "consolidated"
	RecoveryRetranscribed = "retranscribed"
	RecoveryInProgress    = "in_progress"
	RecoveryNone          = "none"
)

const noRecoverableContent = "no recoverable content"

// RecoveryReport describes the outcome of Recover.
type RecoveryReport struct {
	DreamID     string         `json:"dream_id"`
	Success     bool           `json:"success"`
	Method      string         `json:"method"`
	Message     string         `json:"message"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

// Recover brings a stuck dream back to a usable transcript. Dreams with
// completed segments are consolidated; dreams whose segments all failed but
// still hold raw content are requeued and re-transcribed synchronously with a
// bounded number of attempts per segment. The summary is enqueued when it
// never ran or failed, and any other stage cut off mid-run is enqueued again.
// Completed stages are never re-run, so repeated calls are harmless. Only the
// dream's own stale work is reclaimed.
func (p *Pipeline) Recover(ctx context.Context, dreamID string) (RecoveryReport, error) {
	ctx = services.WithDreamID(ctx, dreamID)
	if _, err := p.store.MustGetDream(ctx, dreamID); err != nil {
		return RecoveryReport{}, err
	}
	if err := p.reclaimDream(ctx, dreamID); err != nil {
		return RecoveryReport{}, err
	}

	segments, err := p.store.ListSegments(ctx, dreamID)
	if err != nil {
		return RecoveryReport{}, err
	}
	diag := segmentDiagnostics(segments)
	report := RecoveryReport{DreamID: dreamID, Diagnostics: diag}

	var retryable []*store.Segment
	completed, processing := 0, 0
	for _, seg := range segments {
		switch seg.Status {
		case lifecycle.StatusCompleted:
			completed++
		case lifecycle.StatusProcessing:
			processing++
		case lifecycle.StatusPending:
			retryable = append(retryable, seg)
		case lifecycle.StatusFailed:
			if seg.HasRawContent() {
				retryable = append(retryable, seg)
			}
		}
	}

	switch {
	case processing > 0:
		report.Method = RecoveryInProgress
		report.Message = fmt.Sprintf("%d segment(s) still transcribing", processing)
	case completed > 0:
		result, err := p.Consolidate(ctx, dreamID)
		if err != nil {
			return report, err
		}
		report.Method = RecoveryConsolidated
		p.finishRecovery(ctx, &report, result)
	case len(retryable) > 0:
		p.retranscribe(ctx, retryable, diag)
		result, err := p.Consolidate(ctx, dreamID)
		if err != nil {
			return report, err
		}
		report.Method = RecoveryRetranscribed
		p.finishRecovery(ctx, &report, result)
	default:
		report.Method = RecoveryNone
		report.Message = noRecoverableContent
	}

	p.publishRecovery(ctx, report)
	return report, nil
}

func (p *Pipeline) finishRecovery(ctx context.Context, report *RecoveryReport, result Consolidation) {
	report.Diagnostics["transcript_chars"] = len(result.Transcript)
	if !result.Ready {
		report.Message = "segments are still in flight"
		return
	}
	if result.Transcript == "" {
		report.Message = noRecoverableContent
		return
	}
	report.Success = true
	summary, err := p.ensureSummary(ctx, report.DreamID)
	if err != nil {
		report.Diagnostics["summary_error"] = err.Error()
	}
	report.Diagnostics["summary_status"] = string(summary)
	if requeued := p.requeueAbandoned(ctx, report.DreamID); len(requeued) > 0 {
		report.Diagnostics["requeued_stages"] = requeued
	}
	report.Message = fmt.Sprintf("transcript recovered from %d segment(s)", result.Completed)
}

// requeueAbandoned enqueues the non-summary stages whose run was cut off.
// Stages that failed on their own stay failed until generated again.
func (p *Pipeline) requeueAbandoned(ctx context.Context, dreamID string) []string {
	stages, err := p.store.ListStages(ctx, dreamID)
	if err != nil {
		p.logger.Warn("list stages for recovery failed", logging.String(logging.FieldDreamID, dreamID), logging.Error(err))
		return nil
	}
	var requeued []string
	for _, st := range stages {
		if st.Stage == store.StageSummary || st.Status != lifecycle.StatusFailed || st.ErrorMessage != lifecycle.AbandonedReason {
			continue
		}
		ok, err := p.Submit(ctx, dreamID, st.Stage)
		if err != nil {
			p.logger.Warn("requeue abandoned stage failed",
				logging.String(logging.FieldDreamID, dreamID),
				logging.String(logging.FieldStage, string(st.Stage)),
				logging.Error(err),
			)
			continue
		}
		if ok {
			requeued = append(requeued, string(st.Stage))
		}
	}
	return requeued
}

// ensureSummary enqueues the summary when it never ran or failed and returns
// the status it ends up in.
func (p *Pipeline) ensureSummary(ctx context.Context, dreamID string) (lifecycle.Status, error) {
	state, err := p.store.GetStage(ctx, dreamID, store.StageSummary)
	if err != nil {
		return "", err
	}
	if state == nil {
		return "", services.Wrap(services.ErrNotFound, "summary", "ensure", "dream "+dreamID, nil)
	}
	if state.Status != lifecycle.StatusAbsent && state.Status != lifecycle.StatusFailed {
		return state.Status, nil
	}
	if _, err := p.Submit(ctx, dreamID, store.StageSummary); err != nil {
		return state.Status, err
	}
	return lifecycle.StatusPending, nil
}

// retranscribe drives each segment through the shared retry policy in
// parallel, bounded by the transcription worker count and the finish timeout.
func (p *Pipeline) retranscribe(ctx context.Context, segments []*store.Segment, diag map[string]any) {
	bound := p.cfg.FinishTimeout()
	if bound <= 0 {
		bound = time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	baseline := make(map[string]int, len(segments))
	for _, seg := range segments {
		baseline[seg.ID] = seg.Attempts
	}
	policy := p.segmentPolicy(baseline)
	var mu sync.Mutex
	failures := make(map[string]string)

	group, groupCtx := errgroup.WithContext(runCtx)
	group.SetLimit(max(p.cfg.Pipeline.TranscriptionWorkers, 1))
	for _, seg := range segments {
		segmentID := seg.ID
		group.Go(func() error {
			err := policy.Run(groupCtx,
				func(ctx context.Context) (*store.Segment, error) {
					return p.store.GetSegment(ctx, segmentID)
				},
				func(ctx context.Context, current *store.Segment) error {
					return p.retranscribeOnce(ctx, current)
				},
			)
			if err != nil {
				mu.Lock()
				failures[segmentID] = err.Error()
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	diag["retranscribe_failures"] = len(failures)
	if len(failures) > 0 {
		diag["retranscribe_errors"] = failures
	}
}

func (p *Pipeline) retranscribeOnce(ctx context.Context, seg *store.Segment) error {
	if seg == nil {
		return retry.Stop(services.Wrap(services.ErrNotFound, "recovery", "retranscribe", "segment vanished", nil))
	}
	switch seg.Status {
	case lifecycle.StatusCompleted:
		return nil
	case lifecycle.StatusProcessing:
		return retry.Stop(services.Wrap(services.ErrAlreadyInProgress, "recovery", "retranscribe", "segment "+seg.ID, nil))
	case lifecycle.StatusFailed:
		if _, err := p.store.MarkSegmentStatus(ctx, seg.ID, lifecycle.EventRequeue, store.SegmentMark{}); err != nil {
			return retry.Stop(err)
		}
	}
	if p.transcriber == nil {
		return retry.Stop(errors.New("no transcriber configured"))
	}
	err := p.transcriber.Process(ctx, seg.ID)
	if errors.Is(err, services.ErrAlreadyInProgress) {
		return retry.Stop(err)
	}
	return err
}

// segmentPolicy counts attempts from baseline so every recovery gets a
// fresh budget per segment.
func (p *Pipeline) segmentPolicy(baseline map[string]int) retry.Policy[*store.Segment] {
	return retry.Policy[*store.Segment]{
		Name:    "segment",
		Ceiling: p.cfg.Pipeline.SegmentMaxAttempts,
		Attempts: func(seg *store.Segment) int {
			if seg == nil {
				return 0
			}
			return seg.Attempts - baseline[seg.ID]
		},
		BaseDelay: 200 * time.Millisecond,
		MaxDelay:  5 * time.Second,
	}
}

// RecoverOrphans runs at startup: nothing can legitimately be processing yet,
// so every processing entry is abandoned and its dream recovered.
func (p *Pipeline) RecoverOrphans(ctx context.Context) ([]RecoveryReport, error) {
	dreamIDs, err := p.reclaim(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	return p.recoverAll(ctx, dreamIDs), nil
}

// ReclaimAndRecover abandons stale work and recovers the affected dreams.
func (p *Pipeline) ReclaimAndRecover(ctx context.Context) ([]RecoveryReport, error) {
	timeout := p.cfg.HeartbeatTimeout()
	if timeout <= 0 {
		return nil, nil
	}
	dreamIDs, err := p.reclaim(ctx, time.Now().Add(-timeout))
	if err != nil {
		return nil, err
	}
	return p.recoverAll(ctx, dreamIDs), nil
}

// reclaimDream abandons stale processing work of one dream.
func (p *Pipeline) reclaimDream(ctx context.Context, dreamID string) error {
	timeout := p.cfg.HeartbeatTimeout()
	if timeout <= 0 {
		return nil
	}
	report, err := p.store.AbandonStaleDream(ctx, dreamID, time.Now().Add(-timeout))
	if err != nil {
		return err
	}
	p.logAbandoned(report)
	return nil
}

func (p *Pipeline) reclaim(ctx context.Context, cutoff time.Time) ([]string, error) {
	report, err := p.store.AbandonStale(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if !p.logAbandoned(report) {
		return nil, nil
	}
	return report.DreamIDs(), nil
}

// logAbandoned reports whether anything was abandoned and publishes the
// affected dreams.
func (p *Pipeline) logAbandoned(report store.AbandonReport) bool {
	if report.Empty() {
		return false
	}
	p.logger.Info(
		"abandoned stale work",
		logging.String(logging.FieldEventType, "stale_work_abandoned"),
		logging.Int("segments", len(report.SegmentDreamIDs)),
		logging.Int("stages", len(report.StageDreamIDs)),
		logging.Int("checkins", len(report.CheckInIDs)),
	)
	for _, id := range report.DreamIDs() {
		p.hub.Publish(id)
	}
	return true
}

func (p *Pipeline) recoverAll(ctx context.Context, dreamIDs []string) []RecoveryReport {
	reports := make([]RecoveryReport, 0, len(dreamIDs))
	for _, id := range dreamIDs {
		report, err := p.Recover(ctx, id)
		if err != nil {
			logging.WarnWithContext(
				logging.WithContext(services.WithDreamID(ctx, id), p.logger),
				"recovery failed",
				"recovery_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "dream stays incomplete until recovered manually"),
			)
			continue
		}
		reports = append(reports, report)
	}
	return reports
}

func (p *Pipeline) publishRecovery(ctx context.Context, report RecoveryReport) {
	logger := logging.WithContext(ctx, p.logger)
	logger.Info(
		"recovery finished",
		logging.String(logging.FieldEventType, "recovery_finished"),
		logging.Bool("success", report.Success),
		logging.String("method", report.Method),
		logging.String("message", report.Message),
	)
	if report.Method == RecoveryNone || report.Method == RecoveryInProgress {
		return
	}
	if err := p.notifier.Publish(ctx, notifications.EventRecovery, notifications.Payload{
		"title":   "dream " + report.DreamID,
		"method":  report.Method,
		"success": report.Success,
		"message": report.Message,
	}); err != nil {
		logger.Debug("recovery notification failed", logging.Error(err))
	}
}

func segmentDiagnostics(segments []*store.Segment) map[string]any {
	counts := make(map[string]int)
	for _, seg := range segments {
		counts[string(seg.Status)]++
	}
	return map[string]any{
		"segments":   len(segments),
		"completed":  counts[string(lifecycle.StatusCompleted)],
		"failed":     counts[string(lifecycle.StatusFailed)],
		"pending":    counts[string(lifecycle.StatusPending)],
		"processing": counts[string(lifecycle.StatusProcessing)],
	}
}
