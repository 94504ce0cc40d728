package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"reverie/internal/lifecycle"
	"reverie/internal/logging"
	"reverie/internal/notifications"
	"reverie/internal/services"
	"reverie/internal/stageexec"
	"reverie/internal/store"
)

// Submit enqueues a stage and dispatches it to the stage pool. It reports
// false without error when the stage is already pending, processing or
// completed.
func (p *Pipeline) Submit(ctx context.Context, dreamID string, stage store.Stage) (bool, error) {
	_, err := p.store.TransitionStage(ctx, dreamID, stage, lifecycle.EventEnqueue, store.StageOutcome{})
	if err != nil {
		var transitionErr *lifecycle.TransitionError
		if errors.As(err, &transitionErr) {
			return false, nil
		}
		return false, err
	}
	p.hub.Publish(dreamID)
	p.Dispatch(dreamID, stage)
	return true, nil
}

// Dispatch runs a pending stage in the background if a stage worker is free.
func (p *Pipeline) Dispatch(dreamID string, stage store.Stage) {
	started := p.spawn(p.stageSlots, func(ctx context.Context) {
		_, err := p.RunStage(ctx, dreamID, stage, false)
		if err != nil && !errors.Is(err, services.ErrAlreadyInProgress) && !errors.Is(err, context.Canceled) {
			p.logger.Debug("background stage ended with error",
				logging.String(logging.FieldDreamID, dreamID),
				logging.String(logging.FieldStage, string(stage)),
				logging.Error(err),
			)
		}
	})
	if !started {
		p.logger.Debug("stage pool saturated; stage left pending",
			logging.String(logging.FieldDreamID, dreamID),
			logging.String(logging.FieldStage, string(stage)),
		)
	}
}

// RunStage generates one stage synchronously. A completed stage is returned
// as is unless force is set. It fails with services.ErrNoTranscript when the
// dream has no transcript, services.ErrAlreadyInProgress when another run
// holds the stage, and services.ErrGenerationFailed after recording a failed
// generation on the stage.
func (p *Pipeline) RunStage(ctx context.Context, dreamID string, stage store.Stage, force bool) (*store.StageState, error) {
	dream, err := p.store.MustGetDream(ctx, dreamID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dream.Transcript) == "" {
		return nil, noTranscript(dreamID, stage)
	}
	current, err := p.store.GetStage(ctx, dreamID, stage)
	if err != nil {
		return nil, err
	}
	if current.Status == lifecycle.StatusCompleted && !force {
		return current, nil
	}

	event := lifecycle.EventStart
	if force {
		event = lifecycle.EventForceStart
	}
	if _, err := p.store.TransitionStage(ctx, dreamID, stage, event, store.StageOutcome{}); err != nil {
		return p.claimLost(ctx, dreamID, stage, force, err)
	}
	p.hub.Publish(dreamID)

	ctx = services.WithDreamID(ctx, dreamID)
	ctx = services.WithStage(ctx, string(stage))

	var out generation
	runErr := stageexec.Run(ctx, stageexec.Options{
		Logger:        p.logger,
		Notifier:      p.notifier,
		Label:         string(stage),
		Subject:       dreamLabel(dream),
		Heartbeat:     func(hbCtx context.Context) error { return p.store.StageHeartbeat(hbCtx, dreamID, stage) },
		Interval:      p.cfg.HeartbeatInterval(),
		NotifyFailure: true,
	}, func(runCtx context.Context) error {
		var err error
		out, err = p.generate(runCtx, stage, dream)
		return err
	})
	if errors.Is(runErr, context.Canceled) {
		return nil, runErr
	}

	settleCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		failed, err := p.store.TransitionStage(settleCtx, dreamID, stage, lifecycle.EventFail, store.StageOutcome{
			Reason: strings.TrimSpace(runErr.Error()),
		})
		p.hub.Publish(dreamID)
		if err != nil {
			return nil, fmt.Errorf("record %s failure: %w", stage, err)
		}
		return failed, services.Wrap(services.ErrGenerationFailed, string(stage), "generate", "", runErr)
	}

	done, err := p.store.TransitionStage(settleCtx, dreamID, stage, lifecycle.EventSucceed, store.StageOutcome{
		Artifact:     out.Artifact,
		MetadataJSON: out.metadataJSON(),
	})
	if err != nil {
		p.hub.Publish(dreamID)
		return nil, fmt.Errorf("record %s artifact: %w", stage, err)
	}
	if stage == store.StageSummary {
		p.afterSummary(settleCtx, dream, out)
	}
	p.hub.Publish(dreamID)
	return done, nil
}

// claimLost resolves a failed start transition. A stage that finished in the
// meantime is returned when force was not requested.
func (p *Pipeline) claimLost(ctx context.Context, dreamID string, stage store.Stage, force bool, cause error) (*store.StageState, error) {
	if errors.Is(cause, services.ErrNoTranscript) || errors.Is(cause, services.ErrNotFound) {
		return nil, cause
	}
	var transitionErr *lifecycle.TransitionError
	if !errors.As(cause, &transitionErr) {
		return nil, cause
	}
	current, err := p.store.GetStage(ctx, dreamID, stage)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Status == lifecycle.StatusCompleted && !force {
		return current, nil
	}
	return current, services.Wrap(services.ErrAlreadyInProgress, string(stage), "claim",
		fmt.Sprintf("stage is %s", transitionErr.From), nil)
}

func (p *Pipeline) afterSummary(ctx context.Context, dream *store.Dream, out generation) {
	logger := logging.WithContext(ctx, p.logger)
	if out.Title != "" {
		if err := p.store.SetTitleIfEmpty(ctx, dream.ID, out.Title); err != nil {
			logger.Warn("failed to store generated title", logging.Error(err))
		}
	}
	refreshed, err := p.store.GetDream(ctx, dream.ID)
	if err == nil && refreshed != nil {
		dream = refreshed
	}
	if hook := p.onSummary(); hook != nil {
		hook(ctx, dream, out.Artifact)
	}
	if err := p.notifier.Publish(ctx, notifications.EventDreamReady, notifications.Payload{
		"title": dreamLabel(dream),
	}); err != nil {
		logger.Debug("dream ready notification failed", logging.Error(err))
	}
}

func noTranscript(dreamID string, stage store.Stage) error {
	return services.Wrap(services.ErrNoTranscript, string(stage), "start", "dream "+dreamID+" has no transcript", nil)
}

func dreamLabel(dream *store.Dream) string {
	if dream == nil {
		return ""
	}
	if title := strings.TrimSpace(dream.Title); title != "" {
		return title
	}
	return "dream " + dream.ID
}
