package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"reverie/internal/config"
	"reverie/internal/lifecycle"
	"reverie/internal/logging"
	"reverie/internal/notifications"
	"reverie/internal/services"
	"reverie/internal/stageexec"
	"reverie/internal/store"
)

// SettledFunc is invoked after a segment reaches a terminal status.
type SettledFunc func(ctx context.Context, dreamID string)

// Worker transcribes individual segments. It never retries on its own: a
// failed segment stays failed until recovery requeues it.
type Worker struct {
	cfg       *config.Config
	store     *store.Store
	backend   Backend
	logger    *slog.Logger
	notifier  notifications.Service
	onSettled SettledFunc
}

// NewWorker constructs a transcription worker.
func NewWorker(cfg *config.Config, st *store.Store, backend Backend, logger *slog.Logger, notifier notifications.Service) *Worker {
	return &Worker{
		cfg:      cfg,
		store:    st,
		backend:  backend,
		logger:   logging.NewComponentLogger(logger, "transcription"),
		notifier: notifier,
	}
}

// OnSettled registers the hook run after every terminal transition. The
// consolidation barrier subscribes here.
func (w *Worker) OnSettled(fn SettledFunc) {
	w.onSettled = fn
}

// Process claims a pending segment, transcribes it and records the outcome.
// It returns services.ErrAlreadyInProgress when another worker holds the
// claim and the transcription error when the segment failed.
func (w *Worker) Process(ctx context.Context, segmentID string) error {
	seg, err := w.store.MarkSegmentStatus(ctx, segmentID, lifecycle.EventStart, store.SegmentMark{})
	if err != nil {
		var transitionErr *lifecycle.TransitionError
		if errors.As(err, &transitionErr) {
			return services.Wrap(services.ErrAlreadyInProgress, "transcription", "claim segment",
				fmt.Sprintf("segment %s is %s", segmentID, transitionErr.From), nil)
		}
		return err
	}

	ctx = services.WithDreamID(ctx, seg.DreamID)
	ctx = services.WithSegmentID(ctx, seg.ID)

	var text string
	runErr := stageexec.Run(ctx, stageexec.Options{
		Logger:    w.logger,
		Notifier:  w.notifier,
		Label:     "transcription",
		Heartbeat: func(hbCtx context.Context) error { return w.store.SegmentHeartbeat(hbCtx, seg.ID) },
		Interval:  w.cfg.HeartbeatInterval(),
	}, func(runCtx context.Context) error {
		var err error
		text, err = w.transcribe(runCtx, seg)
		return err
	})

	if errors.Is(runErr, context.Canceled) {
		// Leave the claim in processing; the reclaimer or startup recovery owns it now.
		return runErr
	}

	settleCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		if _, err := w.store.MarkSegmentStatus(settleCtx, seg.ID, lifecycle.EventFail, store.SegmentMark{
			Reason: strings.TrimSpace(runErr.Error()),
			Expect: lifecycle.StatusProcessing,
		}); err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, w.logger), "failed to record segment failure", "segment_mark_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "segment remains processing until reclaimed"),
			)
		}
		w.settled(settleCtx, seg.DreamID)
		return services.Wrap(services.ErrExternalTool, "transcription", w.backend.Name(), "transcription failed", runErr)
	}

	if _, err := w.store.MarkSegmentStatus(settleCtx, seg.ID, lifecycle.EventSucceed, store.SegmentMark{
		Transcript: text,
		Expect:     lifecycle.StatusProcessing,
	}); err != nil {
		return fmt.Errorf("record transcript: %w", err)
	}
	w.settled(settleCtx, seg.DreamID)
	return nil
}

func (w *Worker) transcribe(ctx context.Context, seg *store.Segment) (string, error) {
	if seg.Modality == store.ModalityText {
		return strings.TrimSpace(seg.ContentText), nil
	}
	if w.backend == nil {
		return "", errors.New("no transcription backend configured")
	}
	text, err := w.backend.Transcribe(ctx, w.cfg.AudioPath(seg.ContentRef))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (w *Worker) settled(ctx context.Context, dreamID string) {
	if w.onSettled != nil {
		w.onSettled(ctx, dreamID)
	}
}
