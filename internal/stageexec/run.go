package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reverie/internal/logging"
	"reverie/internal/notifications"
)

// Options describes one unit of claimed work: a segment transcription, an
// enrichment stage or a check-in insight.
type Options struct {
	Logger   *slog.Logger
	Notifier notifications.Service
	// Label names the work in logs and notifications (e.g. "summary").
	Label string
	// Subject is a human-readable target for notifications (e.g. a dream title).
	Subject string
	// Heartbeat refreshes the claim; nil disables heartbeats.
	Heartbeat func(context.Context) error
	Interval  time.Duration
	// NotifyFailure publishes EventStageFailed when work returns an error.
	NotifyFailure bool
}

// Run executes work while keeping its heartbeat fresh and logs the start,
// completion or failure of the unit. The returned error is work's error.
func Run(ctx context.Context, opts Options, work func(context.Context) error) error {
	if work == nil {
		return fmt.Errorf("stageexec: no work for %s", opts.Label)
	}
	logger := logging.WithContext(ctx, opts.Logger)
	logger.Debug("work started", logging.String(logging.FieldEventType, "stage_start"), logging.String("label", opts.Label))

	stopHeartbeat := startHeartbeat(ctx, logger, opts)
	start := time.Now()
	err := work(ctx)
	stopHeartbeat()

	if err == nil {
		logger.Info(
			"work completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.String("label", opts.Label),
			logging.Duration("elapsed", time.Since(start)),
		)
		return nil
	}
	if errors.Is(err, context.Canceled) {
		logger.Info("work canceled", logging.String(logging.FieldEventType, "stage_canceled"), logging.String("label", opts.Label))
		return err
	}

	logging.ErrorWithContext(
		logger,
		"work failed",
		"stage_failure",
		logging.String("label", opts.Label),
		logging.Duration("elapsed", time.Since(start)),
		logging.Error(err),
	)
	if opts.NotifyFailure && opts.Notifier != nil {
		if nerr := opts.Notifier.Publish(ctx, notifications.EventStageFailed, notifications.Payload{
			"title":  opts.Subject,
			"stage":  opts.Label,
			"reason": err,
		}); nerr != nil {
			logger.Debug("failure notification failed", logging.Error(nerr))
		}
	}
	return err
}

func startHeartbeat(ctx context.Context, logger *slog.Logger, opts Options) func() {
	if opts.Heartbeat == nil || opts.Interval <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := opts.Heartbeat(hbCtx); err != nil && hbCtx.Err() == nil {
					logging.WarnWithContext(
						logger,
						"heartbeat update failed",
						"heartbeat_update_failed",
						logging.String("label", opts.Label),
						logging.Error(err),
						logging.String(logging.FieldImpact, "work may be reclaimed as abandoned"),
					)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
