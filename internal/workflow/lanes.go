package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"reverie/internal/logging"
	"reverie/internal/services"
)

const (
	laneTranscription = "transcription"
	laneStages        = "stages"
	laneInsights      = "insights"
	laneHeartbeat     = "heartbeat"

	minPollInterval = 50 * time.Millisecond
)

// lane is one polling loop. tick reports how many entities it advanced so the
// loop can poll again immediately while work remains.
type lane struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context) (int, error)

	lastRun   time.Time
	lastErr   error
	processed int
}

func (m *Manager) pollSegments(ctx context.Context) (int, error) {
	workers := max(m.cfg.Pipeline.TranscriptionWorkers, 1)
	segments, err := m.store.PendingSegments(ctx, workers)
	if err != nil {
		return 0, err
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for _, seg := range segments {
		segmentID := seg.ID
		group.Go(func() error {
			// Failures are recorded on the segment; a lost claim means a
			// request handler got there first.
			err := m.transcriber.Process(groupCtx, segmentID)
			if errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return len(segments), group.Wait()
}

func (m *Manager) pollStages(ctx context.Context) (int, error) {
	workers := max(m.cfg.Pipeline.StageWorkers, 1)
	pending, err := m.store.PendingStages(ctx, workers)
	if err != nil {
		return 0, err
	}
	var advanced atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for _, st := range pending {
		dreamID, stage := st.DreamID, st.Stage
		group.Go(func() error {
			_, err := m.pipeline.RunStage(groupCtx, dreamID, stage, false)
			switch {
			case err == nil, errors.Is(err, services.ErrAlreadyInProgress), errors.Is(err, services.ErrGenerationFailed):
				advanced.Add(1)
				return nil
			case errors.Is(err, context.Canceled):
				return err
			case errors.Is(err, services.ErrNoTranscript), errors.Is(err, services.ErrNotFound):
				m.logger.Warn("pending stage cannot run",
					logging.String(logging.FieldDreamID, dreamID),
					logging.String(logging.FieldStage, string(stage)),
					logging.Error(err),
					logging.String(logging.FieldImpact, "stage stays pending until recovered"),
				)
				return nil
			default:
				return err
			}
		})
	}
	err = group.Wait()
	return int(advanced.Load()), err
}

func (m *Manager) sweepInsights(ctx context.Context) (int, error) {
	return m.checkins.Sweep(ctx)
}

func (m *Manager) runLane(ctx context.Context, l *lane) error {
	logger := m.logger.With(logging.String("lane", l.name))
	for {
		if ctx.Err() != nil {
			return nil
		}
		advanced, err := l.tick(ctx)
		m.recordTick(l, advanced, err)

		wait := l.interval
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			logger.Error("lane poll failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "lane_poll_failed"),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
			m.notifyLaneError(ctx, l.name, err)
			wait = m.cfg.ErrorRetryInterval()
		default:
			m.clearLaneAlert(l.name)
			if advanced > 0 && l.name != laneHeartbeat && l.name != laneInsights {
				continue
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(max(wait, minPollInterval)):
		}
	}
}

func (m *Manager) recordTick(l *lane, advanced int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.lastRun = time.Now()
	l.lastErr = err
	l.processed += advanced
	if err != nil && !errors.Is(err, context.Canceled) {
		m.lastErr = err
	}
	if advanced > 0 {
		m.lastActivity = l.lastRun
	}
}
