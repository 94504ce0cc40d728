package workflow

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"reverie/internal/logging"
)

// Start recovers orphaned work and begins background processing. Nothing
// can legitimately be processing before the daemon starts, so every
// processing entry found here is abandoned and its dream recovered.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.lanes) == 0 {
		m.mu.Unlock()
		return errors.New("workflow lanes not configured")
	}
	m.running = true
	m.mu.Unlock()

	if m.pipeline != nil {
		reports, err := m.pipeline.RecoverOrphans(ctx)
		if err != nil {
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return err
		}
		if len(reports) > 0 {
			m.logger.Info("recovered orphaned dreams",
				logging.Int("count", len(reports)),
				logging.String(logging.FieldEventType, "startup_recovery"),
			)
		}
		m.mu.Lock()
		m.recovered = reports
		m.mu.Unlock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	lanes := m.lanes
	m.mu.Unlock()

	for _, l := range lanes {
		group.Go(func() error { return m.runLane(groupCtx, l) })
	}
	go func() {
		defer close(done)
		if err := group.Wait(); err != nil {
			m.logger.Error("workflow lanes stopped", logging.Error(err))
		}
	}()
	return nil
}

// Stop terminates background processing and waits for the lanes to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
