package workflow

import (
	"context"
	"errors"

	"reverie/internal/logging"
	"reverie/internal/notifications"
)

// notifyLaneError publishes the first error of a failure streak; the streak
// ends with the next clean poll of the lane.
func (m *Manager) notifyLaneError(ctx context.Context, laneName string, laneErr error) {
	if m.notifier == nil || laneErr == nil {
		return
	}
	m.mu.Lock()
	if m.alerting == nil {
		m.alerting = make(map[string]bool)
	}
	already := m.alerting[laneName]
	m.alerting[laneName] = true
	m.mu.Unlock()
	if already {
		return
	}
	if err := m.notifier.Publish(ctx, notifications.EventError, notifications.Payload{
		"error":   laneErr,
		"context": laneName + " lane",
	}); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send error notification")
		} else {
			m.logger.Debug("lane error notification failed", logging.Error(err))
		}
	}
}

func (m *Manager) clearLaneAlert(laneName string) {
	m.mu.Lock()
	delete(m.alerting, laneName)
	m.mu.Unlock()
}
