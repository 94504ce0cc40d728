package workflow

import (
	"context"
	"time"

	"reverie/internal/logging"
	"reverie/internal/pipeline"
	"reverie/internal/store"
)

// LaneStatus reports the last poll of one lane.
type LaneStatus struct {
	Name      string
	LastRun   time.Time
	LastError string
	Processed int
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running      bool
	LastError    string
	LastActivity time.Time
	Stats        store.Stats
	Lanes        []LaneStatus
	Recovered    []pipeline.RecoveryReport
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:      m.running,
		LastActivity: m.lastActivity,
		Recovered:    append([]pipeline.RecoveryReport(nil), m.recovered...),
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	for _, l := range m.lanes {
		status := LaneStatus{Name: l.name, LastRun: l.lastRun, Processed: l.processed}
		if l.lastErr != nil {
			status.LastError = l.lastErr.Error()
		}
		summary.Lanes = append(summary.Lanes, status)
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read store stats", logging.Error(err))
	}
	summary.Stats = stats
	return summary
}
