package workflow

import (
	"context"
	"log/slog"
	"time"

	"reverie/internal/logging"
	"reverie/internal/pipeline"
)

// HeartbeatMonitor abandons work whose heartbeat went stale and recovers the
// dreams it belonged to.
type HeartbeatMonitor struct {
	pipeline          *pipeline.Pipeline
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(p *pipeline.Pipeline, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		pipeline:          p,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
	}
}

// Interval is how often the reclaimer runs: every heartbeat interval, but
// never less often than the timeout allows.
func (h *HeartbeatMonitor) Interval() time.Duration {
	if h.heartbeatInterval > 0 {
		return h.heartbeatInterval
	}
	return h.heartbeatTimeout
}

// Tick reclaims stale work once and reports how many dreams it recovered.
func (h *HeartbeatMonitor) Tick(ctx context.Context) (int, error) {
	if h.pipeline == nil || h.heartbeatTimeout <= 0 {
		return 0, nil
	}
	reports, err := h.pipeline.ReclaimAndRecover(ctx)
	if err != nil {
		return 0, err
	}
	for _, report := range reports {
		h.logger.Info("reclaimed stale dream",
			logging.String(logging.FieldDreamID, report.DreamID),
			logging.String("method", report.Method),
			logging.Bool("success", report.Success),
		)
	}
	return len(reports), nil
}
