package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"reverie/internal/checkin"
	"reverie/internal/config"
	"reverie/internal/logging"
	"reverie/internal/notifications"
	"reverie/internal/pipeline"
	"reverie/internal/store"
)

// SegmentProcessor transcribes one claimed segment.
type SegmentProcessor interface {
	Process(ctx context.Context, segmentID string) error
}

// Deps bundles the services the lanes drive.
type Deps struct {
	Pipeline    *pipeline.Pipeline
	Transcriber SegmentProcessor
	CheckIns    *checkin.Service
	Notifier    notifications.Service
}

// Manager coordinates the background lanes.
type Manager struct {
	cfg          *config.Config
	store        *store.Store
	pipeline     *pipeline.Pipeline
	transcriber  SegmentProcessor
	checkins     *checkin.Service
	logger       *slog.Logger
	notifier     notifications.Service
	pollInterval time.Duration

	heartbeat *HeartbeatMonitor
	lanes     []*lane

	mu           sync.RWMutex
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
	lastErr      error
	lastActivity time.Time
	recovered    []pipeline.RecoveryReport
	alerting     map[string]bool
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, st *store.Store, logger *slog.Logger, deps Deps) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	m := &Manager{
		cfg:          cfg,
		store:        st,
		pipeline:     deps.Pipeline,
		transcriber:  deps.Transcriber,
		checkins:     deps.CheckIns,
		logger:       logger,
		notifier:     notifier,
		pollInterval: cfg.QueuePollInterval(),
		heartbeat:    NewHeartbeatMonitor(deps.Pipeline, logger, cfg.HeartbeatInterval(), cfg.HeartbeatTimeout()),
	}
	m.lanes = m.buildLanes()
	return m
}

func (m *Manager) buildLanes() []*lane {
	var lanes []*lane
	if m.transcriber != nil {
		lanes = append(lanes, &lane{name: laneTranscription, interval: m.pollInterval, tick: m.pollSegments})
	}
	if m.pipeline != nil {
		lanes = append(lanes,
			&lane{name: laneStages, interval: m.pollInterval, tick: m.pollStages},
			&lane{name: laneHeartbeat, interval: m.heartbeat.Interval(), tick: m.heartbeat.Tick},
		)
	}
	if m.checkins != nil {
		lanes = append(lanes, &lane{name: laneInsights, interval: m.pollInterval, tick: m.sweepInsights})
	}
	return lanes
}
