package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"reverie/internal/api"
	"reverie/internal/config"
	"reverie/internal/logging"
	"reverie/internal/preflight"
	"reverie/internal/store"
	"reverie/internal/workflow"
)

// CheckFunc produces the readiness checks reported in the daemon status.
type CheckFunc func(ctx context.Context, cfg *config.Config) []preflight.Result

// Daemon coordinates background processing and the API server and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	workflow *workflow.Manager
	service  api.Service
	checks   CheckFunc

	lock *flock.Flock
	api  *apiServer

	running atomic.Bool
	cancel  context.CancelFunc

	checkMu sync.RWMutex
	results []preflight.Result
}

// Option customizes the daemon.
type Option func(*Daemon)

// WithChecks replaces the preflight checks run at start.
func WithChecks(fn CheckFunc) Option {
	return func(d *Daemon) {
		d.checks = fn
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, wf *workflow.Manager, svc api.Service, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil || wf == nil || svc == nil {
		return nil, errors.New("daemon requires config, store, workflow manager and service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		workflow: wf,
		service:  svc,
		checks:   preflight.RunAll,
		lock:     flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, launches the workflow manager and starts
// serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another reverie daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.runChecks(runCtx)

	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.workflow.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("reverie daemon started",
		logging.String("lock", d.cfg.LockPath()),
		logging.String("api", d.api.address()),
	)
	return nil
}

func (d *Daemon) runChecks(ctx context.Context) {
	if d.checks == nil {
		return
	}
	results := d.checks(ctx, d.cfg)
	for _, failed := range preflight.Failed(results) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldImpact, "work that depends on this check will fail until it is fixed"),
		)
	}
	d.checkMu.Lock()
	d.results = results
	d.checkMu.Unlock()
}

// Stop stops the API server and background processing and releases the
// daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("reverie daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the address the API server listens on, or "" when it is not
// serving.
func (d *Daemon) Addr() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	d.checkMu.RLock()
	results := d.results
	d.checkMu.RUnlock()

	checks := make([]api.CheckStatus, 0, len(results))
	for _, r := range results {
		checks = append(checks, api.CheckStatus{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.cfg.LockPath(),
		Workflow:     api.FromStatusSummary(d.workflow.Status(ctx)),
		Checks:       checks,
	}
}
