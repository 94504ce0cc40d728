package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"reverie/internal/api"
	"reverie/internal/mediainfo"
	"reverie/internal/checkin"
	"reverie/internal/config"
	"reverie/internal/daemon"
	"reverie/internal/logging"
	"reverie/internal/notifications"
	"reverie/internal/pipeline"
	"reverie/internal/profile"
	"reverie/internal/services/imagegen"
	"reverie/internal/services/llm"
	"reverie/internal/services/videogen"
	"reverie/internal/store"
	"reverie/internal/transcribe"
	"reverie/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Runtime holds the wired components of a daemon process.
type Runtime struct {
	Config   *config.Config
	Store    *store.Store
	Pipeline *pipeline.Pipeline
	CheckIns *checkin.Service
	Profiles *profile.Service
	Workflow *workflow.Manager
	Service  *api.Local
	Daemon   *daemon.Daemon
}

// Build opens the store and wires every component. Backend lets tests swap
// the transcription backend; nil selects the configured one.
func Build(cfg *config.Config, logger *slog.Logger, backend transcribe.Backend, opts ...daemon.Option) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	notifier := notifications.NewService(cfg)
	llmCfg := cfg.GetLLM()
	completer := llm.NewClient(llm.Config{
		APIKey:         llmCfg.APIKey,
		BaseURL:        llmCfg.BaseURL,
		Model:          llmCfg.Model,
		Referer:        llmCfg.Referer,
		Title:          llmCfg.Title,
		TimeoutSeconds: llmCfg.TimeoutSeconds,
	})

	var images pipeline.Illustrator
	if cfg.Image.Enabled {
		images = imagegen.NewClient(imagegen.Config{
			BaseURL:        cfg.Image.BaseURL,
			APIKey:         cfg.Image.APIKey,
			Model:          cfg.Image.Model,
			Size:           cfg.Image.Size,
			Style:          cfg.Image.Style,
			TimeoutSeconds: cfg.Image.TimeoutSeconds,
		}, nil)
	}

	var videos pipeline.VideoRenderer
	if cfg.Video.Enabled {
		videos = videogen.NewClient(videogen.Config{
			BaseURL:      cfg.Video.BaseURL,
			APIKey:       cfg.Video.APIKey,
			PollInterval: cfg.VideoPollInterval(),
			Timeout:      cfg.VideoTimeout(),
		}, nil)
	}

	if backend == nil {
		backend = transcribe.NewBackend(cfg)
	}
	worker := transcribe.NewWorker(cfg, st, backend, logger, notifier)

	p := pipeline.New(cfg, st, pipeline.Deps{
		LLM:         completer,
		Images:      images,
		Videos:      videos,
		Transcriber: worker,
		Durations: func(ctx context.Context, path string) (float64, error) {
			return mediainfo.Duration(ctx, mediainfo.DefaultBinary, path)
		},
		Notifier: notifier,
		Logger:   logger,
	})
	profiles := profile.NewService(st, logger)
	p.OnSummaryCompleted(profiles.OnSummaryCompleted)
	checkins := checkin.NewService(cfg, st, completer, logger, notifier)

	mgr := workflow.NewManager(cfg, st, logger, workflow.Deps{
		Pipeline:    p,
		Transcriber: worker,
		CheckIns:    checkins,
		Notifier:    notifier,
	})
	svc := api.NewLocal(st, p, checkins, profiles)

	d, err := daemon.New(cfg, st, logger, mgr, svc, opts...)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}

	return &Runtime{
		Config:   cfg,
		Store:    st,
		Pipeline: p,
		CheckIns: checkins,
		Profiles: profiles,
		Workflow: mgr,
		Service:  svc,
		Daemon:   d,
	}, nil
}

// Start binds background work to ctx and starts the daemon.
func (r *Runtime) Start(ctx context.Context) error {
	r.Pipeline.Bind(ctx)
	r.CheckIns.Bind(ctx)
	return r.Daemon.Start(ctx)
}

// Shutdown stops the daemon, drains background work and closes the store.
func (r *Runtime) Shutdown() error {
	r.Daemon.Stop()
	r.Pipeline.Wait()
	r.CheckIns.Wait()
	return r.Daemon.Close()
}

// Run starts the reverie daemon and blocks until ctx ends or the process
// receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405")
	logPath := filepath.Join(cfg.Paths.LogDir, "reverie-"+runID+".log")
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		FilePaths:   []string{logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(CurrentLogPath(cfg), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update reverie.log link: %v\n", err)
	}
	logging.CleanupRunLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, logPath)

	rt, err := Build(cfg, logger, nil)
	if err != nil {
		logger.Error("daemon build failed", logging.Error(err))
		return err
	}
	defer rt.Shutdown()

	if err := rt.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, the lock file and database access"),
		)
		return err
	}

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	<-signalCtx.Done()
	logger.Info("reverie daemon shutting down")
	return nil
}

// PIDPath returns the file the running daemon records its pid in.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "reverie.pid")
}

// CurrentLogPath returns the link that points at the latest run log.
func CurrentLogPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "reverie.log")
}

func ensureCurrentLogPointer(current, target string) error {
	if current == "" || target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.LLM.APIKey) != ""),
		logging.String("llm_model", cfg.LLM.Model),
		logging.String("transcription_backend", cfg.Transcription.Backend),
		logging.Bool("transcription_key_present", strings.TrimSpace(cfg.Transcription.APIKey) != ""),
		logging.Bool("image_enabled", cfg.Image.Enabled),
		logging.Bool("video_enabled", cfg.Video.Enabled),
		logging.Bool("whisperx_cuda", cfg.Transcription.WhisperXCUDAEnabled),
		logging.String("auto_stages", strings.Join(cfg.Pipeline.AutoStages, ",")),
		logging.Bool("ntfy_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("api_token_set", strings.TrimSpace(cfg.Paths.APIToken) != ""),
	)
}
