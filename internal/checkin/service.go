package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"reverie/internal/config"
	"reverie/internal/lifecycle"
	"reverie/internal/logging"
	"reverie/internal/notifications"
	"reverie/internal/retry"
	"reverie/internal/services"
	"reverie/internal/stageexec"
	"reverie/internal/store"
)

const (
	// InsightType labels generated insights.
	InsightType = "subconscious"
	// InsightVersion is bumped when the prompt changes materially.
	InsightVersion = 1

	analysisExcerpt = 200
	sweepBatch      = 20
)

const insightSystemPrompt = `You are the user's inner voice, offering a brief, personal insight that connects how they feel
today to patterns in their recent dreams. Write in second person, at most 120 words, and start with
"Deep down, you". Be specific: reference actual dream symbols or themes when they are relevant, and
close with a compassionate, actionable perspective.`

// Completer produces insight prose.
type Completer interface {
	CompleteText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Service owns the check-in insight lifecycle.
type Service struct {
	cfg      *config.Config
	store    *store.Store
	llm      Completer
	logger   *slog.Logger
	notifier notifications.Service
	policy   retry.Policy[*store.CheckIn]

	wg      sync.WaitGroup
	mu      sync.RWMutex
	baseCtx context.Context

	// active holds check-ins a Drive or Sweep is working on.
	activeMu sync.Mutex
	active   map[string]struct{}
}

// NewService constructs a check-in service.
func NewService(cfg *config.Config, st *store.Store, llm Completer, logger *slog.Logger, notifier notifications.Service) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	return &Service{
		cfg:      cfg,
		store:    st,
		llm:      llm,
		logger:   logging.NewComponentLogger(logger, "checkin"),
		notifier: notifier,
		policy: retry.Policy[*store.CheckIn]{
			Name:      "checkin",
			Ceiling:   cfg.Pipeline.CheckInRetryCeiling,
			Attempts:  func(c *store.CheckIn) int { return c.RetryCount },
			BaseDelay: cfg.CheckInRetryBaseDelay(),
			MaxDelay:  time.Minute,
		},
		baseCtx: context.Background(),
		active:  make(map[string]struct{}),
	}
}

// Bind sets the context background drivers run under.
func (s *Service) Bind(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
}

// Wait blocks until background drivers have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Submit stores a pending check-in and starts generating its insight in the
// background.
func (s *Service) Submit(ctx context.Context, in store.NewCheckIn) (*store.CheckIn, error) {
	checkIn, err := s.store.CreateCheckIn(ctx, in)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	base := s.baseCtx
	s.mu.RUnlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Drive(base, checkIn.ID); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("insight driver stopped", logging.String(logging.FieldCheckInID, checkIn.ID), logging.Error(err))
		}
	}()
	return checkIn, nil
}

// Get returns a check-in or an error matching services.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*store.CheckIn, error) {
	checkIn, err := s.store.GetCheckIn(ctx, id)
	if err != nil {
		return nil, err
	}
	if checkIn == nil {
		return nil, services.Wrap(services.ErrNotFound, "checkin", "get", "checkin "+id, nil)
	}
	return checkIn, nil
}

// List returns a user's check-ins, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]*store.CheckIn, error) {
	return s.store.ListCheckIns(ctx, userID)
}

// Drive re-attempts generation with exponential backoff until the insight
// completes or the retry ceiling is reached. Only one Drive or Sweep works
// on a check-in at a time; a second caller gets services.ErrAlreadyInProgress.
func (s *Service) Drive(ctx context.Context, id string) error {
	if !s.acquire(id) {
		return services.Wrap(services.ErrAlreadyInProgress, "checkin", "drive", "checkin "+id+" is being driven", nil)
	}
	defer s.release(id)
	load := func(ctx context.Context) (*store.CheckIn, error) { return s.Get(ctx, id) }
	return s.policy.Run(ctx, load, func(ctx context.Context, checkIn *store.CheckIn) error {
		switch checkIn.InsightStatus {
		case lifecycle.StatusCompleted:
			return nil
		case lifecycle.StatusProcessing:
			return retry.Stop(services.Wrap(services.ErrAlreadyInProgress, "checkin", "drive", "checkin "+id, nil))
		}
		_, err := s.generate(ctx, checkIn)
		if errors.Is(err, services.ErrAlreadyInProgress) || errors.Is(err, services.ErrRetryExhausted) {
			return retry.Stop(err)
		}
		return err
	})
}

// Retry is the manual retry. Completed check-ins are returned unchanged;
// exhausted ones fail with services.ErrRetryExhausted.
func (s *Service) Retry(ctx context.Context, id string) (*store.CheckIn, error) {
	checkIn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch checkIn.InsightStatus {
	case lifecycle.StatusCompleted:
		return checkIn, nil
	case lifecycle.StatusProcessing:
		return checkIn, services.Wrap(services.ErrAlreadyInProgress, "checkin", "retry", "insight is being generated", nil)
	}
	if err := s.policy.Allow(checkIn); err != nil {
		return checkIn, err
	}
	return s.generate(ctx, checkIn)
}

// Sweep makes one attempt for every check-in that is pending or failed below
// the ceiling and not owned by a running Drive. The workflow calls it
// periodically so insights survive restarts.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	candidates, err := s.store.RetryableCheckIns(ctx, s.cfg.Pipeline.CheckInRetryCeiling, sweepBatch)
	if err != nil {
		return 0, err
	}
	completed := 0
	for _, checkIn := range candidates {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		if s.sweepOne(ctx, checkIn) {
			completed++
		}
	}
	return completed, nil
}

func (s *Service) sweepOne(ctx context.Context, checkIn *store.CheckIn) bool {
	if !s.acquire(checkIn.ID) {
		return false
	}
	defer s.release(checkIn.ID)
	_, err := s.generate(ctx, checkIn)
	return err == nil
}

func (s *Service) acquire(id string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if _, busy := s.active[id]; busy {
		return false
	}
	s.active[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.activeMu.Lock()
	delete(s.active, id)
	s.activeMu.Unlock()
}

// generate runs one claimed attempt. The claim itself enforces the retry
// ceiling, so a check-in that ran out of attempts after it was listed is
// refused with services.ErrRetryExhausted.
func (s *Service) generate(ctx context.Context, checkIn *store.CheckIn) (*store.CheckIn, error) {
	current, err := s.store.TransitionCheckIn(ctx, checkIn.ID, lifecycle.EventStart, store.InsightOutcome{
		MaxAttempts: s.policy.Ceiling,
	})
	if err != nil {
		var transitionErr *lifecycle.TransitionError
		if !errors.As(err, &transitionErr) {
			return nil, err
		}
		if current != nil && current.InsightStatus != lifecycle.StatusProcessing {
			if exhausted := s.policy.Allow(current); exhausted != nil {
				return current, exhausted
			}
		}
		return current, services.Wrap(services.ErrAlreadyInProgress, "checkin", "claim",
			fmt.Sprintf("insight is %s", transitionErr.From), nil)
	}
	ctx = services.WithCheckInID(ctx, checkIn.ID)

	var (
		text     string
		metadata string
	)
	runErr := stageexec.Run(ctx, stageexec.Options{
		Logger:    s.logger,
		Notifier:  s.notifier,
		Label:     "insight",
		Heartbeat: func(hbCtx context.Context) error { return s.store.CheckInHeartbeat(hbCtx, checkIn.ID) },
		Interval:  s.cfg.HeartbeatInterval(),
	}, func(runCtx context.Context) error {
		prompt, meta, err := s.buildPrompt(runCtx, checkIn)
		if err != nil {
			return err
		}
		metadata = meta
		if s.llm == nil {
			return errors.New("llm client not configured")
		}
		out, err := s.llm.CompleteText(runCtx, insightSystemPrompt, prompt)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(out)
		if text == "" {
			return errors.New("insight response was empty")
		}
		return nil
	})
	if errors.Is(runErr, context.Canceled) {
		return nil, runErr
	}

	settleCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		failed, err := s.store.TransitionCheckIn(settleCtx, checkIn.ID, lifecycle.EventFail, store.InsightOutcome{Reason: runErr.Error()})
		if err != nil {
			return nil, fmt.Errorf("record insight failure: %w", err)
		}
		if remaining := s.policy.Remaining(failed); remaining == 0 {
			logging.WarnWithContext(logging.WithContext(ctx, s.logger), "insight retries exhausted", "insight_retry_exhausted",
				logging.Int("retry_count", failed.RetryCount),
				logging.String(logging.FieldImpact, "check-in keeps no insight"),
			)
		}
		return failed, services.Wrap(services.ErrGenerationFailed, "checkin", "generate", "", runErr)
	}

	done, err := s.store.TransitionCheckIn(settleCtx, checkIn.ID, lifecycle.EventSucceed, store.InsightOutcome{
		Text:                text,
		Type:                InsightType,
		Version:             InsightVersion,
		ContextMetadataJSON: metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("record insight: %w", err)
	}
	if err := s.notifier.Publish(settleCtx, notifications.EventInsightReady, notifications.Payload{
		"title":   "check-in insight",
		"message": done.InsightText,
	}); err != nil {
		s.logger.Debug("insight notification failed", logging.Error(err))
	}
	return done, nil
}

type dreamContext struct {
	Date     string `json:"date"`
	Title    string `json:"title,omitempty"`
	Analysis string `json:"analysis"`
}

type insightContext struct {
	CheckInTime  string             `json:"checkin_time"`
	MoodScores   map[string]float64 `json:"mood_scores,omitempty"`
	Archetype    string             `json:"archetype,omitempty"`
	RecentDreams []dreamContext     `json:"recent_dreams"`
}

func (s *Service) buildPrompt(ctx context.Context, checkIn *store.CheckIn) (string, string, error) {
	dreams, err := s.store.RecentAnalysedDreams(ctx, checkIn.UserID, s.cfg.Pipeline.InsightRecentDreams)
	if err != nil {
		return "", "", err
	}
	info := insightContext{
		CheckInTime:  checkIn.CreatedAt.UTC().Format(time.RFC3339),
		MoodScores:   checkIn.MoodScores,
		RecentDreams: make([]dreamContext, 0, len(dreams)),
	}
	if profile, err := s.store.GetProfile(ctx, checkIn.UserID); err == nil && profile != nil {
		info.Archetype = profile.Archetype
	}
	for _, d := range dreams {
		info.RecentDreams = append(info.RecentDreams, dreamContext{
			Date:     d.Dream.CreatedAt.UTC().Format(time.DateOnly),
			Title:    d.Dream.Title,
			Analysis: excerpt(d.Analysis, analysisExcerpt),
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Today's check-in:\n%q\n", checkIn.Text)
	if len(info.MoodScores) > 0 {
		b.WriteString("\nMood scores:\n")
		for _, name := range slices.Sorted(maps.Keys(info.MoodScores)) {
			fmt.Fprintf(&b, "- %s: %.1f\n", name, info.MoodScores[name])
		}
	}
	if info.Archetype != "" {
		fmt.Fprintf(&b, "\nDreamer archetype: %s\n", info.Archetype)
	}
	if len(info.RecentDreams) > 0 {
		b.WriteString("\nRecent dreams and their interpretations:\n")
		for _, d := range info.RecentDreams {
			fmt.Fprintf(&b, "- %s: %s\n  Key insight: %s\n", d.Date, d.Title, d.Analysis)
		}
	}

	encoded, err := json.Marshal(info)
	if err != nil {
		return "", "", fmt.Errorf("encode insight context: %w", err)
	}
	return b.String(), string(encoded), nil
}

func excerpt(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "..."
}
