package profile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"reverie/internal/logging"
	"reverie/internal/services"
	"reverie/internal/store"
)

// Snapshot is the profile view returned to callers.
type Snapshot struct {
	Summary *store.DreamSummary
	Profile *store.UserProfile
}

// Service recomputes dream summaries and archetype profiles.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// NewService constructs a profile aggregator.
func NewService(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{store: st, logger: logging.NewComponentLogger(logger, "profile")}
}

// OnSummaryCompleted matches the pipeline summary hook. Failures are logged;
// the next completed summary recomputes from scratch.
func (s *Service) OnSummaryCompleted(ctx context.Context, dream *store.Dream, _ string) {
	if dream == nil {
		return
	}
	if _, err := s.Recompute(ctx, dream.UserID); err != nil {
		logging.WarnWithContext(
			logging.WithContext(ctx, s.logger),
			"profile recompute failed",
			"profile_recompute_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "profile stays stale until the next summary"),
		)
	}
}

// Recompute rebuilds the dream summary counters and the archetype profile
// of userID from every summarized dream.
func (s *Service) Recompute(ctx context.Context, userID string) (Snapshot, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Snapshot{}, services.Wrap(services.ErrValidation, "profile", "recompute", "user id is required", nil)
	}
	dreams, err := s.store.SummarizedDreams(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}

	summary := store.DreamSummary{UserID: userID, ThemeKeywords: map[string]int{}}
	for _, d := range dreams {
		summary.DreamCount++
		summary.TotalDurationSeconds += d.DurationSeconds
		created := d.CreatedAt
		if summary.LastDreamAt == nil || created.After(*summary.LastDreamAt) {
			summary.LastDreamAt = &created
		}
		for _, kw := range ExtractKeywords(d.Summary) {
			summary.ThemeKeywords[kw]++
		}
	}
	if err := s.store.UpsertDreamSummary(ctx, summary); err != nil {
		return Snapshot{}, err
	}

	name, confidence := Archetype(summary.ThemeKeywords)
	prof := store.UserProfile{
		UserID:     userID,
		Archetype:  name,
		Confidence: confidence,
		TopThemes:  TopThemes(summary.ThemeKeywords),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.store.UpsertProfile(ctx, prof); err != nil {
		return Snapshot{}, err
	}
	s.logger.Debug("profile recomputed",
		logging.String("user_id", userID),
		logging.Int("dreams", summary.DreamCount),
		logging.String("archetype", name),
	)
	return Snapshot{Summary: &summary, Profile: &prof}, nil
}

// Get returns the stored aggregates. A user without summarized dreams gets
// an empty summary and the default archetype.
func (s *Service) Get(ctx context.Context, userID string) (Snapshot, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Snapshot{}, services.Wrap(services.ErrValidation, "profile", "get", "user id is required", nil)
	}
	summary, err := s.store.GetDreamSummary(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	prof, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if summary == nil {
		summary = &store.DreamSummary{UserID: userID, ThemeKeywords: map[string]int{}}
	}
	if prof == nil {
		name, confidence := Archetype(nil)
		prof = &store.UserProfile{UserID: userID, Archetype: name, Confidence: confidence}
	}
	return Snapshot{Summary: summary, Profile: prof}, nil
}
