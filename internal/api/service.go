package api

import (
	"context"
	"strings"

	"reverie/internal/checkin"
	"reverie/internal/pipeline"
	"reverie/internal/profile"
	"reverie/internal/services"
	"reverie/internal/store"
)

// Service is the operation surface exposed over HTTP and MCP.
type Service interface {
	CreateDream(ctx context.Context, req CreateDreamRequest) (Dream, error)
	ListDreams(ctx context.Context, userID string) ([]Dream, error)
	GetDream(ctx context.Context, id string) (Dream, error)
	AddSegment(ctx context.Context, dreamID string, req AddSegmentRequest) (Segment, error)
	DeleteSegment(ctx context.Context, dreamID, segmentID string) error
	FinishDream(ctx context.Context, id string) (Dream, error)
	GenerateStage(ctx context.Context, id, stage string, force bool) (Stage, error)
	RecoverDream(ctx context.Context, id string) (RecoveryReport, error)
	RecordAnswer(ctx context.Context, dreamID string, req AnswerRequest) (Answer, error)
	SubmitCheckIn(ctx context.Context, req CheckInRequest) (CheckIn, error)
	GetCheckIn(ctx context.Context, id string) (CheckIn, error)
	RetryCheckIn(ctx context.Context, id string) (CheckIn, error)
	GetProfile(ctx context.Context, userID string) (Profile, error)
}

// Local implements Service over the in-process pipeline.
type Local struct {
	store    *store.Store
	pipeline *pipeline.Pipeline
	checkins *checkin.Service
	profiles *profile.Service
}

// NewLocal wires a Local service.
func NewLocal(st *store.Store, p *pipeline.Pipeline, checkins *checkin.Service, profiles *profile.Service) *Local {
	return &Local{store: st, pipeline: p, checkins: checkins, profiles: profiles}
}

var _ Service = (*Local)(nil)

// CreateDream stores a draft dream.
func (l *Local) CreateDream(ctx context.Context, req CreateDreamRequest) (Dream, error) {
	dream, err := l.store.CreateDream(ctx, store.NewDream{
		ID:             req.ID,
		UserID:         req.UserID,
		Title:          req.Title,
		AdditionalInfo: req.AdditionalInfo,
	})
	if err != nil {
		return Dream{}, err
	}
	return FromDream(dream), nil
}

// ListDreams returns a user's dreams without segments or stages.
func (l *Local) ListDreams(ctx context.Context, userID string) ([]Dream, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, services.Wrap(services.ErrValidation, "api", "list dreams", "user_id is required", nil)
	}
	dreams, err := l.store.ListDreams(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Dream, 0, len(dreams))
	for _, d := range dreams {
		out = append(out, FromDream(d))
	}
	return out, nil
}

// GetDream returns the full view of a dream.
func (l *Local) GetDream(ctx context.Context, id string) (Dream, error) {
	view, err := l.pipeline.GetDreamView(ctx, id)
	if err != nil {
		return Dream{}, err
	}
	return FromDreamView(view), nil
}

// AddSegment validates and appends a segment.
func (l *Local) AddSegment(ctx context.Context, dreamID string, req AddSegmentRequest) (Segment, error) {
	modality, ok := store.ParseModality(req.Modality)
	if !ok {
		return Segment{}, services.Wrap(services.ErrValidation, "api", "add segment", "modality must be audio or text", nil)
	}
	in := store.NewSegment{DreamID: dreamID, Order: req.Order, Modality: modality, DurationSeconds: req.DurationSeconds}
	switch modality {
	case store.ModalityText:
		if strings.TrimSpace(req.Text) == "" {
			return Segment{}, services.Wrap(services.ErrValidation, "api", "add segment", "text segments need text", nil)
		}
		in.ContentText = req.Text
	case store.ModalityAudio:
		if strings.TrimSpace(req.ContentRef) == "" {
			return Segment{}, services.Wrap(services.ErrValidation, "api", "add segment", "audio segments need content_ref", nil)
		}
		in.ContentRef = req.ContentRef
	}
	seg, err := l.pipeline.AddSegment(ctx, in)
	if err != nil {
		return Segment{}, err
	}
	return FromSegment(seg), nil
}

// DeleteSegment removes a segment that is not being transcribed.
func (l *Local) DeleteSegment(ctx context.Context, dreamID, segmentID string) error {
	_, err := l.pipeline.DeleteSegment(ctx, dreamID, segmentID)
	return err
}

// FinishDream blocks until the summary is terminal or the finish timeout
// elapses. On timeout the latest view is returned with the error.
func (l *Local) FinishDream(ctx context.Context, id string) (Dream, error) {
	view, err := l.pipeline.FinishDream(ctx, id)
	return FromDreamView(view), err
}

// GenerateStage runs one stage synchronously.
func (l *Local) GenerateStage(ctx context.Context, id, stage string, force bool) (Stage, error) {
	parsed, ok := store.ParseStage(stage)
	if !ok {
		return Stage{}, services.Wrap(services.ErrValidation, "api", "generate", "unknown stage "+stage, nil)
	}
	state, err := l.pipeline.RunStage(ctx, id, parsed, force)
	return FromStage(state), err
}

// RecoverDream runs the recovery controller for one dream.
func (l *Local) RecoverDream(ctx context.Context, id string) (RecoveryReport, error) {
	report, err := l.pipeline.Recover(ctx, id)
	if err != nil {
		return RecoveryReport{}, err
	}
	return FromRecovery(report), nil
}

// RecordAnswer stores the reply to one interpretation question.
func (l *Local) RecordAnswer(ctx context.Context, dreamID string, req AnswerRequest) (Answer, error) {
	answer, err := l.store.RecordAnswer(ctx, dreamID, req.QuestionIndex, req.ChoiceIndex, req.CustomAnswer)
	if err != nil {
		return Answer{}, err
	}
	return FromAnswer(answer), nil
}

// SubmitCheckIn stores a check-in; its insight is generated in the
// background.
func (l *Local) SubmitCheckIn(ctx context.Context, req CheckInRequest) (CheckIn, error) {
	c, err := l.checkins.Submit(ctx, store.NewCheckIn{UserID: req.UserID, Text: req.Text, MoodScores: req.MoodScores})
	if err != nil {
		return CheckIn{}, err
	}
	return FromCheckIn(c), nil
}

// GetCheckIn returns a check-in.
func (l *Local) GetCheckIn(ctx context.Context, id string) (CheckIn, error) {
	c, err := l.checkins.Get(ctx, id)
	if err != nil {
		return CheckIn{}, err
	}
	return FromCheckIn(c), nil
}

// RetryCheckIn re-runs insight generation unless the ceiling was reached.
func (l *Local) RetryCheckIn(ctx context.Context, id string) (CheckIn, error) {
	c, err := l.checkins.Retry(ctx, id)
	return FromCheckIn(c), err
}

// GetProfile returns a user's aggregates.
func (l *Local) GetProfile(ctx context.Context, userID string) (Profile, error) {
	snap, err := l.profiles.Get(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return FromProfile(snap), nil
}
