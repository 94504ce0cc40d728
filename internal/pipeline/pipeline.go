package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"reverie/internal/config"
	"reverie/internal/logging"
	"reverie/internal/notifications"
	"reverie/internal/services/imagegen"
	"reverie/internal/services/videogen"
	"reverie/internal/store"
	"reverie/internal/transcribe"
)

// Completer is the chat-completion surface used by the text stages.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	CompleteText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}

// Illustrator renders the image stage.
type Illustrator interface {
	Generate(ctx context.Context, prompt string) (imagegen.Image, error)
}

// VideoRenderer runs a video job for the video stage.
type VideoRenderer interface {
	Render(ctx context.Context, job videogen.Job) (videogen.Result, error)
}

// Transcriber processes one segment and reports terminal transitions through
// its settled hook.
type Transcriber interface {
	Process(ctx context.Context, segmentID string) error
	OnSettled(fn transcribe.SettledFunc)
}

// DurationFunc measures an audio file in seconds.
type DurationFunc func(ctx context.Context, path string) (float64, error)

// SummaryHook observes completed summaries. The profile aggregator
// subscribes here.
type SummaryHook func(ctx context.Context, dream *store.Dream, summary string)

// Deps bundles the collaborators of a Pipeline. Images and Videos may be nil
// when their stage is disabled; Durations may be nil when no duration reader is
// available.
type Deps struct {
	LLM         Completer
	Images      Illustrator
	Videos      VideoRenderer
	Transcriber Transcriber
	Durations   DurationFunc
	Notifier    notifications.Service
	Logger      *slog.Logger
}

// Pipeline owns consolidation, stage execution, recovery and the finish wait.
type Pipeline struct {
	cfg         *config.Config
	store       *store.Store
	llm         Completer
	images      Illustrator
	videos      VideoRenderer
	transcriber Transcriber
	durations   DurationFunc
	notifier    notifications.Service
	logger      *slog.Logger
	hub         *Hub

	stageSlots   *semaphore.Weighted
	segmentSlots *semaphore.Weighted
	wg           sync.WaitGroup

	mu          sync.RWMutex
	baseCtx     context.Context
	summaryHook SummaryHook
}

// New constructs a pipeline and subscribes its barrier to the transcriber.
func New(cfg *config.Config, st *store.Store, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	stageWorkers := max(cfg.Pipeline.StageWorkers, 1)
	segmentWorkers := max(cfg.Pipeline.TranscriptionWorkers, 1)
	p := &Pipeline{
		cfg:          cfg,
		store:        st,
		llm:          deps.LLM,
		images:       deps.Images,
		videos:       deps.Videos,
		transcriber:  deps.Transcriber,
		durations:    deps.Durations,
		notifier:     notifier,
		logger:       logging.NewComponentLogger(logger, "pipeline"),
		hub:          NewHub(),
		stageSlots:   semaphore.NewWeighted(int64(stageWorkers)),
		segmentSlots: semaphore.NewWeighted(int64(segmentWorkers)),
		baseCtx:      context.Background(),
	}
	if p.transcriber != nil {
		p.transcriber.OnSettled(p.Settle)
	}
	return p
}

// Bind sets the context background work runs under. The daemon binds its
// run context so shutdown cancels in-flight generations.
func (p *Pipeline) Bind(ctx context.Context) {
	p.mu.Lock()
	p.baseCtx = ctx
	p.mu.Unlock()
}

// OnSummaryCompleted registers the hook run after a summary succeeds.
func (p *Pipeline) OnSummaryCompleted(fn SummaryHook) {
	p.mu.Lock()
	p.summaryHook = fn
	p.mu.Unlock()
}

// Hub exposes the change notifier so other components can wait on dreams.
func (p *Pipeline) Hub() *Hub {
	return p.hub
}

// Wait blocks until background stage and segment work has drained.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) background() context.Context {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.baseCtx
}

func (p *Pipeline) onSummary() SummaryHook {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.summaryHook
}

// spawn runs fn on a background goroutine when a slot is free. It reports
// false when the pool is saturated; the work then stays pending for the
// workflow poll to pick up.
func (p *Pipeline) spawn(slots *semaphore.Weighted, fn func(ctx context.Context)) bool {
	if !slots.TryAcquire(1) {
		return false
	}
	ctx := p.background()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer slots.Release(1)
		fn(ctx)
	}()
	return true
}
