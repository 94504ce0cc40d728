package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"reverie/internal/config"
	"reverie/internal/lifecycle"
	"reverie/internal/logging"
	"reverie/internal/pipeline"
	"reverie/internal/services/imagegen"
	"reverie/internal/services/llm"
	"reverie/internal/store"
	"reverie/internal/testsupport"
	"reverie/internal/transcribe"
)

type scriptedBackend struct {
	mu    sync.Mutex
	text  map[string]string
	fail  map[string]error
	calls map[string]int
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{
		text:  make(map[string]string),
		fail:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (b *scriptedBackend) Transcribe(_ context.Context, path string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ref, text := range b.text {
		if strings.HasSuffix(path, ref) {
			b.calls[ref]++
			if err := b.fail[ref]; err != nil {
				return "", err
			}
			return text, nil
		}
	}
	return "", errors.New("unknown recording " + path)
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) set(ref, text string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text[ref] = text
	if err != nil {
		b.fail[ref] = err
	} else {
		delete(b.fail, ref)
	}
}

func (b *scriptedBackend) count(ref string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[ref]
}

// summaryResponder answers every prompt kind with a fixed, valid payload.
func summaryResponder(system, _ string) (string, error) {
	switch {
	case strings.Contains(system, "dream summarizer"):
		return `{"title": "the  glass  staircase", "summary": "You climb a staircase made of water."}`, nil
	case strings.Contains(system, "interpretation questions"):
		return `{"questions": [{"question": "How did the water feel?", "choices": ["Calm", "Cold", ""]}, {"question": "  "}]}`, nil
	case strings.Contains(system, "visual elements"):
		return `{"elements": ["water staircase", " moonlight "]}`, nil
	case strings.Contains(system, "expanded"):
		return "A longer reading.", nil
	default:
		return "The staircase suggests a transition.", nil
	}
}

type harness struct {
	cfg     *config.Config
	store   *store.Store
	llm     *testsupport.StubLLM
	backend *scriptedBackend
	worker  *transcribe.Worker
	p       *pipeline.Pipeline
}

func newHarness(t *testing.T, respond testsupport.LLMResponder, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	stub := testsupport.NewStubLLM(t, respond)
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithLLM(stub.URL())}, opts...)...)
	return newHarnessWithConfig(t, cfg, stub, pipeline.Deps{})
}

// newHarnessWithConfig wires the pipeline; extra supplies the image and
// video collaborators.
func newHarnessWithConfig(t *testing.T, cfg *config.Config, stub *testsupport.StubLLM, extra pipeline.Deps) *harness {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	backend := newScriptedBackend()
	worker := transcribe.NewWorker(cfg, st, backend, logging.NewNop(), nil)
	client := llm.NewClient(llm.Config{APIKey: "test", BaseURL: stub.URL(), Model: "stub-model"}, llm.WithRetryMaxAttempts(1))
	p := pipeline.New(cfg, st, pipeline.Deps{
		LLM:         client,
		Images:      extra.Images,
		Videos:      extra.Videos,
		Transcriber: worker,
		Logger:      logging.NewNop(),
	})
	t.Cleanup(p.Wait)
	return &harness{cfg: cfg, store: st, llm: stub, backend: backend, worker: worker, p: p}
}

func newImageServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	prompts := []string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		prompts = append(prompts, req.Prompt)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [{"url": "https://images.example/dream.png", "revised_prompt": "revised"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &prompts
}

func newImageClient(url string) *imagegen.Client {
	return imagegen.NewClient(imagegen.Config{BaseURL: url, APIKey: "test", Model: "img-model", Size: "1024x1024"}, nil)
}

func mustFail(t *testing.T, st *store.Store, segmentID string) {
	t.Helper()
	if _, err := st.MarkSegmentStatus(context.Background(), segmentID, lifecycle.EventFail, store.SegmentMark{Reason: "decoder failed"}); err != nil {
		t.Fatalf("MarkSegmentStatus failed: %v", err)
	}
}

func mustStage(t *testing.T, st *store.Store, dreamID string, stage store.Stage) *store.StageState {
	t.Helper()
	state, err := st.GetStage(context.Background(), dreamID, stage)
	if err != nil {
		t.Fatalf("GetStage failed: %v", err)
	}
	return state
}

func mustDream(t *testing.T, st *store.Store, dreamID string) *store.Dream {
	t.Helper()
	dream, err := st.MustGetDream(context.Background(), dreamID)
	if err != nil {
		t.Fatalf("MustGetDream failed: %v", err)
	}
	return dream
}
