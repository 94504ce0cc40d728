package videogen_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"reverie/internal/services/videogen"
)

type jobServer struct {
	mu        sync.Mutex
	submitted videogen.Job
	statuses  []videogen.JobStatus
	polls     int
}

func (s *jobServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("unexpected authorization %q", got)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&s.submitted); err != nil {
			t.Errorf("decode job: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "job-7"})
	})
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if r.PathValue("id") != "job-7" {
			http.NotFound(w, r)
			return
		}
		idx := min(s.polls, len(s.statuses)-1)
		s.polls++
		_ = json.NewEncoder(w).Encode(s.statuses[idx])
	})
	return mux
}

func newJobServer(t *testing.T, statuses ...videogen.JobStatus) (*jobServer, *videogen.Client) {
	t.Helper()
	js := &jobServer{statuses: statuses}
	srv := httptest.NewServer(js.handler(t))
	t.Cleanup(srv.Close)
	client := videogen.NewClient(videogen.Config{
		BaseURL:      srv.URL + "/",
		APIKey:       "k",
		PollInterval: 10 * time.Millisecond,
		Timeout:      2 * time.Second,
	}, nil)
	return js, client
}

func TestRenderPollsUntilCompleted(t *testing.T) {
	js, client := newJobServer(t,
		videogen.JobStatus{JobID: "job-7", Status: videogen.StatusQueued},
		videogen.JobStatus{JobID: "job-7", Status: videogen.StatusProcessing},
		videogen.JobStatus{JobID: "job-7", Status: videogen.StatusCompleted, VideoURL: "https://videos.example/job-7.mp4"},
	)
	result, err := client.Render(context.Background(), videogen.Job{
		DreamID:    "d1",
		Transcript: "a lighthouse\n\nthe tide",
		Segments:   []videogen.Segment{{Order: 0, Transcript: "a lighthouse"}, {Order: 1, Transcript: "the tide"}},
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if result.JobID != "job-7" || result.URL != "https://videos.example/job-7.mp4" || result.Polls != 3 {
		t.Fatalf("unexpected result %#v", result)
	}
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.submitted.DreamID != "d1" || len(js.submitted.Segments) != 2 {
		t.Fatalf("unexpected submitted job %#v", js.submitted)
	}
}

func TestRenderSurfacesJobFailure(t *testing.T) {
	_, client := newJobServer(t,
		videogen.JobStatus{JobID: "job-7", Status: videogen.StatusFailed, Error: "compositor crashed"},
	)
	result, err := client.Render(context.Background(), videogen.Job{DreamID: "d1", Transcript: "fog"})
	if err == nil || !strings.Contains(err.Error(), "compositor crashed") {
		t.Fatalf("expected job failure, got %v", err)
	}
	if result.JobID != "job-7" {
		t.Fatalf("expected job id on failure, got %#v", result)
	}
}

func TestRenderTimesOut(t *testing.T) {
	js, _ := newJobServer(t, videogen.JobStatus{JobID: "job-7", Status: videogen.StatusProcessing})
	srv := httptest.NewServer(js.handler(t))
	t.Cleanup(srv.Close)
	client := videogen.NewClient(videogen.Config{
		BaseURL:      srv.URL,
		APIKey:       "k",
		PollInterval: 10 * time.Millisecond,
		Timeout:      100 * time.Millisecond,
	}, nil)
	_, err := client.Render(context.Background(), videogen.Job{DreamID: "d1", Transcript: "fog"})
	if err == nil || !strings.Contains(err.Error(), "deadline") {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestRenderRequiresTranscript(t *testing.T) {
	client := videogen.NewClient(videogen.Config{BaseURL: "http://127.0.0.1:9"}, nil)
	if _, err := client.Render(context.Background(), videogen.Job{DreamID: "d1"}); err == nil {
		t.Fatal("expected empty transcript to fail")
	}
}
