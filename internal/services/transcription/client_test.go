package transcription_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"

	"reverie/internal/services/transcription"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment-1.m4a")
	if err := os.WriteFile(path, []byte("fake audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func noWait() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
}

func TestTranscribeUploadsMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("unexpected model %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("unexpected language %q", got)
		}
		if _, header, err := r.FormFile("file"); err != nil || header.Filename != "segment-1.m4a" {
			t.Errorf("unexpected file part: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": " I opened the door. "})
	}))
	defer server.Close()

	client := transcription.NewClient(transcription.Config{BaseURL: server.URL, APIKey: "k", Model: "whisper-1", Language: "en"})
	text, err := client.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "I opened the door." {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "second try"})
	}))
	defer server.Close()

	client := transcription.NewClient(transcription.Config{BaseURL: server.URL, APIKey: "k"}, transcription.WithBackOff(noWait))
	text, err := client.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "second try" || calls.Load() != 2 {
		t.Fatalf("unexpected result %q after %d calls", text, calls.Load())
	}
}

func TestTranscribeDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer server.Close()

	client := transcription.NewClient(transcription.Config{BaseURL: server.URL, APIKey: "k"}, transcription.WithBackOff(noWait))
	if _, err := client.Transcribe(context.Background(), writeAudio(t)); err == nil {
		t.Fatal("expected 400 to fail")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestTranscribeRequiresAPIKey(t *testing.T) {
	client := transcription.NewClient(transcription.Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := client.Transcribe(context.Background(), writeAudio(t)); err == nil {
		t.Fatal("expected missing key to fail")
	}
}
