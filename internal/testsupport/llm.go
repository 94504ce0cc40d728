package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// LLMResponder returns the completion content for a system/user prompt pair.
// A non-nil error becomes an HTTP 400 so the client does not retry.
type LLMResponder func(system, user string) (string, error)

// StubLLM is an httptest chat-completions endpoint.
type StubLLM struct {
	Server *httptest.Server

	mu      sync.Mutex
	prompts []string
}

// NewStubLLM starts a stub server answering with respond.
func NewStubLLM(t testing.TB, respond LLMResponder) *StubLLM {
	t.Helper()

	stub := &StubLLM{}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var system, user string
		for _, msg := range req.Messages {
			switch msg.Role {
			case "system":
				system = msg.Content
			case "user":
				user = msg.Content
			}
		}
		stub.mu.Lock()
		stub.prompts = append(stub.prompts, system)
		stub.mu.Unlock()

		content, err := respond(system, user)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
	t.Cleanup(stub.Server.Close)
	return stub
}

// URL returns the endpoint to configure as llm.base_url.
func (s *StubLLM) URL() string {
	return s.Server.URL
}

// Calls counts requests whose system prompt contains marker.
func (s *StubLLM) Calls(marker string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, prompt := range s.prompts {
		if strings.Contains(prompt, marker) {
			count++
		}
	}
	return count
}
