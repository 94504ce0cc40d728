package services_test

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"reverie/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "summary", "generate", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"summary", "generate", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{services.Wrap(services.ErrNotFound, "store", "get", "missing", nil), http.StatusNotFound},
		{fmt.Errorf("outer: %w", services.ErrDuplicateOrder), http.StatusConflict},
		{services.ErrAlreadyInProgress, http.StatusConflict},
		{services.ErrNoTranscript, http.StatusUnprocessableEntity},
		{services.ErrTimeout, http.StatusGatewayTimeout},
		{services.ErrValidation, http.StatusBadRequest},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := services.HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestCodeNamesMarker(t *testing.T) {
	err := services.Wrap(services.ErrNoTranscript, "analysis", "run", "empty", nil)
	if got := services.Code(err); got != "no_transcript" {
		t.Fatalf("unexpected code %q", got)
	}
	if got := services.Code(nil); got != "" {
		t.Fatalf("expected empty code for nil, got %q", got)
	}
}
