package main

import (
	"fmt"
	"strings"
	"testing"

	"reverie/internal/api"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Reverie", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Reverie:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Reverie", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestParseMoodScores(t *testing.T) {
	scores, err := parseMoodScores([]string{"calm=0.5", " joy = 1"})
	if err != nil {
		t.Fatalf("parseMoodScores failed: %v", err)
	}
	if scores["calm"] != 0.5 || scores["joy"] != 1 {
		t.Fatalf("unexpected scores %v", scores)
	}
	for _, bad := range []string{"calm", "=1", "calm=high"} {
		if _, err := parseMoodScores([]string{bad}); err == nil {
			t.Fatalf("expected %q to fail", bad)
		}
	}
	if scores, err := parseMoodScores(nil); err != nil || scores != nil {
		t.Fatalf("expected nil scores, got %v %v", scores, err)
	}
}

func TestAnswerRequest(t *testing.T) {
	req, err := answerRequest(2, 3, "")
	if err != nil {
		t.Fatalf("answerRequest failed: %v", err)
	}
	if req.QuestionIndex != 1 || req.ChoiceIndex == nil || *req.ChoiceIndex != 2 {
		t.Fatalf("unexpected request %+v", req)
	}

	req, err = answerRequest(1, 0, " the sea ")
	if err != nil {
		t.Fatalf("answerRequest failed: %v", err)
	}
	if req.ChoiceIndex != nil || req.CustomAnswer != "the sea" {
		t.Fatalf("unexpected custom request %+v", req)
	}

	if _, err := answerRequest(1, 0, ""); err == nil {
		t.Fatal("expected missing choice to fail")
	}
}

func TestNextOrder(t *testing.T) {
	if got := nextOrder(api.Dream{}); got != 0 {
		t.Fatalf("expected 0 for empty dream, got %d", got)
	}
	dream := api.Dream{Segments: []api.Segment{{Order: 0}, {Order: 4}, {Order: 2}}}
	if got := nextOrder(dream); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}

func TestCountAndKeywordRows(t *testing.T) {
	rows := countRows(map[string]map[string]int{
		"stages":   {"pending": 1, "completed": 2},
		"checkins": {"failed": 1},
	})
	want := [][]string{{"checkins", "failed", "1"}, {"stages", "completed", "2"}, {"stages", "pending", "1"}}
	if fmt.Sprint(rows) != fmt.Sprint(want) {
		t.Fatalf("countRows = %v, want %v", rows, want)
	}

	keywords := keywordRows(map[string]int{"water": 2, "flight": 3, "house": 2})
	if fmt.Sprint(keywords) != "[[flight 3] [house 2] [water 2]]" {
		t.Fatalf("unexpected keyword order %v", keywords)
	}
}

func TestStageTitle(t *testing.T) {
	if got := stageTitle("expanded_analysis"); got != "Expanded Analysis" {
		t.Fatalf("stageTitle = %q", got)
	}
}
