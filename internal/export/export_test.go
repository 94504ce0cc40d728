package export_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"reverie/internal/export"
	"reverie/internal/lifecycle"
	"reverie/internal/services"
	"reverie/internal/store"
	"reverie/internal/testsupport"
)

func TestWorkbookWritesDreamsAndCheckIns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	dream := testsupport.NewDream(t, st, "user-1")
	testsupport.AddText(t, st, dream.ID, 0, "A lighthouse in fog.")
	if _, err := st.SetTranscript(ctx, dream.ID, "A lighthouse in fog."); err != nil {
		t.Fatalf("SetTranscript failed: %v", err)
	}
	if _, err := st.TransitionStage(ctx, dream.ID, store.StageSummary, lifecycle.EventStart, store.StageOutcome{}); err != nil {
		t.Fatalf("start summary failed: %v", err)
	}
	if _, err := st.TransitionStage(ctx, dream.ID, store.StageSummary, lifecycle.EventSucceed, store.StageOutcome{Artifact: "You watch a lighthouse."}); err != nil {
		t.Fatalf("complete summary failed: %v", err)
	}
	testsupport.NewDream(t, st, "someone-else")
	if _, err := st.CreateCheckIn(ctx, store.NewCheckIn{UserID: "user-1", Text: "Foggy morning", MoodScores: map[string]float64{"calm": 0.5, "anxious": 0.25}}); err != nil {
		t.Fatalf("CreateCheckIn failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "journal.xlsx")
	result, err := export.Workbook(ctx, st, "user-1", path)
	if err != nil {
		t.Fatalf("Workbook failed: %v", err)
	}
	if result.Dreams != 1 || result.CheckIns != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Dreams")
	if err != nil {
		t.Fatalf("GetRows(Dreams) failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one dream, got %d rows", len(rows))
	}
	if rows[1][0] != dream.ID || rows[1][4] != "A lighthouse in fog." || rows[1][5] != "You watch a lighthouse." {
		t.Fatalf("unexpected dream row %v", rows[1])
	}

	rows, err = f.GetRows("Check-ins")
	if err != nil {
		t.Fatalf("GetRows(Check-ins) failed: %v", err)
	}
	if len(rows) != 2 || rows[1][3] != "anxious: 0.25, calm: 0.50" || rows[1][4] != "pending" {
		t.Fatalf("unexpected check-in rows %v", rows)
	}
}

func TestWorkbookRequiresUser(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	_, err := export.Workbook(context.Background(), st, " ", filepath.Join(t.TempDir(), "x.xlsx"))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
