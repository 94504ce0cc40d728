// Package export writes a user's dreams and check-ins to an .xlsx workbook.
package export

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"reverie/internal/lifecycle"
	"reverie/internal/services"
	"reverie/internal/store"
)

const (
	dreamsSheet   = "Dreams"
	checkInsSheet = "Check-ins"
	timeLayout    = "2006-01-02 15:04"
)

var dreamHeader = []any{"ID", "Created", "Title", "State", "Transcript", "Summary", "Analysis", "Expanded analysis", "Image", "Video"}

var checkInHeader = []any{"ID", "Created", "Text", "Mood scores", "Insight status", "Insight", "Retries"}

// Result counts what was written.
type Result struct {
	Path     string `json:"path"`
	Dreams   int    `json:"dreams"`
	CheckIns int    `json:"checkins"`
}

// Workbook writes every dream and check-in of userID to path. Stage columns
// hold the artifact of completed stages only.
func Workbook(ctx context.Context, st *store.Store, userID, path string) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "export", "workbook", "user id is required", nil)
	}
	dreams, err := st.ListDreams(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	checkIns, err := st.ListCheckIns(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", dreamsSheet); err != nil {
		return Result{}, fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeRow(f, dreamsSheet, 1, dreamHeader); err != nil {
		return Result{}, err
	}
	for i, dream := range dreams {
		stages, err := st.ListStages(ctx, dream.ID)
		if err != nil {
			return Result{}, err
		}
		row := []any{
			dream.ID,
			dream.CreatedAt.Local().Format(timeLayout),
			dream.Title,
			string(dream.State),
			dream.Transcript,
			artifact(stages, store.StageSummary),
			artifact(stages, store.StageAnalysis),
			artifact(stages, store.StageExpandedAnalysis),
			artifact(stages, store.StageImage),
			artifact(stages, store.StageVideo),
		}
		if err := writeRow(f, dreamsSheet, i+2, row); err != nil {
			return Result{}, err
		}
	}

	if _, err := f.NewSheet(checkInsSheet); err != nil {
		return Result{}, fmt.Errorf("add sheet: %w", err)
	}
	if err := writeRow(f, checkInsSheet, 1, checkInHeader); err != nil {
		return Result{}, err
	}
	for i, c := range checkIns {
		row := []any{
			c.ID,
			c.CreatedAt.Local().Format(timeLayout),
			c.Text,
			formatMoods(c.MoodScores),
			string(c.InsightStatus),
			c.InsightText,
			c.RetryCount,
		}
		if err := writeRow(f, checkInsSheet, i+2, row); err != nil {
			return Result{}, err
		}
	}

	for _, sheet := range []string{dreamsSheet, checkInsSheet} {
		if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
			return Result{}, fmt.Errorf("freeze header: %w", err)
		}
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Creator: "reverie",
		Title:   "Dream journal for " + userID,
		Created: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return Result{}, fmt.Errorf("set properties: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return Result{}, fmt.Errorf("save workbook: %w", err)
	}
	return Result{Path: path, Dreams: len(dreams), CheckIns: len(checkIns)}, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func artifact(stages []*store.StageState, stage store.Stage) string {
	for _, st := range stages {
		if st.Stage == stage && st.Status == lifecycle.StatusCompleted {
			return st.Artifact
		}
	}
	return ""
}

func formatMoods(scores map[string]float64) string {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %.2f", name, scores[name]))
	}
	return strings.Join(parts, ", ")
}
