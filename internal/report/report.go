// Package report renders a batch run as an xlsx workbook and stores it under
// reports/ so operators can review what the nightly run did.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"audio-insights-go/internal/orchestrator"
	"audio-insights-go/internal/store"
)

const sheet = "Batch Run"

var headers = []string{"File", "Outcome", "Archived", "Answers", "Warnings", "Duration (ms)", "Error"}

// Write builds the workbook for one batch and uploads it. Returns the report
// key.
func Write(ctx context.Context, s store.Store, batch *orchestrator.BatchResult) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheet)
	if err != nil {
		return "", fmt.Errorf("report: new sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return "", fmt.Errorf("report: delete default sheet: %w", err)
	}

	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return "", fmt.Errorf("report: header %s: %w", h, err)
		}
	}

	for row, item := range batch.Items {
		values := rowValues(item)
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return "", fmt.Errorf("report: row %d: %w", row+2, err)
			}
		}
	}

	// Trailing summary block.
	base := len(batch.Items) + 3
	summary := [][2]any{
		{"Total", len(batch.Items)},
		{"Succeeded", batch.Succeeded()},
		{"Failed", batch.Failed()},
		{"Started", batch.Started.UTC().Format(time.RFC3339)},
		{"Finished", batch.Finished.UTC().Format(time.RFC3339)},
	}
	for i, kv := range summary {
		keyCell, _ := excelize.CoordinatesToCellName(1, base+i)
		valCell, _ := excelize.CoordinatesToCellName(2, base+i)
		_ = f.SetCellValue(sheet, keyCell, kv[0])
		_ = f.SetCellValue(sheet, valCell, kv[1])
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", fmt.Errorf("report: encode workbook: %w", err)
	}

	key := fmt.Sprintf("%s/batch-%s.xlsx", store.FolderReports, batch.Started.UTC().Format("20060102-150405"))
	if err := s.Put(ctx, key, buf.Bytes(), "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"); err != nil {
		return "", fmt.Errorf("report: store %s: %w", key, err)
	}
	return key, nil
}

func rowValues(item orchestrator.BatchItem) []any {
	outcome := "succeeded"
	archived := false
	answers := 0
	warnings := 0
	var durationMs int64
	errText := ""
	if item.Err != nil {
		outcome = "failed"
		errText = item.Err.Error()
	}
	if item.Result != nil {
		archived = item.Result.Archived
		answers = item.Result.Answers.Len()
		warnings = len(item.Result.Warnings)
		durationMs = item.Result.Duration.Milliseconds()
	}
	return []any{item.Key, outcome, archived, answers, warnings, durationMs, errText}
}
