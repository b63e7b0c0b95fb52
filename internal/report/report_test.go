package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"audio-insights-go/internal/orchestrator"
	"audio-insights-go/internal/qna"
	"audio-insights-go/internal/store"
)

func TestWrite(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	var answers qna.Record
	answers.Set("How many speakers?", "Three")
	answers.Set("What is the tone?", "Neutral")

	started := time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	batch := &orchestrator.BatchResult{
		Started:  started,
		Finished: started.Add(2 * time.Minute),
		Items: []orchestrator.BatchItem{
			{
				Key: "to_be_processed/f1.mp3",
				Result: &orchestrator.Result{
					SourceKey: "to_be_processed/f1.mp3",
					Answers:   answers,
					Archived:  true,
					Duration:  90 * time.Second,
				},
			},
			{
				Key: "to_be_processed/f2.mp3",
				Err: &orchestrator.ModelCallError{Op: "qna", Err: errors.New("llm down")},
			},
		},
	}

	key, err := Write(ctx, m, batch)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if key != "reports/batch-20260829-030000.xlsx" {
		t.Errorf("key = %s", key)
	}

	data, err := m.Get(ctx, key)
	if err != nil {
		t.Fatalf("stored report missing: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) < 3 {
		t.Fatalf("row count = %d", len(rows))
	}
	if rows[0][0] != "File" || rows[0][1] != "Outcome" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] != "to_be_processed/f1.mp3" || rows[1][1] != "succeeded" {
		t.Errorf("row 1 = %v", rows[1])
	}
	if rows[2][1] != "failed" || !strings.Contains(rows[2][6], "llm down") {
		t.Errorf("row 2 = %v", rows[2])
	}
}
