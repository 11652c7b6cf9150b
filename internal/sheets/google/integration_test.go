//go:build integration

package google

import (
	"context"
	"os"
	"testing"
	"time"

	"ledger/internal/core"
	"ledger/internal/period"
	ports "ledger/internal/sheets"
	"ledger/internal/summary"
)

// Integration tests require real Google Sheets credentials
// Run with: go test -tags=integration ./internal/sheets/google

func TestIntegration_ExportSummaryTwice(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	if os.Getenv("GOOGLE_SPREADSHEET_ID") == "" {
		t.Skip("GOOGLE_SPREADSHEET_ID not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exporter, err := NewFromEnv(ctx)
	if err != nil {
		t.Fatalf("NewFromEnv() error = %v", err)
	}

	p := period.MustParse("2026-01-15")
	s := summary.Compute(summary.Input{Salary: core.Money{Cents: 100000}})
	row := ports.NewSummaryRow("integration-"+time.Now().Format("20060102150405"), p, 15, s, time.Now())

	first, err := exporter.ExportSummary(ctx, row)
	if err != nil {
		t.Fatalf("first ExportSummary() error = %v", err)
	}
	row.Salary = core.Money{Cents: 200000}
	second, err := exporter.ExportSummary(ctx, row)
	if err != nil {
		t.Fatalf("second ExportSummary() error = %v", err)
	}
	if first != second {
		t.Errorf("re-export wrote %s, want the same row %s", second, first)
	}
}
