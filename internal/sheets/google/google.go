package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	ports "ledger/internal/sheets"
)

const (
	defaultSheetName = "Summary"
	indexTTL         = 5 * time.Minute
)

// Header is written above the first exported row.
var Header = []any{
	"ID", "Account", "Period", "Range", "Label",
	"Salary", "Monthly limit", "Expenses", "Recurring paid", "Recurring remaining",
	"Paid from previous period", "Grand total", "Savings",
	"Remaining from salary", "Remaining from limit", "Exported at",
}

// Exporter writes period summaries to a Google Sheets tab, one row per
// account and period.
type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string

	// Row numbers by row ID, refreshed from column A when stale.
	mu             sync.Mutex
	rowIndex       map[string]int
	rowCount       int
	indexExpiresAt time.Time
}

// Ensure interface conformance
var _ ports.SummaryExporter = (*Exporter)(nil)

// Config configures an Exporter. CredentialsJSON wins over CredentialsFile.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// NewFromEnv creates an exporter using environment variables.
// Required: GOOGLE_SPREADSHEET_ID
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
// Optional: GOOGLE_SUMMARY_SHEET_NAME (default "Summary").
func NewFromEnv(ctx context.Context) (*Exporter, error) {
	cfg := Config{
		SpreadsheetID:   strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID")),
		SheetName:       strings.TrimSpace(os.Getenv("GOOGLE_SUMMARY_SHEET_NAME")),
		CredentialsJSON: strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")),
		CredentialsFile: strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE")),
	}
	if cfg.CredentialsJSON == "" && cfg.CredentialsFile == "" {
		cfg.CredentialsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	return New(ctx, cfg)
}

func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = defaultSheetName
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Exporter{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	var credentialsJSON []byte
	switch {
	case cfg.CredentialsJSON != "":
		slog.DebugContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case cfg.CredentialsFile != "":
		slog.DebugContext(ctx, "Reading credentials from file", "path", cfg.CredentialsFile)
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// ExportSummary writes row, replacing the row of the same account and period
// when one exists.
func (e *Exporter) ExportSummary(ctx context.Context, row ports.SummaryRow) (string, error) {
	if row.AccountID == "" || row.Key == "" {
		return "", errors.New("summary row needs an account and a period key")
	}
	if e.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.refreshIndexLocked(ctx); err != nil {
		return "", err
	}

	values := &gsheet.ValueRange{Values: [][]any{rowValues(row)}}

	if n, ok := e.rowIndex[row.ID()]; ok {
		rng := rowRange(e.sheetName, n)
		_, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, rng, values).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("update %s: %w", rng, err)
		}
		return rng, nil
	}

	if e.rowCount == 0 {
		header := &gsheet.ValueRange{Values: [][]any{Header}}
		if _, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, rowRange(e.sheetName, 1), header).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("write header: %w", err)
		}
		e.rowCount = 1
	}

	next := e.rowCount + 1
	rng := rowRange(e.sheetName, next)
	_, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, rng, values).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		e.indexExpiresAt = time.Time{}
		return "", fmt.Errorf("append %s: %w", rng, err)
	}
	e.rowIndex[row.ID()] = next
	e.rowCount = next
	return rng, nil
}

func (e *Exporter) refreshIndexLocked(ctx context.Context) error {
	if e.rowIndex != nil && time.Now().Before(e.indexExpiresAt) {
		return nil
	}
	rng := fmt.Sprintf("%s!A:A", e.sheetName)
	resp, err := e.svc.Spreadsheets.Values.Get(e.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read %s: %w", rng, err)
	}
	e.rowIndex, e.rowCount = indexRows(resp.Values)
	e.indexExpiresAt = time.Now().Add(indexTTL)
	return nil
}
