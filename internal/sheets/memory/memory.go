package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ports "ledger/internal/sheets"
)

// Exporter keeps exported summary rows in memory, in first-export order.
type Exporter struct {
	mu    sync.Mutex
	index map[string]int
	rows  []ports.SummaryRow
}

var _ ports.SummaryExporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{index: make(map[string]int)}
}

// ExportSummary stores or replaces the row and returns a synthetic row reference.
func (e *Exporter) ExportSummary(_ context.Context, row ports.SummaryRow) (string, error) {
	if row.AccountID == "" || row.Key == "" {
		return "", errors.New("summary row needs an account and a period key")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if i, ok := e.index[row.ID()]; ok {
		e.rows[i] = row
		return fmt.Sprintf("mem:%d", i+1), nil
	}
	e.rows = append(e.rows, row)
	e.index[row.ID()] = len(e.rows) - 1
	return fmt.Sprintf("mem:%d", len(e.rows)), nil
}

// Rows returns a copy of the exported rows.
func (e *Exporter) Rows() []ports.SummaryRow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ports.SummaryRow(nil), e.rows...)
}
