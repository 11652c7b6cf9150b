package google

import (
	"fmt"
	"strings"
	"time"

	ports "ledger/internal/sheets"
)

// rowValues renders a summary row in Header order. Amounts are plain
// decimal strings so USER_ENTERED stores them as numbers.
func rowValues(r ports.SummaryRow) []any {
	return []any{
		r.ID(),
		r.AccountID,
		r.Period.String(),
		r.Key,
		r.Display,
		r.Salary.String(),
		r.MonthlyLimit.String(),
		r.ExpensesTotal.String(),
		r.PaidRecurringTotal.String(),
		r.RemainingRecurringTotal.String(),
		r.PaidFromPreviousPeriod.String(),
		r.GrandTotal.String(),
		r.TotalSavings.String(),
		r.RemainingFromSalary.String(),
		r.RemainingFromLimit.String(),
		r.ExportedAt.UTC().Format(time.RFC3339),
	}
}

func rowRange(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:%s%d", sheet, row, lastColumn(), row)
}

func lastColumn() string {
	return string(rune('A' + len(Header) - 1))
}

// indexRows maps the IDs in column A to 1-based row numbers and returns the
// number of rows in use. The header row and blank cells are not indexed; the
// last occurrence of a repeated ID wins.
func indexRows(values [][]any) (map[string]int, int) {
	index := make(map[string]int, len(values))
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		id := strings.TrimSpace(fmt.Sprint(row[0]))
		if id == "" || (i == 0 && strings.EqualFold(id, fmt.Sprint(Header[0]))) {
			continue
		}
		index[id] = i + 1
	}
	return index, len(values)
}
