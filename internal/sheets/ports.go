package sheets

import (
	"context"
	"time"

	"ledger/internal/core"
	"ledger/internal/period"
	"ledger/internal/summary"
)

// Ports for outbound adapters.
type (
	// SummaryExporter writes one row per account and period. Exporting the
	// same account and period again replaces the earlier row.
	SummaryExporter interface {
		ExportSummary(ctx context.Context, row SummaryRow) (rowRef string, err error)
	}
)

// SummaryRow is the exported shape of a period summary.
type SummaryRow struct {
	AccountID string
	Period    period.Period
	// Key is the YYYY-MM-DD__YYYY-MM-DD range of the period.
	Key     string
	Display string

	Salary                  core.Money
	MonthlyLimit            core.Money
	ExpensesTotal           core.Money
	PaidRecurringTotal      core.Money
	RemainingRecurringTotal core.Money
	PaidFromPreviousPeriod  core.Money
	GrandTotal              core.Money
	TotalSavings            core.Money
	RemainingFromSalary     core.Money
	RemainingFromLimit      core.Money

	ExportedAt time.Time
}

// NewSummaryRow builds the row for p, whose periods start on startDay.
func NewSummaryRow(accountID string, p period.Period, startDay int, s summary.MonthSummary, now time.Time) SummaryRow {
	return SummaryRow{
		AccountID:               accountID,
		Period:                  p,
		Key:                     p.Key(startDay),
		Display:                 p.DisplayFor(startDay),
		Salary:                  s.Salary,
		MonthlyLimit:            s.MonthlyLimit,
		ExpensesTotal:           s.ExpensesTotal,
		PaidRecurringTotal:      s.PaidRecurringTotal,
		RemainingRecurringTotal: s.RemainingRecurringTotal,
		PaidFromPreviousPeriod:  s.PaidFromPreviousPeriod,
		GrandTotal:              s.GrandTotal,
		TotalSavings:            s.TotalSavings,
		RemainingFromSalary:     s.RemainingFromSalary,
		RemainingFromLimit:      s.RemainingFromLimit,
		ExportedAt:              now,
	}
}

// ID identifies the row of an account and period in an export target.
func (r SummaryRow) ID() string {
	return r.AccountID + ":" + r.Key
}
