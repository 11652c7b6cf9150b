// Package summary derives the financial summary of one billing period from
// its raw entities. Everything here is pure: no I/O, no clocks, no state.
package summary

import (
	"ledger/internal/core"
	"ledger/internal/period"
)

// Input is the full entity set of one period. Nil collections are treated as
// empty.
type Input struct {
	// Period, when set, restricts savings contributions to that period.
	Period              period.Period
	Expenses            []core.Expense
	FixedPayments       []core.FixedPayment
	PaidFixedPaymentIDs core.IDSet
	BucketPayments      []core.BucketPayment
	Savings             []core.SavingsContribution
	Salary              core.Money
	MonthlyLimit        core.Money
}

// MonthSummary is derived, never persisted.
type MonthSummary struct {
	Salary                  core.Money            `json:"salary"`
	MonthlyLimit            core.Money            `json:"monthlyLimit"`
	ExpensesByBucket        map[string]core.Money `json:"expensesByBucket"`
	ExpensesTotal           core.Money            `json:"expensesTotal"`
	PlannedRecurringTotal   core.Money            `json:"plannedRecurringTotal"`
	PaidRecurringTotal      core.Money            `json:"paidRecurringTotal"`
	RemainingRecurringTotal core.Money            `json:"remainingRecurringTotal"`
	PaidFromPreviousPeriod  core.Money            `json:"paidFromPreviousPeriod"`
	GrandTotal              core.Money            `json:"grandTotal"`
	TotalSavings            core.Money            `json:"totalSavings"`
	RemainingFromSalary     core.Money            `json:"remainingFromSalary"`
	RemainingFromLimit      core.Money            `json:"remainingFromLimit"`

	// Deprecated: FixedPaymentsTotal mirrors RemainingRecurringTotal for older clients.
	FixedPaymentsTotal core.Money `json:"fixedPaymentsTotal"`
}

// Compute builds the MonthSummary for in.
//
// Only realized outflows count toward GrandTotal: expenses, bills marked paid
// and carried-over balances marked paid. Savings reduce money left without
// being expenses.
func Compute(in Input) MonthSummary {
	s := MonthSummary{
		Salary:           in.Salary,
		MonthlyLimit:     in.MonthlyLimit,
		ExpensesByBucket: make(map[string]core.Money),
	}

	for _, e := range in.Expenses {
		s.ExpensesByBucket[e.BucketID] = s.ExpensesByBucket[e.BucketID].Add(e.Amount)
		s.ExpensesTotal = s.ExpensesTotal.Add(e.Amount)
	}

	for _, fp := range in.FixedPayments {
		s.PlannedRecurringTotal = s.PlannedRecurringTotal.Add(fp.Amount)
		if in.PaidFixedPaymentIDs.Has(fp.ID) {
			s.PaidRecurringTotal = s.PaidRecurringTotal.Add(fp.Amount)
		}
	}
	s.RemainingRecurringTotal = s.PlannedRecurringTotal.Sub(s.PaidRecurringTotal)
	s.FixedPaymentsTotal = s.RemainingRecurringTotal

	for _, bp := range in.BucketPayments {
		if bp.Paid && bp.Amount.IsPositive() {
			s.PaidFromPreviousPeriod = s.PaidFromPreviousPeriod.Add(bp.Amount)
		}
	}

	s.GrandTotal = s.ExpensesTotal.Add(s.PaidRecurringTotal).Add(s.PaidFromPreviousPeriod)

	for _, c := range in.Savings {
		if !in.Period.IsZero() && c.Period != in.Period {
			continue
		}
		s.TotalSavings = s.TotalSavings.Add(c.Amount)
	}

	s.RemainingFromSalary = in.Salary.Sub(s.GrandTotal).Sub(s.TotalSavings)
	s.RemainingFromLimit = in.MonthlyLimit.Sub(s.GrandTotal)
	return s
}

// FromEntities adapts stored period entities to an Input.
func FromEntities(p period.Period, e core.PeriodEntities) Input {
	return Input{
		Period:              p,
		Expenses:            e.Expenses,
		FixedPayments:       e.FixedPayments,
		PaidFixedPaymentIDs: e.MonthData.PaidFixedPaymentIDs,
		BucketPayments:      e.BucketPayments,
		Savings:             e.Savings,
		Salary:              e.MonthData.Salary,
		MonthlyLimit:        e.MonthData.MonthlyLimit,
	}
}
