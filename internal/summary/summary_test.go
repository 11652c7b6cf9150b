package summary

import (
	"math/rand"
	"testing"

	"ledger/internal/core"
	"ledger/internal/period"
)

func m(c int64) core.Money { return core.Money{Cents: c} }

var jan = period.MustParse("2026-01-15")

func TestComputeRecurringTotals(t *testing.T) {
	in := Input{
		FixedPayments: []core.FixedPayment{
			{ID: "rent", Amount: m(5000)},
			{ID: "phone", Amount: m(3000)},
		},
		PaidFixedPaymentIDs: core.NewIDSet("rent"),
	}
	s := Compute(in)
	if s.PlannedRecurringTotal.Cents != 8000 {
		t.Errorf("PlannedRecurringTotal = %d, want 8000", s.PlannedRecurringTotal.Cents)
	}
	if s.PaidRecurringTotal.Cents != 5000 {
		t.Errorf("PaidRecurringTotal = %d, want 5000", s.PaidRecurringTotal.Cents)
	}
	if s.RemainingRecurringTotal.Cents != 3000 {
		t.Errorf("RemainingRecurringTotal = %d, want 3000", s.RemainingRecurringTotal.Cents)
	}
	if s.FixedPaymentsTotal != s.RemainingRecurringTotal {
		t.Errorf("FixedPaymentsTotal = %d, want alias of remaining %d", s.FixedPaymentsTotal.Cents, s.RemainingRecurringTotal.Cents)
	}
}

func TestComputeFullPeriod(t *testing.T) {
	in := Input{
		Period: jan,
		Expenses: []core.Expense{
			{BucketID: "cash", Amount: m(1000)},
			{BucketID: "card", Amount: m(2500)},
			{BucketID: "card", Amount: m(500)},
		},
		FixedPayments: []core.FixedPayment{
			{ID: "rent", Amount: m(50000)},
			{ID: "gym", Amount: m(3000)},
		},
		PaidFixedPaymentIDs: core.NewIDSet("rent", "unknown-id"),
		BucketPayments: []core.BucketPayment{
			{BucketID: "card", Amount: m(12000), Paid: true},
			{BucketID: "cash", Amount: m(4000), Paid: false},
			{BucketID: "old", Amount: m(0), Paid: true},
		},
		Savings: []core.SavingsContribution{
			{Amount: m(10000), Period: jan},
			{Amount: m(7000), Period: period.MustParse("2025-12-15")},
		},
		Salary:       m(200000),
		MonthlyLimit: m(80000),
	}

	s := Compute(in)

	checks := []struct {
		name string
		got  core.Money
		want int64
	}{
		{"ExpensesByBucket[cash]", s.ExpensesByBucket["cash"], 1000},
		{"ExpensesByBucket[card]", s.ExpensesByBucket["card"], 3000},
		{"ExpensesTotal", s.ExpensesTotal, 4000},
		{"PlannedRecurringTotal", s.PlannedRecurringTotal, 53000},
		{"PaidRecurringTotal", s.PaidRecurringTotal, 50000},
		{"RemainingRecurringTotal", s.RemainingRecurringTotal, 3000},
		{"PaidFromPreviousPeriod", s.PaidFromPreviousPeriod, 12000},
		{"GrandTotal", s.GrandTotal, 66000},
		{"TotalSavings", s.TotalSavings, 10000},
		{"RemainingFromSalary", s.RemainingFromSalary, 124000},
		{"RemainingFromLimit", s.RemainingFromLimit, 14000},
	}
	for _, c := range checks {
		if c.got.Cents != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got.Cents, c.want)
		}
	}
}

func TestComputeZeroState(t *testing.T) {
	s := Compute(Input{})
	if s.GrandTotal.Cents != 0 || s.RemainingFromSalary.Cents != 0 || s.TotalSavings.Cents != 0 {
		t.Errorf("empty input should produce zero totals, got %+v", s)
	}
	if s.ExpensesByBucket == nil {
		t.Error("ExpensesByBucket should be an empty map, not nil")
	}
}

func TestComputeMoneyLeftCanGoNegative(t *testing.T) {
	s := Compute(Input{
		Expenses:     []core.Expense{{BucketID: "card", Amount: m(9000)}},
		Salary:       m(5000),
		MonthlyLimit: m(1000),
	})
	if s.RemainingFromSalary.Cents != -4000 {
		t.Errorf("RemainingFromSalary = %d, want -4000", s.RemainingFromSalary.Cents)
	}
	if s.RemainingFromLimit.Cents != -8000 {
		t.Errorf("RemainingFromLimit = %d, want -8000", s.RemainingFromLimit.Cents)
	}
}

func TestComputeSavingsWithoutPeriodFilter(t *testing.T) {
	s := Compute(Input{Savings: []core.SavingsContribution{{Amount: m(100)}, {Amount: m(200), Period: jan}}})
	if s.TotalSavings.Cents != 300 {
		t.Errorf("TotalSavings = %d, want 300 when no period is set", s.TotalSavings.Cents)
	}
}

func randomInput(r *rand.Rand) Input {
	in := Input{PaidFixedPaymentIDs: core.NewIDSet(), Salary: m(r.Int63n(500000)), MonthlyLimit: m(r.Int63n(300000))}
	buckets := []string{"cash", "bank", "card"}
	for i := 0; i < r.Intn(10); i++ {
		in.Expenses = append(in.Expenses, core.Expense{BucketID: buckets[r.Intn(len(buckets))], Amount: m(r.Int63n(50000))})
	}
	for i := 0; i < r.Intn(8); i++ {
		id := string(rune('a' + i))
		in.FixedPayments = append(in.FixedPayments, core.FixedPayment{ID: id, Amount: m(r.Int63n(80000))})
		if r.Intn(2) == 0 {
			in.PaidFixedPaymentIDs.Add(id)
		}
	}
	for i := 0; i < r.Intn(4); i++ {
		in.BucketPayments = append(in.BucketPayments, core.BucketPayment{Amount: m(r.Int63n(40000)), Paid: r.Intn(2) == 0})
	}
	for i := 0; i < r.Intn(3); i++ {
		in.Savings = append(in.Savings, core.SavingsContribution{Amount: m(r.Int63n(20000))})
	}
	return in
}

func TestComputeInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		in := randomInput(r)
		s := Compute(in)

		if s.PaidRecurringTotal.Cents < 0 || s.PlannedRecurringTotal.Cents < s.PaidRecurringTotal.Cents {
			t.Fatalf("case %d: planned %d < paid %d", i, s.PlannedRecurringTotal.Cents, s.PaidRecurringTotal.Cents)
		}
		if s.PlannedRecurringTotal.Cents-s.PaidRecurringTotal.Cents != s.RemainingRecurringTotal.Cents {
			t.Fatalf("case %d: remaining identity broken", i)
		}
		var byBucket int64
		for _, v := range s.ExpensesByBucket {
			byBucket += v.Cents
		}
		if byBucket != s.ExpensesTotal.Cents {
			t.Fatalf("case %d: expenses by bucket %d != total %d", i, byBucket, s.ExpensesTotal.Cents)
		}
		if s.GrandTotal.Cents != s.ExpensesTotal.Cents+s.PaidRecurringTotal.Cents+s.PaidFromPreviousPeriod.Cents {
			t.Fatalf("case %d: grand total identity broken", i)
		}
		if s.RemainingFromSalary.Cents != in.Salary.Cents-s.GrandTotal.Cents-s.TotalSavings.Cents {
			t.Fatalf("case %d: money left identity broken", i)
		}
	}
}

func TestTogglingPaidOnlyMovesPaidFigures(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		in := randomInput(r)
		if len(in.FixedPayments) == 0 {
			continue
		}
		before := Compute(in)

		target := in.FixedPayments[r.Intn(len(in.FixedPayments))]
		toggled := core.NewIDSet(in.PaidFixedPaymentIDs.Sorted()...)
		if toggled.Has(target.ID) {
			toggled.Remove(target.ID)
		} else {
			toggled.Add(target.ID)
		}
		in.PaidFixedPaymentIDs = toggled
		after := Compute(in)

		if after.PlannedRecurringTotal != before.PlannedRecurringTotal {
			t.Fatalf("case %d: planned total moved from %d to %d", i, before.PlannedRecurringTotal.Cents, after.PlannedRecurringTotal.Cents)
		}
		delta := after.PaidRecurringTotal.Cents - before.PaidRecurringTotal.Cents
		if abs(delta) != target.Amount.Cents {
			t.Fatalf("case %d: paid total moved by %d, want ±%d", i, delta, target.Amount.Cents)
		}
		if after.GrandTotal.Cents-before.GrandTotal.Cents != delta {
			t.Fatalf("case %d: grand total did not follow paid total", i)
		}
		if after.ExpensesTotal != before.ExpensesTotal || after.TotalSavings != before.TotalSavings {
			t.Fatalf("case %d: unrelated totals changed", i)
		}
	}
}

func TestGrandTotalIsMonotonic(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	for i := 0; i < 200; i++ {
		in := randomInput(r)
		prev := Compute(in).GrandTotal

		switch r.Intn(3) {
		case 0:
			in.Expenses = append(in.Expenses, core.Expense{BucketID: "cash", Amount: m(r.Int63n(1000))})
		case 1:
			in.FixedPayments = append(in.FixedPayments, core.FixedPayment{ID: "new", Amount: m(r.Int63n(1000))})
			in.PaidFixedPaymentIDs.Add("new")
		case 2:
			in.BucketPayments = append(in.BucketPayments, core.BucketPayment{Amount: m(r.Int63n(1000)), Paid: true})
		}
		if got := Compute(in).GrandTotal; got.Cents < prev.Cents {
			t.Fatalf("case %d: grand total decreased from %d to %d", i, prev.Cents, got.Cents)
		}
	}
}

func TestFromEntities(t *testing.T) {
	e := core.PeriodEntities{
		Expenses: []core.Expense{{BucketID: "cash", Amount: m(100)}},
		MonthData: core.MonthData{
			Salary:              m(1000),
			MonthlyLimit:        m(500),
			PaidFixedPaymentIDs: core.NewIDSet("x"),
		},
		FixedPayments: []core.FixedPayment{{ID: "x", Amount: m(50)}},
	}
	s := Compute(FromEntities(jan, e))
	if s.GrandTotal.Cents != 150 || s.RemainingFromLimit.Cents != 350 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
