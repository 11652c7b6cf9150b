package summary

import (
	"ledger/internal/core"
	"ledger/internal/period"
)

// FixedPaymentDueDate returns when fp is due for the viewed period: its due
// day clamped into the month p starts in, else its fixed due date. The zero
// Date means no due date.
func FixedPaymentDueDate(p period.Period, fp core.FixedPayment) core.Date {
	if fp.DueDay >= 1 && fp.DueDay <= 31 {
		return core.NewDate(p.Year, int(p.Month), period.ClampDay(p.Year, p.Month, fp.DueDay))
	}
	return fp.DueDate
}

// IsFixedPaymentOverdue reports whether an unpaid bill's due date for p is
// before today.
func IsFixedPaymentOverdue(p period.Period, fp core.FixedPayment, paid bool, today core.Date) bool {
	if paid {
		return false
	}
	due := FixedPaymentDueDate(p, fp)
	return !due.IsZero() && due.Before(today)
}

// OverdueFixedPayments lists the unpaid bills of p whose due date has passed.
func OverdueFixedPayments(p period.Period, fixed []core.FixedPayment, paid core.IDSet, today core.Date) []core.FixedPayment {
	var out []core.FixedPayment
	for _, fp := range fixed {
		if IsFixedPaymentOverdue(p, fp, paid.Has(fp.ID), today) {
			out = append(out, fp)
		}
	}
	return out
}

// IsBucketPaymentOverdue reports whether an unpaid carried-over balance is
// past its due date.
func IsBucketPaymentOverdue(bp core.BucketPayment, today core.Date) bool {
	return !bp.Paid && !bp.DueDate.IsZero() && bp.DueDate.Before(today)
}

// OverdueBucketPayments lists unpaid carried-over balances past their due date.
func OverdueBucketPayments(payments []core.BucketPayment, today core.Date) []core.BucketPayment {
	var out []core.BucketPayment
	for _, bp := range payments {
		if IsBucketPaymentOverdue(bp, today) {
			out = append(out, bp)
		}
	}
	return out
}
