package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"ledger/internal/core"
	"ledger/internal/period"
)

// Expenses

func (r *Repository) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("validate expense: %w", err)
	}
	if e.ID == "" {
		e.ID = r.newID()
	}
	e.CreatedAt = r.now()

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := r.queryRow(ctx, tx,
			`SELECT COUNT(*) FROM bucket_configs WHERE account_id = ? AND id = ?`, e.AccountID, e.BucketID).Scan(&n); err != nil {
			return fmt.Errorf("check bucket: %w", mapError(err))
		}
		if n == 0 {
			return core.ErrBucketNotFound
		}
		_, err := r.exec(ctx, tx,
			`INSERT INTO expenses (id, account_id, period, bucket_id, category_id, amount, name, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.AccountID, e.Period.String(), e.BucketID, e.CategoryID, e.Amount.Cents, e.Name, e.CreatedAt)
		return err
	})
	if err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved",
		"id", e.ID,
		"account_id", e.AccountID,
		"period", e.Period.String(),
		"bucket_id", e.BucketID,
		"amount_cents", e.Amount.Cents)
	return e, nil
}

func (r *Repository) DeleteExpense(ctx context.Context, accountID, id string) error {
	res, err := r.exec(ctx, r.db, `DELETE FROM expenses WHERE account_id = ? AND id = ?`, accountID, id)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return rowsAffected(res, core.ErrNotFound)
}

// SumExpensesByBucket totals the period's expenses per bucket id.
func (r *Repository) SumExpensesByBucket(ctx context.Context, accountID string, p period.Period) (map[string]core.Money, error) {
	rows, err := r.query(ctx, r.db,
		`SELECT bucket_id, COALESCE(SUM(amount), 0) FROM expenses
		 WHERE account_id = ? AND period = ? GROUP BY bucket_id`,
		accountID, p.String())
	if err != nil {
		return nil, fmt.Errorf("sum expenses by bucket: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]core.Money)
	for rows.Next() {
		var (
			bucketID string
			sum      int64
		)
		if err := rows.Scan(&bucketID, &sum); err != nil {
			return nil, fmt.Errorf("scan bucket total: %w", err)
		}
		totals[bucketID] = core.Money{Cents: sum}
	}
	return totals, rows.Err()
}

func (r *Repository) listExpenses(ctx context.Context, q querier, accountID string, p period.Period) ([]core.Expense, error) {
	rows, err := r.query(ctx, q,
		`SELECT id, account_id, period, bucket_id, category_id, amount, name, created_at
		 FROM expenses WHERE account_id = ? AND period = ? ORDER BY created_at, id`,
		accountID, p.String())
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanExpense(s rowScanner) (core.Expense, error) {
	var (
		e      core.Expense
		ps     string
		amount int64
	)
	if err := s.Scan(&e.ID, &e.AccountID, &ps, &e.BucketID, &e.CategoryID, &amount, &e.Name, &e.CreatedAt); err != nil {
		return core.Expense{}, fmt.Errorf("scan expense: %w", mapError(err))
	}
	p, err := parseStoredPeriod(ps)
	if err != nil {
		return core.Expense{}, err
	}
	e.Period = p
	e.Amount = core.Money{Cents: amount}
	return e, nil
}

func (r *Repository) GetExpense(ctx context.Context, accountID, id string) (core.Expense, error) {
	e, err := scanExpense(r.queryRow(ctx, r.db,
		`SELECT id, account_id, period, bucket_id, category_id, amount, name, created_at
		 FROM expenses WHERE account_id = ? AND id = ?`, accountID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, core.ErrNotFound
	}
	return e, err
}

// UpdateExpense rewrites an expense in place. The bucket must still belong
// to the account.
func (r *Repository) UpdateExpense(ctx context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("validate expense: %w", err)
	}
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := r.queryRow(ctx, tx,
			`SELECT COUNT(*) FROM bucket_configs WHERE account_id = ? AND id = ?`, e.AccountID, e.BucketID).Scan(&n); err != nil {
			return fmt.Errorf("check bucket: %w", mapError(err))
		}
		if n == 0 {
			return core.ErrBucketNotFound
		}
		res, err := r.exec(ctx, tx,
			`UPDATE expenses SET period = ?, bucket_id = ?, category_id = ?, amount = ?, name = ?
			 WHERE account_id = ? AND id = ?`,
			e.Period.String(), e.BucketID, e.CategoryID, e.Amount.Cents, e.Name, e.AccountID, e.ID)
		if err != nil {
			return err
		}
		return rowsAffected(res, core.ErrNotFound)
	})
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	slog.InfoContext(ctx, "Expense updated",
		"id", e.ID,
		"account_id", e.AccountID,
		"period", e.Period.String(),
		"amount_cents", e.Amount.Cents)
	return nil
}

// Fixed payments

func (r *Repository) CreateFixedPayment(ctx context.Context, fp core.FixedPayment) (core.FixedPayment, error) {
	if err := fp.Validate(); err != nil {
		return core.FixedPayment{}, fmt.Errorf("validate fixed payment: %w", err)
	}
	if fp.AccountID == "" {
		return core.FixedPayment{}, core.ErrMissingAccount
	}
	if fp.ID == "" {
		fp.ID = r.newID()
	}
	fp.CreatedAt = r.now()

	var category any
	if fp.CategoryID != "" {
		category = fp.CategoryID
	}
	_, err := r.exec(ctx, r.db,
		`INSERT INTO fixed_payments (id, account_id, name, amount, due_day, due_date, category_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fp.ID, fp.AccountID, fp.Name, fp.Amount.Cents, nullableDay(fp.DueDay), nullableDate(fp.DueDate), category, fp.CreatedAt)
	if err != nil {
		return core.FixedPayment{}, fmt.Errorf("create fixed payment: %w", err)
	}
	return fp, nil
}

func (r *Repository) DeleteFixedPayment(ctx context.Context, accountID, id string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := r.exec(ctx, tx, `DELETE FROM fixed_payments WHERE account_id = ? AND id = ?`, accountID, id)
		if err != nil {
			return fmt.Errorf("delete fixed payment: %w", err)
		}
		if err := rowsAffected(res, core.ErrNotFound); err != nil {
			return err
		}
		if _, err := r.exec(ctx, tx,
			`DELETE FROM paid_fixed_payments WHERE account_id = ? AND fixed_payment_id = ?`, accountID, id); err != nil {
			return fmt.Errorf("delete paid markers: %w", err)
		}
		return nil
	})
}

func (r *Repository) listFixedPayments(ctx context.Context, q querier, accountID string) ([]core.FixedPayment, error) {
	rows, err := r.query(ctx, q,
		`SELECT id, account_id, name, amount, due_day, due_date, category_id, created_at
		 FROM fixed_payments WHERE account_id = ? ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list fixed payments: %w", err)
	}
	defer rows.Close()

	var out []core.FixedPayment
	for rows.Next() {
		fp, err := scanFixedPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

func scanFixedPayment(s rowScanner) (core.FixedPayment, error) {
	var (
		fp       core.FixedPayment
		amount   int64
		dueDay   sql.NullInt64
		dueDate  sql.NullString
		category sql.NullString
	)
	if err := s.Scan(&fp.ID, &fp.AccountID, &fp.Name, &amount, &dueDay, &dueDate, &category, &fp.CreatedAt); err != nil {
		return core.FixedPayment{}, fmt.Errorf("scan fixed payment: %w", mapError(err))
	}
	due, err := scanDate(dueDate)
	if err != nil {
		return core.FixedPayment{}, err
	}
	fp.DueDate = due
	fp.Amount = core.Money{Cents: amount}
	fp.DueDay = int(dueDay.Int64)
	fp.CategoryID = category.String
	return fp, nil
}

func (r *Repository) GetFixedPayment(ctx context.Context, accountID, id string) (core.FixedPayment, error) {
	fp, err := scanFixedPayment(r.queryRow(ctx, r.db,
		`SELECT id, account_id, name, amount, due_day, due_date, category_id, created_at
		 FROM fixed_payments WHERE account_id = ? AND id = ?`, accountID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.FixedPayment{}, core.ErrNotFound
	}
	return fp, err
}

func (r *Repository) UpdateFixedPayment(ctx context.Context, fp core.FixedPayment) error {
	if err := fp.Validate(); err != nil {
		return fmt.Errorf("validate fixed payment: %w", err)
	}
	var category any
	if fp.CategoryID != "" {
		category = fp.CategoryID
	}
	res, err := r.exec(ctx, r.db,
		`UPDATE fixed_payments SET name = ?, amount = ?, due_day = ?, due_date = ?, category_id = ?
		 WHERE account_id = ? AND id = ?`,
		fp.Name, fp.Amount.Cents, nullableDay(fp.DueDay), nullableDate(fp.DueDate), category, fp.AccountID, fp.ID)
	if err != nil {
		return fmt.Errorf("update fixed payment: %w", err)
	}
	return rowsAffected(res, core.ErrNotFound)
}

// Savings

func (r *Repository) AddSavingsContribution(ctx context.Context, s core.SavingsContribution) (core.SavingsContribution, error) {
	if err := s.Validate(); err != nil {
		return core.SavingsContribution{}, fmt.Errorf("validate savings contribution: %w", err)
	}
	if s.ID == "" {
		s.ID = r.newID()
	}
	if s.Date.IsZero() {
		s.Date = core.DateOf(r.now())
	}

	_, err := r.exec(ctx, r.db,
		`INSERT INTO savings_contributions (id, account_id, goal_id, amount, date, period, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.AccountID, s.GoalID, s.Amount.Cents, s.Date.String(), s.Period.String(), s.Source)
	if err != nil {
		return core.SavingsContribution{}, fmt.Errorf("add savings contribution: %w", err)
	}
	return s, nil
}

func (r *Repository) listSavings(ctx context.Context, q querier, accountID string, p period.Period) ([]core.SavingsContribution, error) {
	rows, err := r.query(ctx, q,
		`SELECT id, account_id, goal_id, amount, date, period, source
		 FROM savings_contributions WHERE account_id = ? AND period = ? ORDER BY date, id`,
		accountID, p.String())
	if err != nil {
		return nil, fmt.Errorf("list savings: %w", err)
	}
	defer rows.Close()

	var out []core.SavingsContribution
	for rows.Next() {
		var (
			s      core.SavingsContribution
			amount int64
			date   string
			ps     string
		)
		if err := rows.Scan(&s.ID, &s.AccountID, &s.GoalID, &amount, &date, &ps, &s.Source); err != nil {
			return nil, fmt.Errorf("scan savings contribution: %w", err)
		}
		if s.Date, err = core.ParseDate(date); err != nil {
			return nil, err
		}
		if s.Period, err = parseStoredPeriod(ps); err != nil {
			return nil, err
		}
		s.Amount = core.Money{Cents: amount}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Month data

// UpsertMonthData replaces salary and limit for the period, creating the row
// on first use.
func (r *Repository) UpsertMonthData(ctx context.Context, accountID string, p period.Period, salary, monthlyLimit core.Money) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := salary.Validate(); err != nil {
		return fmt.Errorf("salary: %w", err)
	}
	if err := monthlyLimit.Validate(); err != nil {
		return fmt.Errorf("monthly limit: %w", err)
	}
	_, err := r.exec(ctx, r.db,
		`INSERT INTO month_data (account_id, period, salary, monthly_limit) VALUES (?, ?, ?, ?)
		 ON CONFLICT (account_id, period) DO UPDATE SET salary = excluded.salary, monthly_limit = excluded.monthly_limit`,
		accountID, p.String(), salary.Cents, monthlyLimit.Cents)
	if err != nil {
		return fmt.Errorf("upsert month data: %w", err)
	}
	return nil
}

func (r *Repository) GetMonthData(ctx context.Context, accountID string, p period.Period) (core.MonthData, error) {
	return r.getMonthData(ctx, r.db, accountID, p)
}

func (r *Repository) getMonthData(ctx context.Context, q querier, accountID string, p period.Period) (core.MonthData, error) {
	md := core.MonthData{AccountID: accountID, Period: p, PaidFixedPaymentIDs: core.NewIDSet()}

	var salary, limit int64
	err := r.queryRow(ctx, q,
		`SELECT salary, monthly_limit FROM month_data WHERE account_id = ? AND period = ?`,
		accountID, p.String()).Scan(&salary, &limit)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return md, fmt.Errorf("get month data: %w", mapError(err))
	}
	md.Salary = core.Money{Cents: salary}
	md.MonthlyLimit = core.Money{Cents: limit}

	rows, err := r.query(ctx, q,
		`SELECT fixed_payment_id FROM paid_fixed_payments WHERE account_id = ? AND period = ?`,
		accountID, p.String())
	if err != nil {
		return md, fmt.Errorf("list paid fixed payments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return md, fmt.Errorf("scan paid fixed payment: %w", err)
		}
		md.PaidFixedPaymentIDs.Add(id)
	}
	return md, rows.Err()
}

// SetFixedPaymentPaid marks or unmarks a bill as paid in one period only.
func (r *Repository) SetFixedPaymentPaid(ctx context.Context, accountID string, p period.Period, fixedPaymentID string, paid bool) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := r.queryRow(ctx, tx,
			`SELECT COUNT(*) FROM fixed_payments WHERE account_id = ? AND id = ?`, accountID, fixedPaymentID).Scan(&n); err != nil {
			return fmt.Errorf("check fixed payment: %w", mapError(err))
		}
		if n == 0 {
			return fmt.Errorf("fixed payment %s: %w", fixedPaymentID, core.ErrNotFound)
		}

		var err error
		if paid {
			_, err = r.exec(ctx, tx,
				`INSERT INTO paid_fixed_payments (account_id, period, fixed_payment_id) VALUES (?, ?, ?)
				 ON CONFLICT (account_id, period, fixed_payment_id) DO NOTHING`,
				accountID, p.String(), fixedPaymentID)
		} else {
			_, err = r.exec(ctx, tx,
				`DELETE FROM paid_fixed_payments WHERE account_id = ? AND period = ? AND fixed_payment_id = ?`,
				accountID, p.String(), fixedPaymentID)
		}
		if err != nil {
			return fmt.Errorf("set fixed payment paid: %w", err)
		}
		return nil
	})
}

// ListEntitiesForPeriod reads everything the summary needs in one
// transaction so the figures are consistent with each other.
func (r *Repository) ListEntitiesForPeriod(ctx context.Context, accountID string, p period.Period) (core.PeriodEntities, error) {
	var out core.PeriodEntities
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if out.Expenses, err = r.listExpenses(ctx, tx, accountID, p); err != nil {
			return err
		}
		if out.FixedPayments, err = r.listFixedPayments(ctx, tx, accountID); err != nil {
			return err
		}
		if out.BucketPayments, err = r.listBucketPayments(ctx, tx, accountID, p); err != nil {
			return err
		}
		if out.Savings, err = r.listSavings(ctx, tx, accountID, p); err != nil {
			return err
		}
		out.MonthData, err = r.getMonthData(ctx, tx, accountID, p)
		return err
	})
	if err != nil {
		return core.PeriodEntities{}, fmt.Errorf("list entities for %s: %w", p, err)
	}
	return out, nil
}
