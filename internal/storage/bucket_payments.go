package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ledger/internal/core"
	"ledger/internal/period"
)

const bucketPaymentColumns = `id, account_id, period, bucket_id, amount, paid, due_date, created_at`

func scanBucketPayment(s rowScanner) (core.BucketPayment, error) {
	var (
		bp      core.BucketPayment
		p       string
		amount  int64
		dueDate sql.NullString
	)
	if err := s.Scan(&bp.ID, &bp.AccountID, &p, &bp.BucketID, &amount, &bp.Paid, &dueDate, &bp.CreatedAt); err != nil {
		return core.BucketPayment{}, err
	}
	var err error
	if bp.Period, err = parseStoredPeriod(p); err != nil {
		return core.BucketPayment{}, err
	}
	if bp.DueDate, err = scanDate(dueDate); err != nil {
		return core.BucketPayment{}, err
	}
	bp.Amount = core.Money{Cents: amount}
	return bp, nil
}

// GetBucketPayment returns the row for (account, period, bucket), found=false
// when there is none.
func (r *Repository) GetBucketPayment(ctx context.Context, accountID string, p period.Period, bucketID string) (core.BucketPayment, bool, error) {
	row := r.queryRow(ctx, r.db,
		`SELECT `+bucketPaymentColumns+` FROM bucket_payments
		 WHERE account_id = ? AND period = ? AND bucket_id = ?`,
		accountID, p.String(), bucketID)
	bp, err := scanBucketPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BucketPayment{}, false, nil
	}
	if err != nil {
		return core.BucketPayment{}, false, fmt.Errorf("get bucket payment: %w", mapError(err))
	}
	return bp, true, nil
}

func (r *Repository) GetBucketPaymentByID(ctx context.Context, id string) (core.BucketPayment, error) {
	row := r.queryRow(ctx, r.db,
		`SELECT `+bucketPaymentColumns+` FROM bucket_payments WHERE id = ?`, id)
	bp, err := scanBucketPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BucketPayment{}, core.ErrNotFound
	}
	if err != nil {
		return core.BucketPayment{}, fmt.Errorf("get bucket payment %s: %w", id, mapError(err))
	}
	return bp, nil
}

func (r *Repository) ListBucketPayments(ctx context.Context, accountID string, p period.Period) ([]core.BucketPayment, error) {
	return r.listBucketPayments(ctx, r.db, accountID, p)
}

func (r *Repository) listBucketPayments(ctx context.Context, q querier, accountID string, p period.Period) ([]core.BucketPayment, error) {
	rows, err := r.query(ctx, q,
		`SELECT `+bucketPaymentColumns+` FROM bucket_payments
		 WHERE account_id = ? AND period = ? ORDER BY created_at, id`,
		accountID, p.String())
	if err != nil {
		return nil, fmt.Errorf("list bucket payments: %w", err)
	}
	defer rows.Close()

	var out []core.BucketPayment
	for rows.Next() {
		bp, err := scanBucketPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bucket payment: %w", err)
		}
		out = append(out, bp)
	}
	return out, rows.Err()
}

// UpsertBucketPayment inserts bp, or when a row for the same (account, period,
// bucket) already exists only replaces its amount. The stored row is
// returned; inserted reports whether it is the row this call created.
func (r *Repository) UpsertBucketPayment(ctx context.Context, bp core.BucketPayment) (core.BucketPayment, bool, error) {
	if bp.AccountID == "" {
		return core.BucketPayment{}, false, core.ErrMissingAccount
	}
	if bp.BucketID == "" {
		return core.BucketPayment{}, false, core.ErrMissingBucket
	}
	if err := bp.Period.Validate(); err != nil {
		return core.BucketPayment{}, false, err
	}
	if bp.ID == "" {
		bp.ID = r.newID()
	}
	if bp.CreatedAt.IsZero() {
		bp.CreatedAt = r.now()
	}

	row := r.queryRow(ctx, r.db,
		`INSERT INTO bucket_payments (`+bucketPaymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (account_id, period, bucket_id) DO UPDATE SET amount = excluded.amount
		 RETURNING `+bucketPaymentColumns,
		bp.ID, bp.AccountID, bp.Period.String(), bp.BucketID, bp.Amount.Cents, bp.Paid, nullableDate(bp.DueDate), bp.CreatedAt)
	saved, err := scanBucketPayment(row)
	if err != nil {
		return core.BucketPayment{}, false, fmt.Errorf("upsert bucket payment: %w", mapError(err))
	}
	return saved, saved.ID == bp.ID, nil
}

// UpdateBucketPaymentAmount changes only the amount. core.ErrNotFound when
// the row is gone.
func (r *Repository) UpdateBucketPaymentAmount(ctx context.Context, id string, amount core.Money) error {
	res, err := r.exec(ctx, r.db, `UPDATE bucket_payments SET amount = ? WHERE id = ?`, amount.Cents, id)
	if err != nil {
		return fmt.Errorf("update bucket payment amount: %w", err)
	}
	return rowsAffected(res, core.ErrNotFound)
}

func (r *Repository) SetBucketPaymentPaid(ctx context.Context, id string, paid bool) error {
	res, err := r.exec(ctx, r.db, `UPDATE bucket_payments SET paid = ? WHERE id = ?`, paid, id)
	if err != nil {
		return fmt.Errorf("set bucket payment paid: %w", err)
	}
	return rowsAffected(res, core.ErrNotFound)
}

// UpdateBucketPaymentDueDate sets or, with the zero Date, clears the due date.
func (r *Repository) UpdateBucketPaymentDueDate(ctx context.Context, id string, due core.Date) error {
	res, err := r.exec(ctx, r.db, `UPDATE bucket_payments SET due_date = ? WHERE id = ?`, nullableDate(due), id)
	if err != nil {
		return fmt.Errorf("update bucket payment due date: %w", err)
	}
	return rowsAffected(res, core.ErrNotFound)
}

func (r *Repository) DeleteBucketPayment(ctx context.Context, id string) error {
	res, err := r.exec(ctx, r.db, `DELETE FROM bucket_payments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete bucket payment: %w", err)
	}
	return rowsAffected(res, core.ErrNotFound)
}
