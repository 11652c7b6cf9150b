package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"ledger/internal/period"
)

// Tables whose period column may still hold legacy YYYY-MM values.
var periodTables = []string{
	"expenses",
	"month_data",
	"paid_fixed_payments",
	"bucket_payments",
	"savings_contributions",
}

// DedupBucketPayments removes duplicate bucket payments of an account,
// keeping the earliest created row (ties broken by id) for each period and
// bucket. It returns how many rows were deleted; a second run deletes none.
func (r *Repository) DedupBucketPayments(ctx context.Context, accountID string) (int, error) {
	res, err := r.exec(ctx, r.db,
		`DELETE FROM bucket_payments
		 WHERE id IN (
		     SELECT id FROM (
		         SELECT id, ROW_NUMBER() OVER (
		             PARTITION BY period, bucket_id
		             ORDER BY created_at, id
		         ) AS rn
		         FROM bucket_payments
		         WHERE account_id = ?
		     ) ranked
		     WHERE rn > 1
		 )`, accountID)
	if err != nil {
		return 0, fmt.Errorf("dedup bucket payments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if n > 0 {
		slog.InfoContext(ctx, "Duplicate bucket payments removed", "account_id", accountID, "count", n)
	}
	return int(n), nil
}

// MigrateLegacyPeriods rewrites YYYY-MM period values of an account to the
// start date of the period with startDay in that month. It returns the number
// of rows rewritten.
func (r *Repository) MigrateLegacyPeriods(ctx context.Context, accountID string, startDay int) (int, error) {
	if err := period.ValidateStartDay(startDay); err != nil {
		return 0, err
	}

	total := 0
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range periodTables {
			legacy, err := r.legacyPeriods(ctx, tx, table, accountID)
			if err != nil {
				return err
			}
			for _, old := range legacy {
				p, err := period.FromLegacyMonth(old, startDay)
				if err != nil {
					return fmt.Errorf("%s period %q: %w", table, old, err)
				}
				res, err := r.exec(ctx, tx,
					`UPDATE `+table+` SET period = ? WHERE account_id = ? AND period = ?`,
					p.String(), accountID, old)
				if err != nil {
					return fmt.Errorf("rewrite %s period %s: %w", table, old, err)
				}
				n, err := res.RowsAffected()
				if err != nil {
					return fmt.Errorf("rows affected: %w", err)
				}
				total += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("migrate legacy periods: %w", err)
	}

	if total > 0 {
		slog.InfoContext(ctx, "Legacy periods migrated",
			"account_id", accountID,
			"period_start_day", startDay,
			"count", total)
	}
	return total, nil
}

func (r *Repository) legacyPeriods(ctx context.Context, q querier, table, accountID string) ([]string, error) {
	rows, err := r.query(ctx, q,
		`SELECT DISTINCT period FROM `+table+` WHERE account_id = ? AND LENGTH(period) = 7`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list legacy periods in %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan legacy period: %w", err)
		}
		if period.IsLegacyMonth(s) {
			out = append(out, s)
		}
	}
	return out, rows.Err()
}
