package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"ledger/internal/core"
	"ledger/internal/period"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect selects the SQL flavour and driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) dsn(dsn string) string {
	if d != DialectSQLite || strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_time_format=sqlite"
}

// ErrInMemoryDSN is returned for SQLite DSNs that name an in-memory
// database. Migrations run on their own connection and would migrate a
// different, throwaway database; use the memory backend instead.
var ErrInMemoryDSN = errors.New("in-memory sqlite database is not supported")

func isInMemorySQLite(dsn string) bool {
	return dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Repository is the SQL storage collaborator. The same queries run on SQLite
// and Postgres; placeholders are written as ? and rebound per dialect.
type Repository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	newID   func() string
}

func NewSQLiteRepository(dbPath string) (*Repository, error) {
	if isInMemorySQLite(dbPath) {
		return nil, fmt.Errorf("open sqlite database %q: %w", dbPath, ErrInMemoryDSN)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	return Open(DialectSQLite, dbPath)
}

func NewPostgresRepository(databaseURL string) (*Repository, error) {
	return Open(DialectPostgres, databaseURL)
}

// Open connects, migrates and returns a ready repository.
func Open(dialect Dialect, dsn string) (*Repository, error) {
	if dialect == DialectSQLite && isInMemorySQLite(dsn) {
		return nil, fmt.Errorf("open %s database %q: %w", dialect, dsn, ErrInMemoryDSN)
	}

	db, err := sql.Open(dialect.driverName(), dialect.dsn(dsn))
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// One writer at a time; the busy timeout covers other processes.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dialect, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the connection for readiness probes.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Dialect() Dialect {
	return r.dialect
}

// rebind rewrites ? placeholders as $1, $2... for Postgres.
func (r *Repository) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *Repository) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	res, err := q.ExecContext(ctx, r.rebind(query), args...)
	return res, mapError(err)
}

func (r *Repository) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	rows, err := q.QueryContext(ctx, r.rebind(query), args...)
	return rows, mapError(err)
}

func (r *Repository) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, r.rebind(query), args...)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapError(err))
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

// mapError turns transient write conflicts from either driver into
// core.ErrConflict, keeping the driver error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var se *moderncsqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", core.ErrConflict, err)
		}
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %w", core.ErrConflict, err)
		}
		return err
	}

	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505", "40001", "40P01":
			return fmt.Errorf("%w: %w", core.ErrConflict, err)
		}
	}
	return err
}

func rowsAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func parseStoredPeriod(s string) (period.Period, error) {
	p, err := period.Parse(s)
	if err != nil {
		return period.Period{}, fmt.Errorf("stored period %q: %w", s, err)
	}
	return p, nil
}

func nullableDate(d core.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func nullableDay(day int) any {
	if day == 0 {
		return nil
	}
	return day
}

func scanDate(ns sql.NullString) (core.Date, error) {
	if !ns.Valid {
		return core.Date{}, nil
	}
	return core.ParseDate(ns.String)
}

// Accounts

func (r *Repository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if err := a.Validate(); err != nil {
		return core.Account{}, fmt.Errorf("validate account: %w", err)
	}
	if a.ID == "" {
		a.ID = r.newID()
	}
	a.CreatedAt = r.now()

	_, err := r.exec(ctx, r.db,
		`INSERT INTO accounts (id, name, period_start_day, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.Name, a.PeriodStartDay, a.CreatedAt)
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}

	slog.InfoContext(ctx, "Account created", "account_id", a.ID, "period_start_day", a.PeriodStartDay)
	return a, nil
}

func (r *Repository) GetAccount(ctx context.Context, id string) (core.Account, error) {
	row := r.queryRow(ctx, r.db,
		`SELECT id, name, period_start_day, created_at FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.ErrAccountNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (r *Repository) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := r.query(ctx, r.db,
		`SELECT id, name, period_start_day, created_at FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) UpdatePeriodStartDay(ctx context.Context, accountID string, day int) error {
	if err := period.ValidateStartDay(day); err != nil {
		return err
	}
	res, err := r.exec(ctx, r.db, `UPDATE accounts SET period_start_day = ? WHERE id = ?`, day, accountID)
	if err != nil {
		return fmt.Errorf("update period start day: %w", err)
	}
	return rowsAffected(res, core.ErrAccountNotFound)
}

func scanAccount(s rowScanner) (core.Account, error) {
	var a core.Account
	if err := s.Scan(&a.ID, &a.Name, &a.PeriodStartDay, &a.CreatedAt); err != nil {
		return core.Account{}, err
	}
	return a, nil
}

// Buckets

func (r *Repository) ListBucketConfigs(ctx context.Context, accountID string) ([]core.BucketConfig, error) {
	rows, err := r.query(ctx, r.db,
		`SELECT id, account_id, name, kind, payment_day, sort_order
		 FROM bucket_configs WHERE account_id = ? ORDER BY sort_order, name`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list bucket configs: %w", err)
	}
	defer rows.Close()

	var out []core.BucketConfig
	for rows.Next() {
		var (
			b          core.BucketConfig
			kind       string
			paymentDay sql.NullInt64
		)
		if err := rows.Scan(&b.ID, &b.AccountID, &b.Name, &kind, &paymentDay, &b.Order); err != nil {
			return nil, fmt.Errorf("scan bucket config: %w", err)
		}
		b.Kind = core.BucketKind(kind)
		b.PaymentDay = int(paymentDay.Int64)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) CreateBucketConfig(ctx context.Context, b core.BucketConfig) (core.BucketConfig, error) {
	if err := b.Validate(); err != nil {
		return core.BucketConfig{}, fmt.Errorf("validate bucket: %w", err)
	}
	if b.AccountID == "" {
		return core.BucketConfig{}, core.ErrMissingAccount
	}
	if b.ID == "" {
		b.ID = r.newID()
	}

	_, err := r.exec(ctx, r.db,
		`INSERT INTO bucket_configs (id, account_id, name, kind, payment_day, sort_order, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.AccountID, b.Name, string(b.Kind), nullableDay(b.PaymentDay), b.Order, r.now())
	if err != nil {
		return core.BucketConfig{}, fmt.Errorf("create bucket config: %w", err)
	}
	return b, nil
}

// DeleteBucketConfig refuses with core.ErrBucketInUse while expenses still
// reference the bucket.
func (r *Repository) DeleteBucketConfig(ctx context.Context, accountID, id string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := r.queryRow(ctx, tx,
			`SELECT COUNT(*) FROM expenses WHERE account_id = ? AND bucket_id = ?`, accountID, id).Scan(&n); err != nil {
			return fmt.Errorf("count bucket expenses: %w", mapError(err))
		}
		if n > 0 {
			return fmt.Errorf("%w: %d expenses", core.ErrBucketInUse, n)
		}
		res, err := r.exec(ctx, tx, `DELETE FROM bucket_configs WHERE account_id = ? AND id = ?`, accountID, id)
		if err != nil {
			return fmt.Errorf("delete bucket config: %w", err)
		}
		return rowsAffected(res, core.ErrBucketNotFound)
	})
}

// UpdateBucketConfig rewrites the editable fields of a bucket.
func (r *Repository) UpdateBucketConfig(ctx context.Context, b core.BucketConfig) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("validate bucket: %w", err)
	}
	res, err := r.exec(ctx, r.db,
		`UPDATE bucket_configs SET name = ?, kind = ?, payment_day = ?, sort_order = ?
		 WHERE account_id = ? AND id = ?`,
		b.Name, string(b.Kind), nullableDay(b.PaymentDay), b.Order, b.AccountID, b.ID)
	if err != nil {
		return fmt.Errorf("update bucket config: %w", err)
	}
	return rowsAffected(res, core.ErrBucketNotFound)
}

// ReorderBucketConfigs sets each bucket's sort order to its index in ids.
func (r *Repository) ReorderBucketConfigs(ctx context.Context, accountID string, ids []string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for i, id := range ids {
			res, err := r.exec(ctx, tx,
				`UPDATE bucket_configs SET sort_order = ? WHERE account_id = ? AND id = ?`, i, accountID, id)
			if err != nil {
				return fmt.Errorf("reorder bucket %s: %w", id, err)
			}
			if err := rowsAffected(res, core.ErrBucketNotFound); err != nil {
				return err
			}
		}
		return nil
	})
}

// Categories

func (r *Repository) ListCategories(ctx context.Context, accountID string) ([]core.Category, error) {
	rows, err := r.query(ctx, r.db,
		`SELECT id, account_id, name, color, sort_order FROM categories
		 WHERE account_id = ? ORDER BY sort_order, name`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Name, &c.Color, &c.Order); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if err := c.Validate(); err != nil {
		return core.Category{}, fmt.Errorf("validate category: %w", err)
	}
	if c.ID == "" {
		c.ID = r.newID()
	}
	_, err := r.exec(ctx, r.db,
		`INSERT INTO categories (id, account_id, name, color, sort_order) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.Name, c.Color, c.Order)
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	return c, nil
}

func (r *Repository) UpdateCategory(ctx context.Context, c core.Category) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validate category: %w", err)
	}
	res, err := r.exec(ctx, r.db,
		`UPDATE categories SET name = ?, color = ?, sort_order = ? WHERE account_id = ? AND id = ?`,
		c.Name, c.Color, c.Order, c.AccountID, c.ID)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	return rowsAffected(res, core.ErrCategoryNotFound)
}

// DeleteCategory removes a category and uncategorizes whatever pointed at it.
func (r *Repository) DeleteCategory(ctx context.Context, accountID, id string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := r.exec(ctx, tx, `DELETE FROM categories WHERE account_id = ? AND id = ?`, accountID, id)
		if err != nil {
			return fmt.Errorf("delete category: %w", err)
		}
		if err := rowsAffected(res, core.ErrCategoryNotFound); err != nil {
			return err
		}
		if _, err := r.exec(ctx, tx,
			`UPDATE expenses SET category_id = '' WHERE account_id = ? AND category_id = ?`, accountID, id); err != nil {
			return fmt.Errorf("uncategorize expenses: %w", err)
		}
		if _, err := r.exec(ctx, tx,
			`UPDATE fixed_payments SET category_id = NULL WHERE account_id = ? AND category_id = ?`, accountID, id); err != nil {
			return fmt.Errorf("uncategorize fixed payments: %w", err)
		}
		return nil
	})
}
