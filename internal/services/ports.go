package services

import (
	"context"

	"ledger/internal/amqp"
	"ledger/internal/carryover"
	"ledger/internal/core"
	"ledger/internal/period"
)

// Store is everything the services read and write. Both the SQL repository
// and the in-memory store satisfy it.
type Store interface {
	carryover.Store

	GetAccount(ctx context.Context, id string) (core.Account, error)
	ListAccounts(ctx context.Context) ([]core.Account, error)
	CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
	UpdatePeriodStartDay(ctx context.Context, accountID string, day int) error

	ListBucketConfigs(ctx context.Context, accountID string) ([]core.BucketConfig, error)
	CreateBucketConfig(ctx context.Context, b core.BucketConfig) (core.BucketConfig, error)
	UpdateBucketConfig(ctx context.Context, b core.BucketConfig) error
	ReorderBucketConfigs(ctx context.Context, accountID string, ids []string) error
	DeleteBucketConfig(ctx context.Context, accountID, id string) error
	ListCategories(ctx context.Context, accountID string) ([]core.Category, error)
	CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
	UpdateCategory(ctx context.Context, c core.Category) error
	DeleteCategory(ctx context.Context, accountID, id string) error

	SumExpensesByBucket(ctx context.Context, accountID string, p period.Period) (map[string]core.Money, error)
	ListEntitiesForPeriod(ctx context.Context, accountID string, p period.Period) (core.PeriodEntities, error)
	CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	GetExpense(ctx context.Context, accountID, id string) (core.Expense, error)
	UpdateExpense(ctx context.Context, e core.Expense) error
	DeleteExpense(ctx context.Context, accountID, id string) error
	CreateFixedPayment(ctx context.Context, fp core.FixedPayment) (core.FixedPayment, error)
	GetFixedPayment(ctx context.Context, accountID, id string) (core.FixedPayment, error)
	UpdateFixedPayment(ctx context.Context, fp core.FixedPayment) error
	DeleteFixedPayment(ctx context.Context, accountID, id string) error
	AddSavingsContribution(ctx context.Context, s core.SavingsContribution) (core.SavingsContribution, error)

	UpsertMonthData(ctx context.Context, accountID string, p period.Period, salary, monthlyLimit core.Money) error
	SetFixedPaymentPaid(ctx context.Context, accountID string, p period.Period, fixedPaymentID string, paid bool) error

	GetBucketPaymentByID(ctx context.Context, id string) (core.BucketPayment, error)
	SetBucketPaymentPaid(ctx context.Context, id string, paid bool) error
	UpdateBucketPaymentDueDate(ctx context.Context, id string, due core.Date) error
	DeleteBucketPayment(ctx context.Context, id string) error

	DedupBucketPayments(ctx context.Context, accountID string) (int, error)
	MigrateLegacyPeriods(ctx context.Context, accountID string, startDay int) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// Publisher sends sync requests and sync events to the broker.
type Publisher interface {
	PublishCarryoverSync(ctx context.Context, accountID string, p period.Period, reason string) error
	PublishPeriodSynced(ctx context.Context, msg amqp.PeriodSyncedMessage) error
}
