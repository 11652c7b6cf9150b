package services

import (
	"context"
	"fmt"

	"ledger/internal/core"
)

// DefaultPeriodStartDay is used when neither the caller nor the
// configuration names one.
const DefaultPeriodStartDay = 15

// DefaultCategories are created for accounts that have none.
var DefaultCategories = []core.Category{
	{Name: "Food", Color: "#10B981", Order: 1},
	{Name: "Transport", Color: "#F59E0B", Order: 2},
	{Name: "Bills", Color: "#3B82F6", Order: 3},
	{Name: "Debt", Color: "#EF4444", Order: 4},
	{Name: "Entertainment", Color: "#8B5CF6", Order: 5},
	{Name: "Shopping", Color: "#F97316", Order: 6},
	{Name: "Health", Color: "#EC4899", Order: 7},
	{Name: "Other", Color: "#6B7280", Order: 99},
}

// DefaultBuckets are created for accounts that have none.
var DefaultBuckets = []core.BucketConfig{
	{Name: "Cash", Kind: core.BucketCash, Order: 1},
	{Name: "Bank", Kind: core.BucketCash, Order: 2},
	{Name: "Credit Card", Kind: core.BucketCreditCard, PaymentDay: 20, Order: 3},
}

// SeedStore is the subset of Store that SeedDefaults writes through.
type SeedStore interface {
	ListCategories(ctx context.Context, accountID string) ([]core.Category, error)
	CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
	ListBucketConfigs(ctx context.Context, accountID string) ([]core.BucketConfig, error)
	CreateBucketConfig(ctx context.Context, b core.BucketConfig) (core.BucketConfig, error)
}

// SeedResult counts what SeedDefaults created.
type SeedResult struct {
	Categories int `json:"categories"`
	Buckets    int `json:"buckets"`
}

// SeedDefaults gives an account the default categories and buckets. Each
// group is only seeded when the account has none of that kind, so running it
// again changes nothing.
func SeedDefaults(ctx context.Context, store SeedStore, accountID string) (SeedResult, error) {
	var res SeedResult

	categories, err := store.ListCategories(ctx, accountID)
	if err != nil {
		return res, fmt.Errorf("list categories: %w", err)
	}
	if len(categories) == 0 {
		for _, c := range DefaultCategories {
			c.AccountID = accountID
			if _, err := store.CreateCategory(ctx, c); err != nil {
				return res, fmt.Errorf("create category %s: %w", c.Name, err)
			}
			res.Categories++
		}
	}

	buckets, err := store.ListBucketConfigs(ctx, accountID)
	if err != nil {
		return res, fmt.Errorf("list buckets: %w", err)
	}
	if len(buckets) == 0 {
		for _, b := range DefaultBuckets {
			b.AccountID = accountID
			if _, err := store.CreateBucketConfig(ctx, b); err != nil {
				return res, fmt.Errorf("create bucket %s: %w", b.Name, err)
			}
			res.Buckets++
		}
	}

	return res, nil
}
