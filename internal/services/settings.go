package services

import (
	"context"
	"fmt"

	"ledger/internal/core"
	"ledger/internal/log"
)

// BucketPatch holds the editable fields of a bucket. Nil fields are left
// alone; a zero PaymentDay clears the payment day.
type BucketPatch struct {
	Name       *string
	Kind       *core.BucketKind
	PaymentDay *int
}

// CategoryPatch holds the editable fields of a category.
type CategoryPatch struct {
	Name  *string
	Color *string
}

// CreateBucket adds a bucket after the account's existing ones.
func (s *LedgerService) CreateBucket(ctx context.Context, accountID string, b core.BucketConfig) (core.BucketConfig, error) {
	buckets, err := s.ListBuckets(ctx, accountID)
	if err != nil {
		return core.BucketConfig{}, err
	}
	b.ID = ""
	b.AccountID = accountID
	b.Order = 0
	for _, existing := range buckets {
		if existing.Order >= b.Order {
			b.Order = existing.Order + 1
		}
	}
	saved, err := s.store.CreateBucketConfig(ctx, b)
	if err != nil {
		return core.BucketConfig{}, fmt.Errorf("create bucket: %w", err)
	}
	s.invalidateAccount(accountID)
	s.logger.InfoContext(ctx, "Bucket created",
		log.FieldAccountID, accountID,
		"bucket_id", saved.ID,
		"kind", saved.Kind.String())
	return saved, nil
}

// UpdateBucket edits a bucket. Payments already carried over keep their
// due dates; later syncs use the new settings.
func (s *LedgerService) UpdateBucket(ctx context.Context, accountID, id string, patch BucketPatch) (core.BucketConfig, error) {
	b, err := s.bucket(ctx, accountID, id)
	if err != nil {
		return core.BucketConfig{}, err
	}
	if patch.Name != nil {
		b.Name = *patch.Name
	}
	if patch.Kind != nil {
		b.Kind = *patch.Kind
	}
	if patch.PaymentDay != nil {
		b.PaymentDay = *patch.PaymentDay
	}
	if b.Kind == core.BucketCash {
		b.PaymentDay = 0
	}
	if err := s.store.UpdateBucketConfig(ctx, b); err != nil {
		return core.BucketConfig{}, fmt.Errorf("update bucket: %w", err)
	}
	s.invalidateAccount(accountID)
	return b, nil
}

// ReorderBuckets sets the display order of an account's buckets. ids must
// name every bucket exactly once.
func (s *LedgerService) ReorderBuckets(ctx context.Context, accountID string, ids []string) ([]core.BucketConfig, error) {
	buckets, err := s.ListBuckets(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(ids) != len(buckets) {
		return nil, fmt.Errorf("%w: got %d ids for %d buckets", core.ErrInvalidOrder, len(ids), len(buckets))
	}
	known := make(map[string]bool, len(buckets))
	for _, b := range buckets {
		known[b.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return nil, fmt.Errorf("%w: %q listed twice or unknown", core.ErrInvalidOrder, id)
		}
		delete(known, id)
	}

	if err := s.store.ReorderBucketConfigs(ctx, accountID, ids); err != nil {
		return nil, fmt.Errorf("reorder buckets: %w", err)
	}
	s.invalidateAccount(accountID)
	return s.store.ListBucketConfigs(ctx, accountID)
}

// DeleteBucket removes a bucket. It fails with core.ErrBucketInUse while
// any expense still points at it.
func (s *LedgerService) DeleteBucket(ctx context.Context, accountID, id string) error {
	if err := s.store.DeleteBucketConfig(ctx, accountID, id); err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	s.invalidateAccount(accountID)
	s.logger.InfoContext(ctx, "Bucket deleted", log.FieldAccountID, accountID, "bucket_id", id)
	return nil
}

func (s *LedgerService) bucket(ctx context.Context, accountID, id string) (core.BucketConfig, error) {
	buckets, err := s.ListBuckets(ctx, accountID)
	if err != nil {
		return core.BucketConfig{}, err
	}
	for _, b := range buckets {
		if b.ID == id {
			return b, nil
		}
	}
	return core.BucketConfig{}, core.ErrBucketNotFound
}

// ListCategories returns the categories of an account.
func (s *LedgerService) ListCategories(ctx context.Context, accountID string) ([]core.Category, error) {
	if _, err := s.Account(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListCategories(ctx, accountID)
}

// CreateCategory adds a category after the account's existing ones.
func (s *LedgerService) CreateCategory(ctx context.Context, accountID string, c core.Category) (core.Category, error) {
	categories, err := s.ListCategories(ctx, accountID)
	if err != nil {
		return core.Category{}, err
	}
	c.ID = ""
	c.AccountID = accountID
	c.Order = 0
	for _, existing := range categories {
		if existing.Order >= c.Order {
			c.Order = existing.Order + 1
		}
	}
	saved, err := s.store.CreateCategory(ctx, c)
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	s.invalidateAccount(accountID)
	return saved, nil
}

func (s *LedgerService) UpdateCategory(ctx context.Context, accountID, id string, patch CategoryPatch) (core.Category, error) {
	categories, err := s.ListCategories(ctx, accountID)
	if err != nil {
		return core.Category{}, err
	}
	var (
		c     core.Category
		found bool
	)
	for _, existing := range categories {
		if existing.ID == id {
			c, found = existing, true
			break
		}
	}
	if !found {
		return core.Category{}, core.ErrCategoryNotFound
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Color != nil {
		c.Color = *patch.Color
	}
	if err := s.store.UpdateCategory(ctx, c); err != nil {
		return core.Category{}, fmt.Errorf("update category: %w", err)
	}
	s.invalidateAccount(accountID)
	return c, nil
}

// DeleteCategory removes a category. Expenses and bills that used it become
// uncategorized.
func (s *LedgerService) DeleteCategory(ctx context.Context, accountID, id string) error {
	if err := s.store.DeleteCategory(ctx, accountID, id); err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	s.invalidateAccount(accountID)
	return nil
}
