package carryover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/core"
	"ledger/internal/period"
)

type paymentKey struct {
	account string
	period  period.Period
	bucket  string
}

// fakeStore enforces the (account, period, bucket) uniqueness the real
// storage gets from its index, and counts writes.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[paymentKey]core.BucketPayment
	writes   int
	seq      int
	getErr   error
	upsertFn func(attempt int) error
	attempts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[paymentKey]core.BucketPayment)}
}

func (f *fakeStore) GetBucketPayment(_ context.Context, accountID string, p period.Period, bucketID string) (core.BucketPayment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return core.BucketPayment{}, false, f.getErr
	}
	bp, ok := f.rows[paymentKey{accountID, p, bucketID}]
	return bp, ok, nil
}

func (f *fakeStore) UpsertBucketPayment(_ context.Context, bp core.BucketPayment) (core.BucketPayment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.upsertFn != nil {
		if err := f.upsertFn(f.attempts); err != nil {
			return core.BucketPayment{}, false, err
		}
	}
	f.writes++
	key := paymentKey{bp.AccountID, bp.Period, bp.BucketID}
	if existing, ok := f.rows[key]; ok {
		existing.Amount = bp.Amount
		f.rows[key] = existing
		return existing, false, nil
	}
	f.seq++
	bp.CreatedAt = time.Unix(int64(f.seq), 0)
	f.rows[key] = bp
	return bp, true, nil
}

func (f *fakeStore) UpdateBucketPaymentAmount(_ context.Context, id string, amount core.Money) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, row := range f.rows {
		if row.ID == id {
			row.Amount = amount
			f.rows[k] = row
			f.writes++
			return nil
		}
	}
	return core.ErrNotFound
}

func (f *fakeStore) row(account string, p period.Period, bucket string) (core.BucketPayment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bp, ok := f.rows[paymentKey{account, p, bucket}]
	return bp, ok
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func newTestSynchronizer(store Store) *Synchronizer {
	s := New(store, nil, Config{MaxRetries: 3, RetryBackoff: time.Millisecond})
	n := 0
	var mu sync.Mutex
	s.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("bp-%d", n)
	}
	return s
}

var (
	jan    = period.MustParse("2026-01-15")
	card   = core.BucketConfig{ID: "card", Name: "Card", Kind: core.BucketCreditCard, PaymentDay: 20}
	cash   = core.BucketConfig{ID: "cash", Name: "Cash", Kind: core.BucketCash}
	cents  = func(v int64) core.Money { return core.Money{Cents: v} }
	single = []core.BucketConfig{card}
)

func TestSync_CreatesUnpaidPaymentWithDueDate(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(store)

	res, err := s.Sync(context.Background(), "acc", jan, single, map[string]core.Money{"card": cents(12000)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Writes())

	bp, ok := store.row("acc", jan, "card")
	require.True(t, ok)
	assert.Equal(t, int64(12000), bp.Amount.Cents)
	assert.False(t, bp.Paid)
	assert.Equal(t, "2026-01-20", bp.DueDate.String())
	assert.Equal(t, "bp-1", bp.ID)
}

func TestSync_IsIdempotent(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(store)
	totals := map[string]core.Money{"card": cents(12000), "cash": cents(3000)}
	buckets := []core.BucketConfig{card, cash}

	_, err := s.Sync(context.Background(), "acc", jan, buckets, totals)
	require.NoError(t, err)
	writesAfterFirst := store.writeCount()
	first, _ := store.row("acc", jan, "card")

	res, err := s.Sync(context.Background(), "acc", jan, buckets, totals)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Writes())
	assert.Equal(t, 2, res.Unchanged)
	assert.Equal(t, writesAfterFirst, store.writeCount(), "second sync must not write")

	second, _ := store.row("acc", jan, "card")
	assert.Equal(t, first, second)
}

func TestSync_UpdatesAmountOnlyAndKeepsUserEdits(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(store)

	_, err := s.Sync(context.Background(), "acc", jan, single, map[string]core.Money{"card": cents(12000)})
	require.NoError(t, err)

	// user marks it paid and moves the due date
	store.mu.Lock()
	key := paymentKey{"acc", jan, "card"}
	row := store.rows[key]
	row.Paid = true
	row.DueDate = core.NewDate(2026, 1, 25)
	store.rows[key] = row
	store.mu.Unlock()

	res, err := s.Sync(context.Background(), "acc", jan, single, map[string]core.Money{"card": cents(15000)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	bp, _ := store.row("acc", jan, "card")
	assert.Equal(t, int64(15000), bp.Amount.Cents)
	assert.True(t, bp.Paid, "paid flag must survive amount updates")
	assert.Equal(t, "2026-01-25", bp.DueDate.String())
}

func TestSync_NeverCreatesZeroRows(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(store)

	res, err := s.Sync(context.Background(), "acc", jan, []core.BucketConfig{card, cash}, map[string]core.Money{"card": cents(0)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Empty)
	assert.Equal(t, 0, store.writeCount())
	_, ok := store.row("acc", jan, "card")
	assert.False(t, ok)
}

func TestSync_ExistingRowDropsToZero(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(store)

	_, err := s.Sync(context.Background(), "acc", jan, single, map[string]core.Money{"card": cents(500)})
	require.NoError(t, err)

	res, err := s.Sync(context.Background(), "acc", jan, single, map[string]core.Money{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	bp, _ := store.row("acc", jan, "card")
	assert.Equal(t, int64(0), bp.Amount.Cents)
}

func TestSync_CashBucketHasNoDueDate(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(store)

	_, err := s.Sync(context.Background(), "acc", jan, []core.BucketConfig{cash}, map[string]core.Money{"cash": cents(700)})
	require.NoError(t, err)
	bp, ok := store.row("acc", jan, "cash")
	require.True(t, ok)
	assert.True(t, bp.DueDate.IsZero())
}

func TestSync_SkipsMissingAndInvalidBuckets(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(store)

	buckets := []core.BucketConfig{card, {ID: "weird", Name: "Weird", Kind: "wallet"}}
	totals := map[string]core.Money{"card": cents(100), "weird": cents(200), "deleted": cents(300), "gone-empty": cents(0)}

	res, err := s.Sync(context.Background(), "acc", jan, buckets, totals)
	require.NoError(t, err, "missing configuration is not a failure")
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, res.Skipped)

	var skipped []string
	for _, b := range res.Buckets {
		if b.Outcome == OutcomeSkipped {
			skipped = append(skipped, b.BucketID)
		}
	}
	assert.ElementsMatch(t, []string{"weird", "deleted"}, skipped)
}

func TestSync_RetriesConflicts(t *testing.T) {
	store := newFakeStore()
	store.upsertFn = func(attempt int) error {
		if attempt < 3 {
			return fmt.Errorf("database is locked: %w", core.ErrConflict)
		}
		return nil
	}
	s := newTestSynchronizer(store)

	res, err := s.Sync(context.Background(), "acc", jan, single, map[string]core.Money{"card": cents(100)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 3, store.attempts)
}

func TestSync_GivesUpAfterRetryBudget(t *testing.T) {
	store := newFakeStore()
	store.upsertFn = func(int) error { return core.ErrConflict }
	s := newTestSynchronizer(store)

	res, err := s.Sync(context.Background(), "acc", jan, []core.BucketConfig{card, cash}, map[string]core.Money{"card": cents(100), "cash": cents(50)})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 8, store.attempts, "both buckets are attempted")
}

func TestSync_DoesNotRetryOtherErrors(t *testing.T) {
	store := newFakeStore()
	boom := errors.New("disk full")
	store.upsertFn = func(int) error { return boom }
	s := newTestSynchronizer(store)

	_, err := s.Sync(context.Background(), "acc", jan, single, map[string]core.Money{"card": cents(100)})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, store.attempts)
}

func TestSync_SurfacesReadFailures(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("connection refused")
	s := newTestSynchronizer(store)

	res, err := s.Sync(context.Background(), "acc", jan, single, map[string]core.Money{"card": cents(100)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 1, res.Failed)
}

func TestSync_RejectsBadInput(t *testing.T) {
	s := newTestSynchronizer(newFakeStore())

	_, err := s.Sync(context.Background(), "", jan, single, nil)
	assert.ErrorIs(t, err, core.ErrMissingAccount)

	_, err = s.Sync(context.Background(), "acc", period.Period{}, single, nil)
	assert.ErrorIs(t, err, period.ErrInvalidPeriod)
}

func TestSync_StopsOnCancelledContext(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Sync(ctx, "acc", jan, single, map[string]core.Money{"card": cents(100)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.writeCount())
}

func TestSync_ConcurrentCallsProduceOneRow(t *testing.T) {
	store := newFakeStore()
	s := newTestSynchronizer(store)
	totals := map[string]core.Money{"card": cents(12000)}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Sync(context.Background(), "acc", jan, single, totals)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.rows, 1)
	for _, row := range store.rows {
		assert.Equal(t, int64(12000), row.Amount.Cents)
	}
}

func TestDueDate(t *testing.T) {
	tests := []struct {
		name   string
		period string
		bucket core.BucketConfig
		want   string
	}{
		{"card in period month", "2026-01-15", card, "2026-01-20"},
		{"clamped to february", "2026-02-15", core.BucketConfig{Kind: core.BucketCreditCard, PaymentDay: 31}, "2026-02-28"},
		{"card without payment day", "2026-01-15", core.BucketConfig{Kind: core.BucketCreditCard}, ""},
		{"cash ignores payment day", "2026-01-15", core.BucketConfig{Kind: core.BucketCash, PaymentDay: 10}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DueDate(period.MustParse(tt.period), tt.bucket).String())
		})
	}
}

func TestExponentialBackoff(t *testing.T) {
	assert.Equal(t, time.Duration(0), exponentialBackoff(0, time.Second))
	assert.Equal(t, 10*time.Millisecond, exponentialBackoff(1, 10*time.Millisecond))
	assert.Equal(t, 40*time.Millisecond, exponentialBackoff(3, 10*time.Millisecond))
	assert.Equal(t, 2*time.Second, exponentialBackoff(30, time.Second))
}
