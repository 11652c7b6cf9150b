package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/amqp"
	"ledger/internal/core"
	"ledger/internal/period"
	"ledger/internal/storage/memory"
)

type fakePublisher struct {
	mu      sync.Mutex
	queued  []string
	synced  []amqp.PeriodSyncedMessage
	syncErr error
}

func (f *fakePublisher) PublishCarryoverSync(_ context.Context, accountID string, p period.Period, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.syncErr != nil {
		return f.syncErr
	}
	f.queued = append(f.queued, accountID+"/"+p.String()+"/"+reason)
	return nil
}

func (f *fakePublisher) PublishPeriodSynced(_ context.Context, msg amqp.PeriodSyncedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, msg)
	return nil
}

// failingSumStore breaks the carry-over input while leaving reads intact.
type failingSumStore struct {
	*memory.Store
}

func (failingSumStore) SumExpensesByBucket(context.Context, string, period.Period) (map[string]core.Money, error) {
	return nil, errors.New("disk on fire")
}

// gatedStore holds the first entity listing until release is closed.
type gatedStore struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) ListEntitiesForPeriod(ctx context.Context, accountID string, p period.Period) (core.PeriodEntities, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	if err := ctx.Err(); err != nil {
		return core.PeriodEntities{}, err
	}
	return g.Store.ListEntitiesForPeriod(ctx, accountID, p)
}

var (
	dec = period.MustParse("2025-12-15")
	jan = period.MustParse("2026-01-15")
)

func newTestService(t *testing.T, store Store, pub Publisher) (*LedgerService, core.Account) {
	t.Helper()
	svc := NewLedgerService(store, pub, nil, LedgerConfig{Location: time.UTC})
	svc.now = func() time.Time { return time.Date(2026, 1, 25, 10, 0, 0, 0, time.UTC) }

	acc, err := svc.CreateAccount(context.Background(), "Home", 15)
	require.NoError(t, err)
	return svc, acc
}

func bucketNamed(t *testing.T, store Store, accountID, name string) core.BucketConfig {
	t.Helper()
	buckets, err := store.ListBucketConfigs(context.Background(), accountID)
	require.NoError(t, err)
	for _, b := range buckets {
		if b.Name == name {
			return b
		}
	}
	t.Fatalf("bucket %q not found", name)
	return core.BucketConfig{}
}

func addExpense(t *testing.T, svc *LedgerService, accountID string, p period.Period, bucketID string, cents int64) {
	t.Helper()
	_, err := svc.CreateExpense(context.Background(), core.Expense{
		AccountID: accountID,
		Period:    p,
		BucketID:  bucketID,
		Amount:    core.Money{Cents: cents},
		Name:      "groceries",
	})
	require.NoError(t, err)
}

func TestCurrentPeriodUsesConfiguredLocation(t *testing.T) {
	store := memory.New()
	svc := NewLedgerService(store, nil, nil, LedgerConfig{Location: time.FixedZone("UTC+2", 2*60*60)})
	// 23:30 UTC on the 14th is already the 15th two hours east.
	svc.now = func() time.Time { return time.Date(2026, 1, 14, 23, 30, 0, 0, time.UTC) }

	acc, err := svc.CreateAccount(context.Background(), "Home", 15)
	require.NoError(t, err)

	info, err := svc.CurrentPeriod(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-15", info.Period.String())
	assert.Equal(t, "2026-02-14", info.End.String())
	assert.Equal(t, "Jan 15 - Feb 14, 2026", info.Display)
	assert.Equal(t, "2026-01-15__2026-02-14", info.Key)
}

func TestResolvePeriod(t *testing.T) {
	store := memory.New()
	svc, acc := newTestService(t, store, nil)
	ctx := context.Background()

	_, p, err := svc.ResolvePeriod(ctx, acc.ID, "2026-01-15")
	require.NoError(t, err)
	assert.Equal(t, jan, p)

	// Any real date is a period, even off the account's start day.
	_, p, err = svc.ResolvePeriod(ctx, acc.ID, "2026-01-10")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Day)

	for _, raw := range []string{"2026-13-15", "2026-1-15", "2026-02-30", "garbage", ""} {
		_, _, err := svc.ResolvePeriod(ctx, acc.ID, raw)
		assert.ErrorIs(t, err, period.ErrInvalidPeriod, raw)
	}

	_, _, err = svc.ResolvePeriod(ctx, "missing", "2026-01-15")
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
}

func TestResolvePeriodClampedStartDay(t *testing.T) {
	store := memory.New()
	svc := NewLedgerService(store, nil, nil, LedgerConfig{Location: time.UTC})
	acc, err := svc.CreateAccount(context.Background(), "Home", 31)
	require.NoError(t, err)

	_, p, err := svc.ResolvePeriod(context.Background(), acc.ID, "2026-02-28")
	require.NoError(t, err)
	assert.Equal(t, 28, p.Day)

	assert.Equal(t, "2026-03-30", Info(p, acc.PeriodStartDay).End.String())

	// 2026-03-28 is not a start for day 31, so it spans by its own day.
	_, p, err = svc.ResolvePeriod(context.Background(), acc.ID, "2026-03-28")
	require.NoError(t, err)
	info := Info(p, acc.PeriodStartDay)
	assert.Equal(t, "2026-04-27", info.End.String())
	assert.Equal(t, 28, info.StartDay)
}

func TestStartDayChangeKeepsOldPeriods(t *testing.T) {
	store := memory.New()
	svc, acc := newTestService(t, store, nil)
	ctx := context.Background()
	card := bucketNamed(t, store, acc.ID, "Credit Card")

	addExpense(t, svc, acc.ID, dec, card.ID, 4200)
	require.NoError(t, svc.UpdatePeriodStartDay(ctx, acc.ID, 1))

	acc, p, err := svc.ResolvePeriod(ctx, acc.ID, "2025-12-15")
	require.NoError(t, err)
	assert.Equal(t, 1, acc.PeriodStartDay)
	assert.Equal(t, dec, p)

	view, err := svc.View(ctx, acc, p)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-14", view.Info.End.String())
	assert.Equal(t, 15, view.Info.StartDay)
	require.Len(t, view.Entities.Expenses, 1)
	assert.Equal(t, int64(4200), view.Summary.ExpensesTotal.Cents)

	// The old January period still carries December's card spending.
	_, p, err = svc.ResolvePeriod(ctx, acc.ID, "2026-01-15")
	require.NoError(t, err)
	view, err = svc.View(ctx, acc, p)
	require.NoError(t, err)
	assert.False(t, view.CarryoverStale)
	require.Len(t, view.Entities.BucketPayments, 1)
	assert.Equal(t, int64(4200), view.Entities.BucketPayments[0].Amount.Cents)

	// New periods follow the new start day.
	info, err := svc.CurrentPeriod(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01", info.Period.String())
	assert.Equal(t, "2026-01-31", info.End.String())
}

func TestViewCarriesPreviousPeriodSpending(t *testing.T) {
	store := memory.New()
	pub := &fakePublisher{}
	svc, acc := newTestService(t, store, pub)
	ctx := context.Background()
	card := bucketNamed(t, store, acc.ID, "Credit Card")

	addExpense(t, svc, acc.ID, dec, card.ID, 100)
	addExpense(t, svc, acc.ID, dec, card.ID, 200)

	view, err := svc.View(ctx, acc, jan)
	require.NoError(t, err)
	assert.False(t, view.CarryoverStale)
	require.Len(t, view.Entities.BucketPayments, 1)

	bp := view.Entities.BucketPayments[0]
	assert.Equal(t, int64(300), bp.Amount.Cents)
	assert.False(t, bp.Paid)
	assert.Equal(t, "2026-01-20", bp.DueDate.String())
	assert.True(t, view.Summary.PaidFromPreviousPeriod.IsZero())
	// Today is the 25th, the card was due on the 20th.
	require.Len(t, view.OverdueBucketPayments, 1)

	require.Len(t, pub.synced, 1)
	assert.Equal(t, 1, pub.synced[0].Created)

	paid := true
	updated, err := svc.UpdateBucketPayment(ctx, bp.ID, BucketPaymentPatch{Paid: &paid})
	require.NoError(t, err)
	assert.True(t, updated.Paid)

	view, err = svc.View(ctx, acc, jan)
	require.NoError(t, err)
	assert.Equal(t, int64(300), view.Summary.PaidFromPreviousPeriod.Cents)
	assert.Equal(t, int64(300), view.Summary.GrandTotal.Cents)
	assert.Empty(t, view.OverdueBucketPayments)
	// Nothing changed on the second sync.
	assert.Len(t, pub.synced, 1)
}

func TestViewSurvivesCancelledFirstCaller(t *testing.T) {
	store := &gatedStore{Store: memory.New(), entered: make(chan struct{}), release: make(chan struct{})}
	svc, acc := newTestService(t, store, nil)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.View(first, acc, jan)
		firstErr <- err
	}()
	<-store.entered

	var waited PeriodView
	waiterErr := make(chan error, 1)
	go func() {
		v, err := svc.View(context.Background(), acc, jan)
		waited = v
		waiterErr <- err
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(store.release)
	require.NoError(t, <-waiterErr)
	assert.Equal(t, jan, waited.Info.Period)
	assert.False(t, waited.CarryoverStale)
}

func TestViewFollowsExpenseChanges(t *testing.T) {
	store := memory.New()
	svc, acc := newTestService(t, store, nil)
	ctx := context.Background()
	card := bucketNamed(t, store, acc.ID, "Credit Card")

	addExpense(t, svc, acc.ID, dec, card.ID, 100)
	view, err := svc.View(ctx, acc, jan)
	require.NoError(t, err)
	require.Len(t, view.Entities.BucketPayments, 1)

	addExpense(t, svc, acc.ID, dec, card.ID, 50)
	view, err = svc.View(ctx, acc, jan)
	require.NoError(t, err)
	require.Len(t, view.Entities.BucketPayments, 1)
	assert.Equal(t, int64(150), view.Entities.BucketPayments[0].Amount.Cents)
}

func TestViewCacheInvalidation(t *testing.T) {
	store := memory.New()
	svc, acc := newTestService(t, store, nil)
	ctx := context.Background()

	_, err := svc.View(ctx, acc, jan)
	require.NoError(t, err)
	_, err = svc.View(ctx, acc, jan)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), svc.Views().Stats().Hits)

	require.NoError(t, svc.UpdateMonthData(ctx, acc.ID, jan, core.Money{Cents: 300000}, core.Money{Cents: 150000}))

	view, err := svc.View(ctx, acc, jan)
	require.NoError(t, err)
	assert.Equal(t, int64(300000), view.Summary.Salary.Cents)
	assert.Equal(t, int64(150000), view.Summary.RemainingFromLimit.Cents)
}

func TestViewServesStaleSummaryWhenSyncFails(t *testing.T) {
	mem := memory.New()
	store := failingSumStore{Store: mem}
	svc, acc := newTestService(t, store, nil)
	ctx := context.Background()

	require.NoError(t, svc.UpdateMonthData(ctx, acc.ID, jan, core.Money{Cents: 1000}, core.Money{}))

	view, err := svc.View(ctx, acc, jan)
	require.NoError(t, err)
	assert.True(t, view.CarryoverStale)
	assert.Equal(t, int64(1000), view.Summary.Salary.Cents)
	assert.Equal(t, 0, svc.Views().Size(), "stale views must not be cached")
}

func TestStaleViewQueuesRetry(t *testing.T) {
	pub := &fakePublisher{}
	svc, acc := newTestService(t, failingSumStore{Store: memory.New()}, pub)

	view, err := svc.View(context.Background(), acc, jan)
	require.NoError(t, err)
	assert.True(t, view.CarryoverStale)
	assert.Equal(t, []string{acc.ID + "/2026-01-15/" + ReasonViewLoad}, pub.queued)
}

func TestFixedPaymentsInView(t *testing.T) {
	store := memory.New()
	svc, acc := newTestService(t, store, nil)
	ctx := context.Background()

	rent, err := svc.CreateFixedPayment(ctx, core.FixedPayment{AccountID: acc.ID, Name: "Rent", Amount: core.Money{Cents: 80000}, DueDay: 16})
	require.NoError(t, err)
	_, err = svc.CreateFixedPayment(ctx, core.FixedPayment{AccountID: acc.ID, Name: "Gym", Amount: core.Money{Cents: 4000}, DueDay: 28})
	require.NoError(t, err)

	view, err := svc.View(ctx, acc, jan)
	require.NoError(t, err)
	assert.Equal(t, int64(84000), view.Summary.PlannedRecurringTotal.Cents)
	require.Len(t, view.OverdueFixedPayments, 1)
	assert.Equal(t, "Rent", view.OverdueFixedPayments[0].Name)

	require.NoError(t, svc.SetFixedPaymentPaid(ctx, acc.ID, jan, rent.ID, true))
	view, err = svc.View(ctx, acc, jan)
	require.NoError(t, err)
	assert.Equal(t, int64(80000), view.Summary.PaidRecurringTotal.Cents)
	assert.Equal(t, int64(4000), view.Summary.RemainingRecurringTotal.Cents)
	assert.Empty(t, view.OverdueFixedPayments)
}

func TestConcurrentViewsCreateOnePayment(t *testing.T) {
	store := memory.New()
	svc, acc := newTestService(t, store, nil)
	ctx := context.Background()
	card := bucketNamed(t, store, acc.ID, "Credit Card")
	addExpense(t, svc, acc.ID, dec, card.ID, 999)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.View(ctx, acc, jan)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rows, err := store.ListBucketPayments(ctx, acc.ID, jan)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRequestSync(t *testing.T) {
	t.Run("queued when a publisher is set", func(t *testing.T) {
		pub := &fakePublisher{}
		svc, acc := newTestService(t, memory.New(), pub)

		queued, _, err := svc.RequestSync(context.Background(), acc.ID, jan, ReasonManual)
		require.NoError(t, err)
		assert.True(t, queued)
		assert.Equal(t, []string{acc.ID + "/2026-01-15/manual"}, pub.queued)
	})

	t.Run("inline when publishing fails", func(t *testing.T) {
		store := memory.New()
		pub := &fakePublisher{syncErr: errors.New("broker down")}
		svc, acc := newTestService(t, store, pub)
		cash := bucketNamed(t, store, acc.ID, "Cash")
		addExpense(t, svc, acc.ID, dec, cash.ID, 500)

		queued, res, err := svc.RequestSync(context.Background(), acc.ID, jan, ReasonManual)
		require.NoError(t, err)
		assert.False(t, queued)
		assert.Equal(t, 1, res.Created)
	})

	t.Run("inline without publisher", func(t *testing.T) {
		svc, acc := newTestService(t, memory.New(), nil)
		queued, res, err := svc.RequestSync(context.Background(), acc.ID, jan, ReasonManual)
		require.NoError(t, err)
		assert.False(t, queued)
		assert.Equal(t, 0, res.Writes())
	})
}

func TestSyncFirstRepresentablePeriod(t *testing.T) {
	svc, acc := newTestService(t, memory.New(), nil)
	res, err := svc.SyncCarryover(context.Background(), acc.ID, period.MustParse("2000-01-15"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Writes())
}

func TestDeleteBucketPaymentIsRecreated(t *testing.T) {
	store := memory.New()
	svc, acc := newTestService(t, store, nil)
	ctx := context.Background()
	cash := bucketNamed(t, store, acc.ID, "Cash")
	addExpense(t, svc, acc.ID, dec, cash.ID, 700)

	res, err := svc.SyncCarryover(ctx, acc.ID, jan)
	require.NoError(t, err)
	require.Len(t, res.Buckets, 3)

	rows, err := store.ListBucketPayments(ctx, acc.ID, jan)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, svc.DeleteBucketPayment(ctx, rows[0].ID))
	res, err = svc.SyncCarryover(ctx, acc.ID, jan)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	assert.ErrorIs(t, svc.DeleteBucketPayment(ctx, "nope"), core.ErrNotFound)
}

func TestDedupUnknownAccount(t *testing.T) {
	svc, _ := newTestService(t, memory.New(), nil)
	_, err := svc.Dedup(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
}
