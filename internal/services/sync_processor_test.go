package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/carryover"
	"ledger/internal/core"
)

type fakeSyncer struct {
	accounts []core.Account
	failFor  string
	listErr  error

	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *fakeSyncer) ListAccounts(context.Context) ([]core.Account, error) {
	return f.accounts, f.listErr
}

func (f *fakeSyncer) SyncCurrentPeriod(_ context.Context, acc core.Account) (carryover.Result, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(f.delay)

	if acc.ID == f.failFor {
		return carryover.Result{AccountID: acc.ID, Failed: 1}, errors.New("store unavailable")
	}
	return carryover.Result{AccountID: acc.ID, Created: 1}, nil
}

func accounts(ids ...string) []core.Account {
	out := make([]core.Account, len(ids))
	for i, id := range ids {
		out[i] = core.Account{ID: id, Name: id, PeriodStartDay: 15}
	}
	return out
}

func TestDefaultSyncProcessorConfig(t *testing.T) {
	config := DefaultSyncProcessorConfig()

	assert.Equal(t, "@every 15m", config.Schedule)
	assert.Equal(t, 4, config.Concurrency)
	assert.True(t, config.RunOnStart)
}

func TestRunOnceSyncsEveryAccount(t *testing.T) {
	syncer := &fakeSyncer{accounts: accounts("a", "b", "c", "d", "e", "f"), delay: 10 * time.Millisecond}
	processor := NewSyncProcessor(syncer, SyncProcessorConfig{Concurrency: 2})

	stats, err := processor.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Accounts)
	assert.Equal(t, 6, stats.Synced)
	assert.Equal(t, 6, stats.Writes)
	assert.LessOrEqual(t, syncer.peak.Load(), int32(2))
}

func TestRunOnceContinuesPastFailures(t *testing.T) {
	syncer := &fakeSyncer{accounts: accounts("a", "b", "c"), failFor: "b"}
	processor := NewSyncProcessor(syncer, SyncProcessorConfig{Concurrency: 3})

	stats, err := processor.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account b")
	assert.Equal(t, 2, stats.Synced)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, int32(3), syncer.calls.Load())
}

func TestRunOnceListError(t *testing.T) {
	syncer := &fakeSyncer{listErr: errors.New("boom")}
	processor := NewSyncProcessor(syncer, DefaultSyncProcessorConfig())

	_, err := processor.RunOnce(context.Background())
	assert.ErrorContains(t, err, "list accounts")
}

func TestSyncProcessor_IsRunning(t *testing.T) {
	processor := NewSyncProcessor(&fakeSyncer{}, DefaultSyncProcessorConfig())
	assert.False(t, processor.IsRunning(), "processor should not be running initially")
}

func TestSyncProcessor_InvalidSchedule(t *testing.T) {
	config := DefaultSyncProcessorConfig()
	config.Schedule = "every now and then"
	processor := NewSyncProcessor(&fakeSyncer{}, config)

	err := processor.Start(context.Background())
	assert.ErrorContains(t, err, "parse sync schedule")
	assert.False(t, processor.IsRunning())
}

func TestSyncProcessor_StartRunStop(t *testing.T) {
	syncer := &fakeSyncer{accounts: accounts("a")}
	config := DefaultSyncProcessorConfig()
	config.Schedule = "@every 1h"
	processor := NewSyncProcessor(syncer, config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, processor.Start(ctx))
	assert.True(t, processor.IsRunning())
	assert.Error(t, processor.Start(ctx), "expected error when starting already running processor")

	assert.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, processor.Stop(stopCtx))
	assert.False(t, processor.IsRunning())
}

func TestSyncProcessor_StopNotRunning(t *testing.T) {
	processor := NewSyncProcessor(&fakeSyncer{}, DefaultSyncProcessorConfig())
	assert.NoError(t, processor.Stop(context.Background()))
}

func TestSyncProcessorDrivesLedgerService(t *testing.T) {
	store := newSeededStore(t)
	svc := NewLedgerService(store.Store, nil, nil, LedgerConfig{Location: time.UTC})
	svc.now = func() time.Time { return time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC) }

	processor := NewSyncProcessor(svc, SyncProcessorConfig{Concurrency: 2})
	stats, err := processor.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Accounts)
	assert.Equal(t, 1, stats.Writes)

	rows, err := store.ListBucketPayments(context.Background(), store.account.ID, jan)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4200), rows[0].Amount.Cents)
}
