package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"ledger/internal/carryover"
	"ledger/internal/core"
)

// AccountSyncer is what the processor drives on each run.
type AccountSyncer interface {
	ListAccounts(ctx context.Context) ([]core.Account, error)
	SyncCurrentPeriod(ctx context.Context, acc core.Account) (carryover.Result, error)
}

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// Schedule is a cron spec or descriptor (default: @every 15m)
	Schedule string

	// Concurrency bounds how many accounts sync at once (default: 4)
	Concurrency int

	// RunOnStart triggers a run as soon as the processor starts
	RunOnStart bool

	// Location evaluates the schedule (default: time.Local)
	Location *time.Location
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		Schedule:    "@every 15m",
		Concurrency: 4,
		RunOnStart:  true,
		Location:    time.Local,
	}
}

// RunStats summarizes one run over all accounts.
type RunStats struct {
	Accounts int
	Synced   int
	Failed   int
	Writes   int
	Duration time.Duration
}

// SyncProcessor reconciles the current period of every account on a cron
// schedule.
type SyncProcessor struct {
	syncer AccountSyncer
	config SyncProcessorConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	wg      sync.WaitGroup
}

// NewSyncProcessor creates a new sync processor
func NewSyncProcessor(syncer AccountSyncer, config SyncProcessorConfig) *SyncProcessor {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	return &SyncProcessor{
		syncer: syncer,
		config: config,
	}
}

// Start schedules runs. Returns an error if already running or if the
// schedule does not parse.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("sync processor is already running")
	}
	if _, err := cron.ParseStandard(p.config.Schedule); err != nil {
		return fmt.Errorf("parse sync schedule %q: %w", p.config.Schedule, err)
	}

	c := cron.New(
		cron.WithLocation(p.config.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(p.config.Schedule, func() { p.run(ctx) }); err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	c.Start()
	p.cron = c
	p.running = true

	if p.config.RunOnStart {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}

	slog.InfoContext(ctx, "Sync processor started",
		"schedule", p.config.Schedule,
		"concurrency", p.config.Concurrency)
	return nil
}

// Stop halts the schedule and waits for a running sync to finish.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	c := p.cron
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.cron = nil
	p.mu.Unlock()
	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	stats, err := p.RunOnce(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Scheduled carry-over sync finished with errors",
			"accounts", stats.Accounts,
			"failed", stats.Failed,
			"error", err)
		return
	}
	slog.InfoContext(ctx, "Scheduled carry-over sync completed",
		"accounts", stats.Accounts,
		"writes", stats.Writes,
		"duration_ms", stats.Duration.Milliseconds())
}

// RunOnce syncs the current period of every account, at most Concurrency at
// a time. One failing account does not stop the others; all failures are
// joined into the returned error.
func (p *SyncProcessor) RunOnce(ctx context.Context) (RunStats, error) {
	start := time.Now()
	var stats RunStats

	accounts, err := p.syncer.ListAccounts(ctx)
	if err != nil {
		return stats, fmt.Errorf("list accounts: %w", err)
	}
	stats.Accounts = len(accounts)

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(p.config.Concurrency)

	for _, acc := range accounts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				stats.Failed++
				mu.Unlock()
				return nil
			}
			res, err := p.syncer.SyncCurrentPeriod(ctx, acc)

			mu.Lock()
			defer mu.Unlock()
			stats.Writes += res.Writes()
			if err != nil {
				stats.Failed++
				errs = append(errs, fmt.Errorf("account %s: %w", acc.ID, err))
				return nil
			}
			stats.Synced++
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = time.Since(start)
	return stats, errors.Join(errs...)
}
