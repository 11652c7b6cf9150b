package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ledger/internal/amqp"
	"ledger/internal/carryover"
	"ledger/internal/core"
	"ledger/internal/period"
	"ledger/internal/services"
	"ledger/internal/sheets"
)

// Ledger is the part of services.LedgerService the worker drives.
type Ledger interface {
	Account(ctx context.Context, accountID string) (core.Account, error)
	SyncCarryover(ctx context.Context, accountID string, p period.Period) (carryover.Result, error)
	View(ctx context.Context, acc core.Account, p period.Period) (services.PeriodView, error)
}

// SyncWorker handles carry-over sync requests from AMQP and optionally
// exports the resulting period summary.
type SyncWorker struct {
	ledger     Ledger
	exporter   sheets.SummaryExporter
	now        func() time.Time
	maxRetries int
	retryDelay time.Duration
}

// NewSyncWorker creates a worker. exporter may be nil to skip exports.
func NewSyncWorker(ledger Ledger, exporter sheets.SummaryExporter) *SyncWorker {
	return &SyncWorker{
		ledger:   ledger,
		exporter: exporter,
		now:      time.Now,
	}
}

// WithRetries makes the worker retry a failed sync up to n more times,
// doubling delay between attempts.
func (w *SyncWorker) WithRetries(n int, delay time.Duration) *SyncWorker {
	w.maxRetries = n
	w.retryDelay = delay
	return w
}

func (w *SyncWorker) syncWithRetry(ctx context.Context, accountID string, p period.Period) (carryover.Result, error) {
	delay := w.retryDelay
	for attempt := 0; ; attempt++ {
		res, err := w.ledger.SyncCarryover(ctx, accountID, p)
		if err == nil || attempt >= w.maxRetries {
			return res, err
		}
		slog.WarnContext(ctx, "Carry-over sync failed, retrying",
			"account_id", accountID,
			"period", p.String(),
			"attempt", attempt+1,
			"error", err)
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// HandleSyncMessage processes a single carry-over sync message. Requests
// for unknown accounts or invalid periods are dropped, since retrying cannot
// fix them; sync and export failures are returned so the message is
// redelivered. A period that predates the account's current start day is
// synced by its own day.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.CarryoverSyncMessage) error {
	slog.InfoContext(ctx, "Processing carry-over sync message",
		"account_id", msg.AccountID,
		"period", msg.Period.String(),
		"reason", msg.Reason)

	acc, err := w.ledger.Account(ctx, msg.AccountID)
	if errors.Is(err, core.ErrNotFound) {
		slog.WarnContext(ctx, "Dropping sync message for unknown account", "account_id", msg.AccountID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	p := msg.Period
	if err := p.Validate(); err != nil {
		slog.WarnContext(ctx, "Dropping sync message for an invalid period",
			"account_id", acc.ID,
			"period", p.String(),
			"error", err)
		return nil
	}

	res, err := w.syncWithRetry(ctx, acc.ID, p)
	if err != nil {
		return fmt.Errorf("sync carry-over: %w", err)
	}

	slog.InfoContext(ctx, "Carry-over sync message processed",
		"account_id", acc.ID,
		"period", p.String(),
		"created", res.Created,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"skipped", res.Skipped)

	if err := w.ExportPeriod(ctx, acc, p); err != nil {
		return fmt.Errorf("export summary: %w", err)
	}
	return nil
}

// ExportPeriod writes the summary of p to the exporter, if one is configured.
func (w *SyncWorker) ExportPeriod(ctx context.Context, acc core.Account, p period.Period) error {
	if w.exporter == nil {
		return nil
	}

	view, err := w.ledger.View(ctx, acc, p)
	if err != nil {
		return fmt.Errorf("load period view: %w", err)
	}
	if view.CarryoverStale {
		return errors.New("carry-over is stale, not exporting")
	}

	row := sheets.NewSummaryRow(acc.ID, p, period.StepDay(p, acc.PeriodStartDay), view.Summary, w.now())
	ref, err := w.exporter.ExportSummary(ctx, row)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Exported period summary",
		"account_id", acc.ID,
		"period", p.String(),
		"row_ref", ref)
	return nil
}
