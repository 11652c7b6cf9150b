// Package carryover reconciles each bucket's spending from the previous period
// into a single bucket payment row in the current period.
package carryover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/period"
)

// Store is the storage collaborator the synchronizer reads and writes through.
//
// UpsertBucketPayment must be atomic on (account, period, bucket): when a row
// already exists it only replaces the amount and returns the stored row with
// inserted=false. Transient write conflicts are reported as core.ErrConflict.
type Store interface {
	GetBucketPayment(ctx context.Context, accountID string, p period.Period, bucketID string) (core.BucketPayment, bool, error)
	UpsertBucketPayment(ctx context.Context, bp core.BucketPayment) (saved core.BucketPayment, inserted bool, err error)
	UpdateBucketPaymentAmount(ctx context.Context, id string, amount core.Money) error
}

// Config controls conflict retries.
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultConfig returns the retry policy used by the binaries.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		RetryBackoff: 25 * time.Millisecond,
	}
}

// Outcome describes what Sync did for one bucket.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeEmpty     Outcome = "empty"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

type BucketResult struct {
	BucketID string             `json:"bucketId"`
	Outcome  Outcome            `json:"outcome"`
	Payment  core.BucketPayment `json:"-"`
	Reason   string             `json:"reason,omitempty"`
}

// Result summarizes one Sync call.
type Result struct {
	AccountID string         `json:"accountId"`
	Period    period.Period  `json:"period"`
	Created   int            `json:"created"`
	Updated   int            `json:"updated"`
	Unchanged int            `json:"unchanged"`
	Empty     int            `json:"empty"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Buckets   []BucketResult `json:"buckets"`
}

// Writes is the number of rows created or modified.
func (r Result) Writes() int {
	return r.Created + r.Updated
}

func (r *Result) record(br BucketResult) {
	switch br.Outcome {
	case OutcomeCreated:
		r.Created++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeUnchanged:
		r.Unchanged++
	case OutcomeEmpty:
		r.Empty++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	r.Buckets = append(r.Buckets, br)
}

// Synchronizer keeps one bucket payment per (account, period, bucket) in line
// with the previous period's bucket totals.
type Synchronizer struct {
	store  Store
	logger *log.Logger
	config Config
	newID  func() string
}

func New(store Store, logger *log.Logger, config Config) *Synchronizer {
	if logger == nil {
		logger = log.Nop()
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &Synchronizer{
		store:  store,
		logger: logger,
		config: config,
		newID:  uuid.NewString,
	}
}

// Sync reconciles previousTotals (bucket id to the sum of that bucket's
// expenses in the period before p) into bucket payments for p.
//
// Existing rows only ever get their amount changed, and only when it differs.
// Missing rows are created unpaid when the total is positive. Buckets without
// a usable configuration are skipped. Storage failures do not stop the other
// buckets; they are joined into the returned error and the call can be
// repeated safely.
func (s *Synchronizer) Sync(ctx context.Context, accountID string, p period.Period, buckets []core.BucketConfig, previousTotals map[string]core.Money) (Result, error) {
	res := Result{AccountID: accountID, Period: p}
	if accountID == "" {
		return res, core.ErrMissingAccount
	}
	if err := p.Validate(); err != nil {
		return res, err
	}

	start := time.Now()
	configured := make(map[string]struct{}, len(buckets))
	for _, b := range buckets {
		configured[b.ID] = struct{}{}
	}
	var errs []error

	for _, b := range buckets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := validBucket(b); err != nil {
			s.skip(ctx, &res, accountID, p, b.ID, err.Error())
			continue
		}

		br, err := s.syncBucket(ctx, accountID, p, b, previousTotals[b.ID])
		res.record(br)
		if err != nil {
			errs = append(errs, fmt.Errorf("sync bucket %s: %w", b.ID, err))
		}
	}

	for _, id := range orphanBuckets(previousTotals, configured) {
		s.skip(ctx, &res, accountID, p, id, "bucket configuration missing")
	}

	fields := log.NewFields().
		WithAccount(accountID).
		WithPeriod(p).
		WithOperation(log.OpSync).
		WithDuration(time.Since(start))
	fields["created"] = res.Created
	fields["updated"] = res.Updated
	fields["unchanged"] = res.Unchanged
	fields["skipped"] = res.Skipped
	fields["failed"] = res.Failed

	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.logger.Fields(ctx, slog.LevelError, "Carry-over sync finished with errors", fields.WithError(err))
		return res, err
	}
	level := slog.LevelDebug
	if res.Writes() > 0 {
		level = slog.LevelInfo
	}
	s.logger.Fields(ctx, level, "Carry-over sync completed", fields)
	return res, nil
}

func (s *Synchronizer) syncBucket(ctx context.Context, accountID string, p period.Period, b core.BucketConfig, total core.Money) (BucketResult, error) {
	br := BucketResult{BucketID: b.ID}

	existing, found, err := s.store.GetBucketPayment(ctx, accountID, p, b.ID)
	if err != nil {
		br.Outcome = OutcomeFailed
		return br, fmt.Errorf("get bucket payment: %w", err)
	}

	if found {
		if existing.Amount == total {
			br.Outcome = OutcomeUnchanged
			br.Payment = existing
			return br, nil
		}
		err := s.retry(ctx, func() error {
			return s.store.UpdateBucketPaymentAmount(ctx, existing.ID, total)
		})
		switch {
		case err == nil:
			s.logger.Fields(ctx, slog.LevelInfo, "Bucket payment amount updated",
				s.bucketFields(accountID, p, b, total, log.OpUpdate).
					With(log.FieldPaymentID, existing.ID).
					With(log.FieldPrevAmount, existing.Amount.Cents))
			existing.Amount = total
			br.Outcome = OutcomeUpdated
			br.Payment = existing
			return br, nil
		case errors.Is(err, core.ErrNotFound):
			// Deleted between read and write; treat as absent.
		default:
			br.Outcome = OutcomeFailed
			return br, fmt.Errorf("update bucket payment amount: %w", err)
		}
	}

	if !total.IsPositive() {
		br.Outcome = OutcomeEmpty
		return br, nil
	}

	candidate := core.BucketPayment{
		ID:        s.newID(),
		AccountID: accountID,
		Period:    p,
		BucketID:  b.ID,
		Amount:    total,
		Paid:      false,
		DueDate:   DueDate(p, b),
	}
	var (
		saved    core.BucketPayment
		inserted bool
	)
	err = s.retry(ctx, func() error {
		var upsertErr error
		saved, inserted, upsertErr = s.store.UpsertBucketPayment(ctx, candidate)
		return upsertErr
	})
	if err != nil {
		br.Outcome = OutcomeFailed
		return br, fmt.Errorf("upsert bucket payment: %w", err)
	}

	br.Payment = saved
	if inserted {
		br.Outcome = OutcomeCreated
		s.logger.Fields(ctx, slog.LevelInfo, "Bucket payment created",
			s.bucketFields(accountID, p, b, total, log.OpCreate).With(log.FieldPaymentID, saved.ID))
	} else {
		br.Outcome = OutcomeUpdated
		s.logger.Fields(ctx, slog.LevelInfo, "Bucket payment merged with concurrent writer",
			s.bucketFields(accountID, p, b, total, log.OpUpsert).With(log.FieldPaymentID, saved.ID))
	}
	return br, nil
}

func (s *Synchronizer) skip(ctx context.Context, res *Result, accountID string, p period.Period, bucketID, reason string) {
	res.record(BucketResult{BucketID: bucketID, Outcome: OutcomeSkipped, Reason: reason})
	fields := log.NewFields().
		WithAccount(accountID).
		WithPeriod(p).
		WithBucket(bucketID, "").
		WithOperation(log.OpSkip)
	fields["reason"] = reason
	s.logger.Fields(ctx, slog.LevelWarn, "Skipping bucket during carry-over sync", fields)
}

func (s *Synchronizer) bucketFields(accountID string, p period.Period, b core.BucketConfig, total core.Money, op string) log.LogFields {
	return log.NewFields().
		WithAccount(accountID).
		WithPeriod(p).
		WithBucket(b.ID, b.Kind.String()).
		WithAmount(total.Cents).
		WithOperation(op)
}

// retry runs op until it succeeds, fails with something other than
// core.ErrConflict, or the retry budget is spent.
func (s *Synchronizer) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := exponentialBackoff(attempt, s.config.RetryBackoff)
			s.logger.WarnContext(ctx, "Retrying bucket payment write after conflict",
				log.FieldAttempt, attempt,
				log.FieldError, err,
				"backoff", wait.String())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		err = op()
		if err == nil || !errors.Is(err, core.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", s.config.MaxRetries+1, err)
}

func exponentialBackoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}
	d := base << (attempt - 1)
	if limit := 2 * time.Second; d > limit || d <= 0 {
		return limit
	}
	return d
}

// DueDate returns when a carried-over balance is due: the bucket's payment day
// clamped into the month p starts in, for credit cards that have one.
func DueDate(p period.Period, b core.BucketConfig) core.Date {
	if !b.HasPaymentDay() {
		return core.Date{}
	}
	return core.NewDate(p.Year, int(p.Month), period.ClampDay(p.Year, p.Month, b.PaymentDay))
}

func validBucket(b core.BucketConfig) error {
	if b.ID == "" {
		return core.ErrMissingBucket
	}
	if !b.Kind.IsValid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidBucketKind, b.Kind)
	}
	return nil
}

func orphanBuckets(totals map[string]core.Money, configured map[string]struct{}) []string {
	var out []string
	for id, amount := range totals {
		if _, ok := configured[id]; ok || !amount.IsPositive() {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
