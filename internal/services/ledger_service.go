package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"ledger/internal/amqp"
	"ledger/internal/cache"
	"ledger/internal/carryover"
	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/period"
	"ledger/internal/summary"
)

const (
	ReasonViewLoad  = "view_load"
	ReasonManual    = "manual"
	ReasonScheduled = "scheduled"
	ReasonExpense   = "expense_changed"
)

// LedgerConfig configures a LedgerService. Zero values fall back to
// defaults.
type LedgerConfig struct {
	DefaultStartDay int
	Location        *time.Location
	CacheSize       int
	CacheTTL        time.Duration
	Sync            carryover.Config
}

// PeriodInfo describes one period of an account.
type PeriodInfo struct {
	Period   period.Period `json:"period"`
	Start    core.Date     `json:"start"`
	End      core.Date     `json:"end"`
	Display  string        `json:"display"`
	Key      string        `json:"key"`
	StartDay int           `json:"startDay"`
}

// PeriodView is everything shown for one account and period.
type PeriodView struct {
	AccountID             string
	Info                  PeriodInfo
	Summary               summary.MonthSummary
	Spending              []summary.CategorySpending
	OverdueFixedPayments  []core.FixedPayment
	OverdueBucketPayments []core.BucketPayment
	Entities              core.PeriodEntities
	Categories            []core.Category
	// CarryoverStale is set when the carry-over sync before the view failed.
	// The figures are still served but may miss last period's balances.
	CarryoverStale bool
	ComputedAt     time.Time
}

// ExpensePatch holds the editable fields of an expense. Nil fields are left
// alone.
type ExpensePatch struct {
	Name       *string
	Amount     *core.Money
	BucketID   *string
	CategoryID *string
	Period     *period.Period
}

// FixedPaymentPatch holds the editable fields of a recurring bill. A zero
// DueDay or DueDate clears it.
type FixedPaymentPatch struct {
	Name       *string
	Amount     *core.Money
	DueDay     *int
	DueDate    *core.Date
	CategoryID *string
}

// BucketPaymentPatch holds the user-editable fields of a bucket payment.
// Nil fields are left alone; a zero DueDate clears the due date.
type BucketPaymentPatch struct {
	Paid    *bool
	DueDate *core.Date
}

// LedgerService orchestrates period views: resolve the period, reconcile
// carry-over, list the period's entities and summarize them. Views are
// cached until something in the period changes.
type LedgerService struct {
	store        Store
	publisher    Publisher
	synchronizer *carryover.Synchronizer
	views        *cache.LRUCache[PeriodView]
	group        singleflight.Group
	logger       *log.Logger

	loc             *time.Location
	defaultStartDay int
	now             func() time.Time
}

func NewLedgerService(store Store, publisher Publisher, logger *log.Logger, cfg LedgerConfig) *LedgerService {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if period.ValidateStartDay(cfg.DefaultStartDay) != nil {
		cfg.DefaultStartDay = DefaultPeriodStartDay
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Sync == (carryover.Config{}) {
		cfg.Sync = carryover.DefaultConfig()
	}

	return &LedgerService{
		store:           store,
		publisher:       publisher,
		synchronizer:    carryover.New(store, logger.WithComponent(log.ComponentCarryover), cfg.Sync),
		views:           cache.NewLRUCache[PeriodView](cfg.CacheSize, cfg.CacheTTL),
		logger:          logger.WithComponent(log.ComponentLedger),
		loc:             cfg.Location,
		defaultStartDay: cfg.DefaultStartDay,
		now:             time.Now,
	}
}

// Views exposes the view cache so it can be registered with a cache.Manager.
func (s *LedgerService) Views() *cache.LRUCache[PeriodView] {
	return s.views
}

// Store returns the underlying store.
func (s *LedgerService) Store() Store {
	return s.store
}

// Ping checks the store.
func (s *LedgerService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Today is the current calendar date in the configured location.
func (s *LedgerService) Today() core.Date {
	return core.DateOf(s.now().In(s.loc))
}

// Account loads an account. A missing start day falls back to the default.
func (s *LedgerService) Account(ctx context.Context, accountID string) (core.Account, error) {
	if accountID == "" {
		return core.Account{}, core.ErrMissingAccount
	}
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	if period.ValidateStartDay(acc.PeriodStartDay) != nil {
		acc.PeriodStartDay = s.defaultStartDay
	}
	return acc, nil
}

// CreateAccount stores a new account and seeds its default buckets and
// categories. A zero start day uses the configured default.
func (s *LedgerService) CreateAccount(ctx context.Context, name string, startDay int) (core.Account, error) {
	if startDay == 0 {
		startDay = s.defaultStartDay
	}
	acc, err := s.store.CreateAccount(ctx, core.Account{Name: name, PeriodStartDay: startDay})
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	seeded, err := SeedDefaults(ctx, s.store, acc.ID)
	if err != nil {
		return acc, fmt.Errorf("seed defaults: %w", err)
	}
	s.logger.InfoContext(ctx, "Account created",
		log.FieldAccountID, acc.ID,
		"period_start_day", acc.PeriodStartDay,
		"seeded_categories", seeded.Categories,
		"seeded_buckets", seeded.Buckets)
	return acc, nil
}

// UpdatePeriodStartDay changes where an account's periods begin. Existing
// rows keep their stored periods and those periods stay reachable through
// ResolvePeriod; they step by their own day from then on.
func (s *LedgerService) UpdatePeriodStartDay(ctx context.Context, accountID string, day int) error {
	if err := s.store.UpdatePeriodStartDay(ctx, accountID, day); err != nil {
		return fmt.Errorf("update period start day: %w", err)
	}
	s.invalidateAccount(accountID)
	return nil
}

// Info describes p for an account starting its periods on startDay. A p
// that does not start on startDay is described by its own day.
func Info(p period.Period, startDay int) PeriodInfo {
	startDay = period.StepDay(p, startDay)
	start, end := p.DatesFor(startDay)
	if startDay == 0 {
		startDay = p.Day
	}
	return PeriodInfo{
		Period:   p,
		Start:    core.DateOf(start),
		End:      core.DateOf(end),
		Display:  p.DisplayFor(startDay),
		Key:      p.Key(startDay),
		StartDay: startDay,
	}
}

// CurrentPeriod returns the period containing today for the account.
func (s *LedgerService) CurrentPeriod(ctx context.Context, accountID string) (PeriodInfo, error) {
	acc, err := s.Account(ctx, accountID)
	if err != nil {
		return PeriodInfo{}, err
	}
	p, err := s.currentPeriod(acc)
	if err != nil {
		return PeriodInfo{}, err
	}
	return Info(p, acc.PeriodStartDay), nil
}

func (s *LedgerService) currentPeriod(acc core.Account) (period.Period, error) {
	return period.Current(acc.PeriodStartDay, s.now().In(s.loc))
}

// ResolvePeriod parses raw strictly and loads the account. Malformed values
// are never clamped; they fail with period.ErrInvalidPeriod. Any valid date
// is accepted so periods stored under an earlier start day stay reachable.
func (s *LedgerService) ResolvePeriod(ctx context.Context, accountID, raw string) (core.Account, period.Period, error) {
	p, err := period.Parse(raw)
	if err != nil {
		return core.Account{}, period.Period{}, err
	}
	acc, err := s.Account(ctx, accountID)
	if err != nil {
		return core.Account{}, period.Period{}, err
	}
	return acc, p, nil
}

// SyncCarryover reconciles the previous period's bucket spending into p's
// bucket payments.
func (s *LedgerService) SyncCarryover(ctx context.Context, accountID string, p period.Period) (carryover.Result, error) {
	acc, err := s.Account(ctx, accountID)
	if err != nil {
		return carryover.Result{AccountID: accountID, Period: p}, err
	}
	return s.syncAccount(ctx, acc, p)
}

// SyncCurrentPeriod syncs the period containing today for acc.
func (s *LedgerService) SyncCurrentPeriod(ctx context.Context, acc core.Account) (carryover.Result, error) {
	if period.ValidateStartDay(acc.PeriodStartDay) != nil {
		acc.PeriodStartDay = s.defaultStartDay
	}
	p, err := s.currentPeriod(acc)
	if err != nil {
		return carryover.Result{AccountID: acc.ID}, err
	}
	return s.syncAccount(ctx, acc, p)
}

// ListAccounts lists every account.
func (s *LedgerService) ListAccounts(ctx context.Context) ([]core.Account, error) {
	return s.store.ListAccounts(ctx)
}

func (s *LedgerService) syncAccount(ctx context.Context, acc core.Account, p period.Period) (carryover.Result, error) {
	res := carryover.Result{AccountID: acc.ID, Period: p}
	if err := p.Validate(); err != nil {
		return res, err
	}

	prev, err := period.Previous(p, period.StepDay(p, acc.PeriodStartDay))
	if err != nil {
		// p is the first representable period; nothing carries into it.
		if errors.Is(err, period.ErrInvalidPeriod) {
			return res, nil
		}
		return res, err
	}

	totals, err := s.store.SumExpensesByBucket(ctx, acc.ID, prev)
	if err != nil {
		return res, fmt.Errorf("sum previous period expenses: %w", err)
	}
	buckets, err := s.store.ListBucketConfigs(ctx, acc.ID)
	if err != nil {
		return res, fmt.Errorf("list buckets: %w", err)
	}

	res, err = s.synchronizer.Sync(ctx, acc.ID, p, buckets, totals)
	if res.Writes() > 0 {
		s.views.Delete(viewKey(acc.ID, p))
		s.publishSynced(ctx, res)
	}
	return res, err
}

func (s *LedgerService) publishSynced(ctx context.Context, res carryover.Result) {
	if s.publisher == nil {
		return
	}
	msg := amqp.PeriodSyncedMessage{
		AccountID: res.AccountID,
		Period:    res.Period,
		Created:   res.Created,
		Updated:   res.Updated,
		Unchanged: res.Unchanged,
		Skipped:   res.Skipped,
		Failed:    res.Failed,
		SyncedAt:  s.now(),
	}
	if err := s.publisher.PublishPeriodSynced(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish period synced event",
			log.FieldAccountID, res.AccountID,
			log.FieldPeriod, res.Period.String(),
			log.FieldError, err)
	}
}

// RequestSync queues a sync when a publisher is configured and otherwise
// runs it inline. queued reports which happened; res is only filled for
// inline runs.
func (s *LedgerService) RequestSync(ctx context.Context, accountID string, p period.Period, reason string) (queued bool, res carryover.Result, err error) {
	if s.publisher != nil {
		err := s.publisher.PublishCarryoverSync(ctx, accountID, p, reason)
		if err == nil {
			return true, carryover.Result{AccountID: accountID, Period: p}, nil
		}
		s.logger.WarnContext(ctx, "Queueing carry-over sync failed, syncing inline",
			log.FieldAccountID, accountID,
			log.FieldPeriod, p.String(),
			log.FieldError, err)
	}
	res, err = s.SyncCarryover(ctx, accountID, p)
	return false, res, err
}

// View syncs carry-over into p and returns its summary. Concurrent loads of
// the same view share one computation. A failed sync does not fail the view;
// it is served with CarryoverStale set and is not cached.
//
// The shared computation is detached from the caller that started it, so a
// cancelled request only abandons its own wait.
func (s *LedgerService) View(ctx context.Context, acc core.Account, p period.Period) (PeriodView, error) {
	key := viewKey(acc.ID, p)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.loadView(context.WithoutCancel(ctx), acc, p)
	})

	select {
	case <-ctx.Done():
		return PeriodView{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return PeriodView{}, res.Err
		}
		if res.Shared {
			slog.DebugContext(ctx, "Shared period view computation", log.FieldAccountID, acc.ID, log.FieldPeriod, p.String())
		}
		return res.Val.(PeriodView), nil
	}
}

func (s *LedgerService) loadView(ctx context.Context, acc core.Account, p period.Period) (PeriodView, error) {
	key := viewKey(acc.ID, p)

	stale := false
	if _, err := s.syncAccount(ctx, acc, p); err != nil {
		stale = true
		s.logger.ErrorContext(ctx, "Carry-over sync failed, serving stale view",
			log.FieldAccountID, acc.ID,
			log.FieldPeriod, p.String(),
			log.FieldError, err)
		s.queueRetry(ctx, acc.ID, p)
	}

	if !stale {
		if cached, ok := s.views.Get(key); ok {
			return cached, nil
		}
	}

	view, err := s.computeView(ctx, acc, p)
	if err != nil {
		return PeriodView{}, err
	}
	view.CarryoverStale = stale
	if !stale {
		s.views.Set(key, view)
	}
	return view, nil
}

// queueRetry hands a failed view-load sync to the worker, if there is one.
func (s *LedgerService) queueRetry(ctx context.Context, accountID string, p period.Period) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishCarryoverSync(ctx, accountID, p, ReasonViewLoad); err != nil {
		s.logger.WarnContext(ctx, "Queueing carry-over retry failed",
			log.FieldAccountID, accountID,
			log.FieldPeriod, p.String(),
			log.FieldError, err)
	}
}

func (s *LedgerService) computeView(ctx context.Context, acc core.Account, p period.Period) (PeriodView, error) {
	start := time.Now()

	entities, err := s.store.ListEntitiesForPeriod(ctx, acc.ID, p)
	if err != nil {
		return PeriodView{}, fmt.Errorf("list period entities: %w", err)
	}
	categories, err := s.store.ListCategories(ctx, acc.ID)
	if err != nil {
		return PeriodView{}, fmt.Errorf("list categories: %w", err)
	}

	today := s.Today()
	view := PeriodView{
		AccountID:             acc.ID,
		Info:                  Info(p, acc.PeriodStartDay),
		Summary:               summary.Compute(summary.FromEntities(p, entities)),
		Spending:              summary.SpendingByCategory(entities.Expenses, categories),
		OverdueFixedPayments:  summary.OverdueFixedPayments(p, entities.FixedPayments, entities.MonthData.PaidFixedPaymentIDs, today),
		OverdueBucketPayments: summary.OverdueBucketPayments(entities.BucketPayments, today),
		Entities:              entities,
		Categories:            categories,
		ComputedAt:            s.now(),
	}

	s.logger.Fields(ctx, slog.LevelDebug, "Period view computed",
		log.NewFields().
			WithAccount(acc.ID).
			WithPeriod(p).
			WithOperation(log.OpRead).
			WithDuration(time.Since(start)).
			WithAmount(view.Summary.GrandTotal.Cents))
	return view, nil
}

// UpdateMonthData sets salary and monthly limit for a period.
func (s *LedgerService) UpdateMonthData(ctx context.Context, accountID string, p period.Period, salary, monthlyLimit core.Money) error {
	if err := errors.Join(salary.Validate(), monthlyLimit.Validate()); err != nil {
		return err
	}
	if err := s.store.UpsertMonthData(ctx, accountID, p, salary, monthlyLimit); err != nil {
		return fmt.Errorf("update month data: %w", err)
	}
	s.views.Delete(viewKey(accountID, p))
	return nil
}

// SetFixedPaymentPaid marks a recurring bill paid or unpaid for a period.
func (s *LedgerService) SetFixedPaymentPaid(ctx context.Context, accountID string, p period.Period, fixedPaymentID string, paid bool) error {
	if err := s.store.SetFixedPaymentPaid(ctx, accountID, p, fixedPaymentID, paid); err != nil {
		return fmt.Errorf("set fixed payment paid: %w", err)
	}
	s.views.Delete(viewKey(accountID, p))
	return nil
}

// UpdateBucketPayment applies user edits to a bucket payment. Sync never
// touches these fields again.
func (s *LedgerService) UpdateBucketPayment(ctx context.Context, id string, patch BucketPaymentPatch) (core.BucketPayment, error) {
	bp, err := s.store.GetBucketPaymentByID(ctx, id)
	if err != nil {
		return core.BucketPayment{}, fmt.Errorf("get bucket payment: %w", err)
	}
	if patch.Paid != nil {
		if err := s.store.SetBucketPaymentPaid(ctx, id, *patch.Paid); err != nil {
			return core.BucketPayment{}, fmt.Errorf("set bucket payment paid: %w", err)
		}
	}
	if patch.DueDate != nil {
		if err := s.store.UpdateBucketPaymentDueDate(ctx, id, *patch.DueDate); err != nil {
			return core.BucketPayment{}, fmt.Errorf("set bucket payment due date: %w", err)
		}
	}
	s.views.Delete(viewKey(bp.AccountID, bp.Period))

	return s.store.GetBucketPaymentByID(ctx, id)
}

// DeleteBucketPayment removes a bucket payment. The next sync recreates it
// while the previous period still has spending in that bucket.
func (s *LedgerService) DeleteBucketPayment(ctx context.Context, id string) error {
	bp, err := s.store.GetBucketPaymentByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get bucket payment: %w", err)
	}
	if err := s.store.DeleteBucketPayment(ctx, id); err != nil {
		return fmt.Errorf("delete bucket payment: %w", err)
	}
	s.views.Delete(viewKey(bp.AccountID, bp.Period))
	return nil
}

// CreateExpense records an expense. Expenses feed the next period's
// carry-over, so every cached view of the account is dropped.
func (s *LedgerService) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	saved, err := s.store.CreateExpense(ctx, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	s.invalidateAccount(e.AccountID)
	return saved, nil
}

func (s *LedgerService) DeleteExpense(ctx context.Context, accountID, id string) error {
	if err := s.store.DeleteExpense(ctx, accountID, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	s.invalidateAccount(accountID)
	return nil
}

// UpdateExpense edits an expense. Moving it to another period or bucket
// changes carry-over, so the account's cached views are dropped.
func (s *LedgerService) UpdateExpense(ctx context.Context, accountID, id string, patch ExpensePatch) (core.Expense, error) {
	e, err := s.store.GetExpense(ctx, accountID, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	if patch.Name != nil {
		e.Name = *patch.Name
	}
	if patch.Amount != nil {
		e.Amount = *patch.Amount
	}
	if patch.BucketID != nil {
		e.BucketID = *patch.BucketID
	}
	if patch.CategoryID != nil {
		e.CategoryID = *patch.CategoryID
	}
	if patch.Period != nil {
		e.Period = *patch.Period
	}
	if err := s.store.UpdateExpense(ctx, e); err != nil {
		return core.Expense{}, fmt.Errorf("update expense: %w", err)
	}
	s.invalidateAccount(accountID)
	return e, nil
}

func (s *LedgerService) CreateFixedPayment(ctx context.Context, fp core.FixedPayment) (core.FixedPayment, error) {
	saved, err := s.store.CreateFixedPayment(ctx, fp)
	if err != nil {
		return core.FixedPayment{}, fmt.Errorf("create fixed payment: %w", err)
	}
	s.invalidateAccount(fp.AccountID)
	return saved, nil
}

func (s *LedgerService) UpdateFixedPayment(ctx context.Context, accountID, id string, patch FixedPaymentPatch) (core.FixedPayment, error) {
	fp, err := s.store.GetFixedPayment(ctx, accountID, id)
	if err != nil {
		return core.FixedPayment{}, fmt.Errorf("get fixed payment: %w", err)
	}
	if patch.Name != nil {
		fp.Name = *patch.Name
	}
	if patch.Amount != nil {
		fp.Amount = *patch.Amount
	}
	if patch.DueDay != nil {
		fp.DueDay = *patch.DueDay
	}
	if patch.DueDate != nil {
		fp.DueDate = *patch.DueDate
	}
	if patch.CategoryID != nil {
		fp.CategoryID = *patch.CategoryID
	}
	if err := s.store.UpdateFixedPayment(ctx, fp); err != nil {
		return core.FixedPayment{}, fmt.Errorf("update fixed payment: %w", err)
	}
	s.invalidateAccount(accountID)
	return fp, nil
}

func (s *LedgerService) DeleteFixedPayment(ctx context.Context, accountID, id string) error {
	if err := s.store.DeleteFixedPayment(ctx, accountID, id); err != nil {
		return fmt.Errorf("delete fixed payment: %w", err)
	}
	s.invalidateAccount(accountID)
	return nil
}

func (s *LedgerService) AddSavings(ctx context.Context, c core.SavingsContribution) (core.SavingsContribution, error) {
	saved, err := s.store.AddSavingsContribution(ctx, c)
	if err != nil {
		return core.SavingsContribution{}, fmt.Errorf("add savings contribution: %w", err)
	}
	s.views.Delete(viewKey(c.AccountID, c.Period))
	return saved, nil
}

// Dedup removes duplicate bucket payments left by older versions.
func (s *LedgerService) Dedup(ctx context.Context, accountID string) (int, error) {
	if _, err := s.Account(ctx, accountID); err != nil {
		return 0, err
	}
	n, err := s.store.DedupBucketPayments(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidateAccount(accountID)
	}
	return n, nil
}

// MigrateLegacyPeriods rewrites YYYY-MM periods of an account using its
// start day.
func (s *LedgerService) MigrateLegacyPeriods(ctx context.Context, accountID string) (int, error) {
	acc, err := s.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	n, err := s.store.MigrateLegacyPeriods(ctx, acc.ID, acc.PeriodStartDay)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidateAccount(accountID)
	}
	return n, nil
}

// ListBuckets returns the bucket configs of an account.
func (s *LedgerService) ListBuckets(ctx context.Context, accountID string) ([]core.BucketConfig, error) {
	if _, err := s.Account(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListBucketConfigs(ctx, accountID)
}

func (s *LedgerService) invalidateAccount(accountID string) {
	if n := s.views.DeletePrefix(accountID + "|"); n > 0 {
		slog.Debug("Invalidated cached period views", log.FieldAccountID, accountID, log.FieldCount, n)
	}
}

func viewKey(accountID string, p period.Period) string {
	return accountID + "|" + p.String()
}
