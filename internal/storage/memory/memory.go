// Package memory is an in-process storage collaborator with the same
// contract as the SQL repository. Data lives until the process exits.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"
	"ledger/internal/period"
)

type paymentKey struct {
	accountID string
	period    period.Period
	bucketID  string
}

type periodKey struct {
	accountID string
	period    period.Period
}

type Store struct {
	mu sync.Mutex

	accounts       map[string]core.Account
	buckets        map[string]core.BucketConfig
	categories     map[string]core.Category
	expenses       map[string]core.Expense
	fixedPayments  map[string]core.FixedPayment
	savings        map[string]core.SavingsContribution
	monthData      map[periodKey]core.MonthData
	bucketPayments map[string]core.BucketPayment
	paymentIndex   map[paymentKey]string

	now   func() time.Time
	newID func() string
}

func New() *Store {
	return &Store{
		accounts:       make(map[string]core.Account),
		buckets:        make(map[string]core.BucketConfig),
		categories:     make(map[string]core.Category),
		expenses:       make(map[string]core.Expense),
		fixedPayments:  make(map[string]core.FixedPayment),
		savings:        make(map[string]core.SavingsContribution),
		monthData:      make(map[periodKey]core.MonthData),
		bucketPayments: make(map[string]core.BucketPayment),
		paymentIndex:   make(map[paymentKey]string),
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping(context.Context) error { return nil }

// Accounts

func (s *Store) CreateAccount(_ context.Context, a core.Account) (core.Account, error) {
	if err := a.Validate(); err != nil {
		return core.Account{}, fmt.Errorf("validate account: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = s.newID()
	}
	if _, exists := s.accounts[a.ID]; exists {
		return core.Account{}, fmt.Errorf("create account: %w", core.ErrConflict)
	}
	a.CreatedAt = s.now()
	s.accounts[a.ID] = a
	return a, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return core.Account{}, core.ErrAccountNotFound
	}
	return a, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdatePeriodStartDay(_ context.Context, accountID string, day int) error {
	if err := period.ValidateStartDay(day); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return core.ErrAccountNotFound
	}
	a.PeriodStartDay = day
	s.accounts[accountID] = a
	return nil
}

func (s *Store) requireAccount(id string) error {
	if _, ok := s.accounts[id]; !ok {
		return core.ErrAccountNotFound
	}
	return nil
}

// Buckets and categories

func (s *Store) ListBucketConfigs(_ context.Context, accountID string) ([]core.BucketConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.BucketConfig
	for _, b := range s.buckets {
		if b.AccountID == accountID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) CreateBucketConfig(_ context.Context, b core.BucketConfig) (core.BucketConfig, error) {
	if err := b.Validate(); err != nil {
		return core.BucketConfig{}, fmt.Errorf("validate bucket: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAccount(b.AccountID); err != nil {
		return core.BucketConfig{}, err
	}
	if b.ID == "" {
		b.ID = s.newID()
	}
	s.buckets[b.ID] = b
	return b, nil
}

func (s *Store) DeleteBucketConfig(_ context.Context, accountID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[id]
	if !ok || b.AccountID != accountID {
		return core.ErrBucketNotFound
	}
	n := 0
	for _, e := range s.expenses {
		if e.AccountID == accountID && e.BucketID == id {
			n++
		}
	}
	if n > 0 {
		return fmt.Errorf("%w: %d expenses", core.ErrBucketInUse, n)
	}
	delete(s.buckets, id)
	return nil
}

func (s *Store) UpdateBucketConfig(_ context.Context, b core.BucketConfig) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("validate bucket: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.buckets[b.ID]; !ok || cur.AccountID != b.AccountID {
		return core.ErrBucketNotFound
	}
	s.buckets[b.ID] = b
	return nil
}

func (s *Store) ReorderBucketConfigs(_ context.Context, accountID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if b, ok := s.buckets[id]; !ok || b.AccountID != accountID {
			return core.ErrBucketNotFound
		}
	}
	for i, id := range ids {
		b := s.buckets[id]
		b.Order = i
		s.buckets[id] = b
	}
	return nil
}

func (s *Store) ListCategories(_ context.Context, accountID string) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Category
	for _, c := range s.categories {
		if c.AccountID == accountID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) CreateCategory(_ context.Context, c core.Category) (core.Category, error) {
	if err := c.Validate(); err != nil {
		return core.Category{}, fmt.Errorf("validate category: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAccount(c.AccountID); err != nil {
		return core.Category{}, err
	}
	if c.ID == "" {
		c.ID = s.newID()
	}
	s.categories[c.ID] = c
	return c, nil
}

func (s *Store) UpdateCategory(_ context.Context, c core.Category) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validate category: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.categories[c.ID]; !ok || cur.AccountID != c.AccountID {
		return core.ErrCategoryNotFound
	}
	s.categories[c.ID] = c
	return nil
}

func (s *Store) DeleteCategory(_ context.Context, accountID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.categories[id]; !ok || c.AccountID != accountID {
		return core.ErrCategoryNotFound
	}
	delete(s.categories, id)
	for eid, e := range s.expenses {
		if e.AccountID == accountID && e.CategoryID == id {
			e.CategoryID = ""
			s.expenses[eid] = e
		}
	}
	for fid, fp := range s.fixedPayments {
		if fp.AccountID == accountID && fp.CategoryID == id {
			fp.CategoryID = ""
			s.fixedPayments[fid] = fp
		}
	}
	return nil
}

// Expenses, bills and savings

func (s *Store) CreateExpense(_ context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("validate expense: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[e.BucketID]; !ok || b.AccountID != e.AccountID {
		return core.Expense{}, fmt.Errorf("create expense: %w", core.ErrBucketNotFound)
	}
	if e.ID == "" {
		e.ID = s.newID()
	}
	e.CreatedAt = s.now()
	s.expenses[e.ID] = e
	return e, nil
}

func (s *Store) DeleteExpense(_ context.Context, accountID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok || e.AccountID != accountID {
		return core.ErrNotFound
	}
	delete(s.expenses, id)
	return nil
}

func (s *Store) GetExpense(_ context.Context, accountID, id string) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok || e.AccountID != accountID {
		return core.Expense{}, core.ErrNotFound
	}
	return e, nil
}

func (s *Store) UpdateExpense(_ context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("validate expense: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.expenses[e.ID]
	if !ok || cur.AccountID != e.AccountID {
		return core.ErrNotFound
	}
	if b, ok := s.buckets[e.BucketID]; !ok || b.AccountID != e.AccountID {
		return fmt.Errorf("update expense: %w", core.ErrBucketNotFound)
	}
	e.CreatedAt = cur.CreatedAt
	s.expenses[e.ID] = e
	return nil
}

func (s *Store) SumExpensesByBucket(_ context.Context, accountID string, p period.Period) (map[string]core.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := make(map[string]core.Money)
	for _, e := range s.expenses {
		if e.AccountID == accountID && e.Period == p {
			totals[e.BucketID] = totals[e.BucketID].Add(e.Amount)
		}
	}
	return totals, nil
}

func (s *Store) CreateFixedPayment(_ context.Context, fp core.FixedPayment) (core.FixedPayment, error) {
	if err := fp.Validate(); err != nil {
		return core.FixedPayment{}, fmt.Errorf("validate fixed payment: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAccount(fp.AccountID); err != nil {
		return core.FixedPayment{}, err
	}
	if fp.ID == "" {
		fp.ID = s.newID()
	}
	fp.CreatedAt = s.now()
	s.fixedPayments[fp.ID] = fp
	return fp, nil
}

func (s *Store) DeleteFixedPayment(_ context.Context, accountID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.fixedPayments[id]
	if !ok || fp.AccountID != accountID {
		return core.ErrNotFound
	}
	delete(s.fixedPayments, id)
	for k, md := range s.monthData {
		if k.accountID == accountID {
			md.PaidFixedPaymentIDs.Remove(id)
		}
	}
	return nil
}

func (s *Store) GetFixedPayment(_ context.Context, accountID, id string) (core.FixedPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.fixedPayments[id]
	if !ok || fp.AccountID != accountID {
		return core.FixedPayment{}, core.ErrNotFound
	}
	return fp, nil
}

func (s *Store) UpdateFixedPayment(_ context.Context, fp core.FixedPayment) error {
	if err := fp.Validate(); err != nil {
		return fmt.Errorf("validate fixed payment: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.fixedPayments[fp.ID]
	if !ok || cur.AccountID != fp.AccountID {
		return core.ErrNotFound
	}
	fp.CreatedAt = cur.CreatedAt
	s.fixedPayments[fp.ID] = fp
	return nil
}

func (s *Store) AddSavingsContribution(_ context.Context, c core.SavingsContribution) (core.SavingsContribution, error) {
	if err := c.Validate(); err != nil {
		return core.SavingsContribution{}, fmt.Errorf("validate savings contribution: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = s.newID()
	}
	if c.Date.IsZero() {
		c.Date = core.DateOf(s.now())
	}
	s.savings[c.ID] = c
	return c, nil
}

// Month data

func (s *Store) UpsertMonthData(_ context.Context, accountID string, p period.Period, salary, monthlyLimit core.Money) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := salary.Validate(); err != nil {
		return fmt.Errorf("salary: %w", err)
	}
	if err := monthlyLimit.Validate(); err != nil {
		return fmt.Errorf("monthly limit: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	md := s.monthDataLocked(accountID, p)
	md.Salary = salary
	md.MonthlyLimit = monthlyLimit
	s.monthData[periodKey{accountID, p}] = md
	return nil
}

func (s *Store) GetMonthData(_ context.Context, accountID string, p period.Period) (core.MonthData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMonthData(s.monthDataLocked(accountID, p)), nil
}

func (s *Store) SetFixedPaymentPaid(_ context.Context, accountID string, p period.Period, fixedPaymentID string, paid bool) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fp, ok := s.fixedPayments[fixedPaymentID]; !ok || fp.AccountID != accountID {
		return fmt.Errorf("fixed payment %s: %w", fixedPaymentID, core.ErrNotFound)
	}
	md := s.monthDataLocked(accountID, p)
	if paid {
		md.PaidFixedPaymentIDs.Add(fixedPaymentID)
	} else {
		md.PaidFixedPaymentIDs.Remove(fixedPaymentID)
	}
	s.monthData[periodKey{accountID, p}] = md
	return nil
}

func (s *Store) monthDataLocked(accountID string, p period.Period) core.MonthData {
	md, ok := s.monthData[periodKey{accountID, p}]
	if !ok {
		md = core.MonthData{AccountID: accountID, Period: p, PaidFixedPaymentIDs: core.NewIDSet()}
	}
	return md
}

func copyMonthData(md core.MonthData) core.MonthData {
	md.PaidFixedPaymentIDs = core.NewIDSet(md.PaidFixedPaymentIDs.Sorted()...)
	return md
}

// Bucket payments

func (s *Store) GetBucketPayment(_ context.Context, accountID string, p period.Period, bucketID string) (core.BucketPayment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.paymentIndex[paymentKey{accountID, p, bucketID}]
	if !ok {
		return core.BucketPayment{}, false, nil
	}
	return s.bucketPayments[id], true, nil
}

func (s *Store) GetBucketPaymentByID(_ context.Context, id string) (core.BucketPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bp, ok := s.bucketPayments[id]
	if !ok {
		return core.BucketPayment{}, core.ErrNotFound
	}
	return bp, nil
}

func (s *Store) ListBucketPayments(_ context.Context, accountID string, p period.Period) ([]core.BucketPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bucketPaymentsLocked(accountID, p), nil
}

func (s *Store) bucketPaymentsLocked(accountID string, p period.Period) []core.BucketPayment {
	var out []core.BucketPayment
	for _, bp := range s.bucketPayments {
		if bp.AccountID == accountID && bp.Period == p {
			out = append(out, bp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UpsertBucketPayment inserts bp or, when the key is taken, replaces only the
// stored row's amount.
func (s *Store) UpsertBucketPayment(_ context.Context, bp core.BucketPayment) (core.BucketPayment, bool, error) {
	if bp.AccountID == "" {
		return core.BucketPayment{}, false, core.ErrMissingAccount
	}
	if bp.BucketID == "" {
		return core.BucketPayment{}, false, core.ErrMissingBucket
	}
	if err := bp.Period.Validate(); err != nil {
		return core.BucketPayment{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := paymentKey{bp.AccountID, bp.Period, bp.BucketID}
	if id, ok := s.paymentIndex[key]; ok {
		existing := s.bucketPayments[id]
		existing.Amount = bp.Amount
		s.bucketPayments[id] = existing
		return existing, false, nil
	}

	if bp.ID == "" {
		bp.ID = s.newID()
	}
	if bp.CreatedAt.IsZero() {
		bp.CreatedAt = s.now()
	}
	s.bucketPayments[bp.ID] = bp
	s.paymentIndex[key] = bp.ID
	return bp, true, nil
}

func (s *Store) updateBucketPayment(id string, fn func(*core.BucketPayment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bp, ok := s.bucketPayments[id]
	if !ok {
		return core.ErrNotFound
	}
	fn(&bp)
	s.bucketPayments[id] = bp
	return nil
}

func (s *Store) UpdateBucketPaymentAmount(_ context.Context, id string, amount core.Money) error {
	return s.updateBucketPayment(id, func(bp *core.BucketPayment) { bp.Amount = amount })
}

func (s *Store) SetBucketPaymentPaid(_ context.Context, id string, paid bool) error {
	return s.updateBucketPayment(id, func(bp *core.BucketPayment) { bp.Paid = paid })
}

func (s *Store) UpdateBucketPaymentDueDate(_ context.Context, id string, due core.Date) error {
	return s.updateBucketPayment(id, func(bp *core.BucketPayment) { bp.DueDate = due })
}

func (s *Store) DeleteBucketPayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bp, ok := s.bucketPayments[id]
	if !ok {
		return core.ErrNotFound
	}
	delete(s.bucketPayments, id)
	delete(s.paymentIndex, paymentKey{bp.AccountID, bp.Period, bp.BucketID})
	return nil
}

// ListEntitiesForPeriod returns copies; callers may modify them freely.
func (s *Store) ListEntitiesForPeriod(_ context.Context, accountID string, p period.Period) (core.PeriodEntities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out core.PeriodEntities
	for _, e := range s.expenses {
		if e.AccountID == accountID && e.Period == p {
			out.Expenses = append(out.Expenses, e)
		}
	}
	sort.Slice(out.Expenses, func(i, j int) bool {
		if !out.Expenses[i].CreatedAt.Equal(out.Expenses[j].CreatedAt) {
			return out.Expenses[i].CreatedAt.Before(out.Expenses[j].CreatedAt)
		}
		return out.Expenses[i].ID < out.Expenses[j].ID
	})

	for _, fp := range s.fixedPayments {
		if fp.AccountID == accountID {
			out.FixedPayments = append(out.FixedPayments, fp)
		}
	}
	sort.Slice(out.FixedPayments, func(i, j int) bool {
		if !out.FixedPayments[i].CreatedAt.Equal(out.FixedPayments[j].CreatedAt) {
			return out.FixedPayments[i].CreatedAt.Before(out.FixedPayments[j].CreatedAt)
		}
		return out.FixedPayments[i].ID < out.FixedPayments[j].ID
	})

	out.BucketPayments = s.bucketPaymentsLocked(accountID, p)

	for _, c := range s.savings {
		if c.AccountID == accountID && c.Period == p {
			out.Savings = append(out.Savings, c)
		}
	}
	sort.Slice(out.Savings, func(i, j int) bool { return out.Savings[i].ID < out.Savings[j].ID })

	out.MonthData = copyMonthData(s.monthDataLocked(accountID, p))
	return out, nil
}

// DedupBucketPayments always finds nothing: the index admits one row per key.
func (s *Store) DedupBucketPayments(_ context.Context, accountID string) (int, error) {
	return 0, nil
}

// MigrateLegacyPeriods has nothing to rewrite: periods are typed in memory.
func (s *Store) MigrateLegacyPeriods(_ context.Context, _ string, startDay int) (int, error) {
	return 0, period.ValidateStartDay(startDay)
}
