package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger/internal/period"
)

const (
	BucketCash       BucketKind = "cash"
	BucketCreditCard BucketKind = "credit_card"
)

const maxNameLength = 200

type (
	BucketKind string

	Date struct {
		time.Time
	}

	Account struct {
		ID             string
		Name           string
		PeriodStartDay int
		CreatedAt      time.Time
	}

	// BucketConfig is a named spending source. PaymentDay is 0 when unset and
	// only meaningful for credit card buckets.
	BucketConfig struct {
		ID         string
		AccountID  string
		Name       string
		Kind       BucketKind
		PaymentDay int
		Order      int
	}

	Category struct {
		ID        string
		AccountID string
		Name      string
		Color     string
		Order     int
	}

	Expense struct {
		ID         string
		AccountID  string
		Period     period.Period
		BucketID   string
		CategoryID string
		Amount     Money
		Name       string
		CreatedAt  time.Time
	}

	// FixedPayment is a recurring bill. Its paid status lives per period in
	// MonthData.PaidFixedPaymentIDs.
	FixedPayment struct {
		ID         string
		AccountID  string
		Name       string
		Amount     Money
		DueDay     int  // 0 when unset
		DueDate    Date // zero when unset
		CategoryID string
		CreatedAt  time.Time
	}

	// BucketPayment is the balance owed at the start of Period because it was
	// spent in the previous period from BucketID.
	BucketPayment struct {
		ID        string
		AccountID string
		Period    period.Period
		BucketID  string
		Amount    Money
		Paid      bool
		DueDate   Date // zero when unset
		CreatedAt time.Time
	}

	SavingsContribution struct {
		ID        string
		AccountID string
		GoalID    string
		Amount    Money
		Date      Date
		Period    period.Period
		Source    string
	}

	MonthData struct {
		AccountID           string
		Period              period.Period
		Salary              Money
		MonthlyLimit        Money
		PaidFixedPaymentIDs IDSet
	}

	// PeriodEntities is everything stored for one account and period.
	PeriodEntities struct {
		Expenses       []Expense
		FixedPayments  []FixedPayment
		BucketPayments []BucketPayment
		Savings        []SavingsContribution
		MonthData      MonthData
	}
)

var (
	ErrInvalidDay        = errors.New("invalid day")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptyName         = errors.New("empty name")
	ErrNameTooLong       = errors.New("name too long (max 200 characters)")
	ErrInvalidBucketKind = errors.New("invalid bucket kind")
	ErrMissingPeriod     = errors.New("missing period")
	ErrMissingAccount    = errors.New("missing account id")
	ErrMissingBucket     = errors.New("missing bucket id")

	ErrNotFound         = errors.New("not found")
	ErrAccountNotFound  = fmt.Errorf("account %w", ErrNotFound)
	ErrBucketNotFound   = fmt.Errorf("bucket %w", ErrNotFound)
	ErrCategoryNotFound = fmt.Errorf("category %w", ErrNotFound)
	ErrBucketInUse      = errors.New("bucket is referenced by expenses")
	ErrInvalidOrder     = errors.New("order must list every bucket exactly once")
	ErrConflict         = errors.New("conflicting concurrent write")
)

// IsValid reports whether k is a known bucket kind.
func (k BucketKind) IsValid() bool {
	return k == BucketCash || k == BucketCreditCard
}

func (k BucketKind) String() string {
	return string(k)
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf strips the clock from t, keeping its calendar date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD date. An empty string yields the zero Date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	t, err := time.Parse(period.Layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// String renders the date as YYYY-MM-DD, or "" when unset.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(period.Layout)
}

// Before compares calendar dates.
func (d Date) Before(o Date) bool {
	return d.Time.Before(o.Time)
}

// IsEmpty returns true if the date is zero (for optional dates)
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// MarshalJSON overrides the promoted time.Time encoding; unset dates are null.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*d = Date{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("parse date %s: expected a string", s)
	}
	return d.UnmarshalText([]byte(s[1 : len(s)-1]))
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if len(name) > maxNameLength {
		return ErrNameTooLong
	}
	return nil
}

func (a Account) Validate() error {
	if err := validateName(a.Name); err != nil {
		return err
	}
	return period.ValidateStartDay(a.PeriodStartDay)
}

func (b BucketConfig) Validate() error {
	if err := validateName(b.Name); err != nil {
		return err
	}
	if !b.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidBucketKind, b.Kind)
	}
	if b.PaymentDay < 0 || b.PaymentDay > 31 {
		return fmt.Errorf("%w: payment day %d", ErrInvalidDay, b.PaymentDay)
	}
	return nil
}

// HasPaymentDay reports whether the bucket is a credit card with a configured
// payment day.
func (b BucketConfig) HasPaymentDay() bool {
	return b.Kind == BucketCreditCard && b.PaymentDay >= 1 && b.PaymentDay <= 31
}

func (c Category) Validate() error {
	if c.AccountID == "" {
		return ErrMissingAccount
	}
	return validateName(c.Name)
}

func (e Expense) Validate() error {
	if e.AccountID == "" {
		return ErrMissingAccount
	}
	if err := e.Period.Validate(); err != nil {
		return err
	}
	if e.BucketID == "" {
		return ErrMissingBucket
	}
	if err := validateName(e.Name); err != nil {
		return err
	}
	return e.Amount.Validate()
}

func (f FixedPayment) Validate() error {
	if err := validateName(f.Name); err != nil {
		return err
	}
	if f.DueDay < 0 || f.DueDay > 31 {
		return fmt.Errorf("%w: due day %d", ErrInvalidDay, f.DueDay)
	}
	return f.Amount.Validate()
}

func (s SavingsContribution) Validate() error {
	if s.AccountID == "" {
		return ErrMissingAccount
	}
	if s.Period.IsZero() {
		return ErrMissingPeriod
	}
	return s.Amount.Validate()
}
