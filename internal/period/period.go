// Package period implements billing period arithmetic.
//
// A period is a one-month span that starts on a configurable day of the month
// (for example the 15th) and ends the day before the next period starts. It is
// identified by the calendar date of its first day, serialized as YYYY-MM-DD.
// Start days that do not exist in a month are clamped to the month's last day,
// never rolled over into the following month.
package period

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	// Layout is the only persisted and transmitted representation of a Period.
	Layout = "2006-01-02"

	MinYear = 2000
	MaxYear = 2100

	MinStartDay = 1
	MaxStartDay = 31
)

var (
	ErrInvalidPeriod   = errors.New("invalid period")
	ErrInvalidStartDay = errors.New("invalid period start day")
)

// Period is the first calendar day of a billing period.
// The zero value is not a valid period.
type Period struct {
	Year  int
	Month time.Month
	Day   int
}

// New returns the period that starts in the given month for startDay,
// clamping the day to the month's length.
func New(year int, month time.Month, startDay int) (Period, error) {
	if err := ValidateStartDay(startDay); err != nil {
		return Period{}, err
	}
	if month < time.January || month > time.December {
		return Period{}, fmt.Errorf("%w: month %d", ErrInvalidPeriod, month)
	}
	if year < MinYear || year > MaxYear {
		return Period{}, fmt.Errorf("%w: year %d", ErrInvalidPeriod, year)
	}
	return Period{Year: year, Month: month, Day: ClampDay(year, month, startDay)}, nil
}

// ValidateStartDay reports whether startDay can anchor a period.
func ValidateStartDay(startDay int) error {
	if startDay < MinStartDay || startDay > MaxStartDay {
		return fmt.Errorf("%w: %d", ErrInvalidStartDay, startDay)
	}
	return nil
}

// DaysInMonth returns the number of days of month in year.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDay limits day to the last valid day of the month.
func ClampDay(year int, month time.Month, day int) int {
	if last := DaysInMonth(year, month); day > last {
		return last
	}
	if day < 1 {
		return 1
	}
	return day
}

// Current returns the period containing the calendar date of now.
//
// Only the year, month and day of now (in its own location) are used; callers
// choose the location. When now's day is before startDay the period began in
// the previous calendar month.
func Current(startDay int, now time.Time) (Period, error) {
	if err := ValidateStartDay(startDay); err != nil {
		return Period{}, err
	}
	year, month, day := now.Date()
	if day < ClampDay(year, month, startDay) {
		year, month = addMonths(year, month, -1)
	}
	return New(year, month, startDay)
}

// Next returns the period after p. A startDay of 0 steps by p's own day.
func Next(p Period, startDay int) (Period, error) {
	return Shift(p, 1, startDay)
}

// Previous returns the period before p. A startDay of 0 steps by p's own day.
func Previous(p Period, startDay int) (Period, error) {
	return Shift(p, -1, startDay)
}

// Shift moves p's anchor month by months and re-clamps the day.
//
// When startDay is 0 the day embedded in p is used, so a period created with
// day 15 keeps stepping by 15 regardless of later settings changes. Note that
// a period clamped to the 28th keeps stepping by 28 in that mode.
func Shift(p Period, months int, startDay int) (Period, error) {
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	if startDay == 0 {
		startDay = p.Day
	}
	if err := ValidateStartDay(startDay); err != nil {
		return Period{}, err
	}
	year, month := addMonths(p.Year, p.Month, months)
	return New(year, month, startDay)
}

// StepDay returns the start day to step p by. Periods anchored on startDay
// step by startDay; any other valid period, such as one stored before the
// start day changed, returns 0 and so steps by its own day.
func StepDay(p Period, startDay int) int {
	if ValidateStartDay(startDay) == nil && p.Day == ClampDay(p.Year, p.Month, startDay) {
		return startDay
	}
	return 0
}

func addMonths(year int, month time.Month, n int) (int, time.Month) {
	idx := year*12 + int(month-1) + n
	y := idx / 12
	m := idx % 12
	if m < 0 {
		m += 12
		y--
	}
	return y, time.Month(m + 1)
}

// Next steps forward using the day embedded in p.
func (p Period) Next() Period {
	n, err := Shift(p, 1, 0)
	if err != nil {
		return Period{}
	}
	return n
}

// Previous steps backward using the day embedded in p.
func (p Period) Previous() Period {
	n, err := Shift(p, -1, 0)
	if err != nil {
		return Period{}
	}
	return n
}

// Start returns the first day of the period at midnight UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, p.Day, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the period at midnight UTC, one day before the
// next period's start, stepping by p's own day.
func (p Period) End() time.Time {
	return p.EndFor(0)
}

// EndFor is End with an explicit start day. A clamped period such as
// 2024-02-29 for start day 31 ends on 2024-03-30, not 2024-03-28.
func (p Period) EndFor(startDay int) time.Time {
	next, err := Shift(p, 1, startDay)
	if err != nil {
		return time.Time{}
	}
	return next.Start().AddDate(0, 0, -1)
}

// Dates returns the first and last calendar day of the period.
func (p Period) Dates() (start, end time.Time) {
	return p.Start(), p.End()
}

// DatesFor is Dates with an explicit start day.
func (p Period) DatesFor(startDay int) (start, end time.Time) {
	return p.Start(), p.EndFor(startDay)
}

// Contains reports whether the calendar date of t falls inside the period
// for startDay (0 uses p's own day).
func (p Period) Contains(t time.Time, startDay int) bool {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	start, end := p.DatesFor(startDay)
	return !day.Before(start) && !day.After(end)
}

// IsZero reports whether p is the zero Period.
func (p Period) IsZero() bool {
	return p == Period{}
}

// Before reports whether p starts before o.
func (p Period) Before(o Period) bool {
	return p.Start().Before(o.Start())
}

// Validate checks ranges: year within [MinYear, MaxYear], a real month and a
// day that exists in that month.
func (p Period) Validate() error {
	if p.Year < MinYear || p.Year > MaxYear {
		return fmt.Errorf("%w: year %d out of range", ErrInvalidPeriod, p.Year)
	}
	if p.Month < time.January || p.Month > time.December {
		return fmt.Errorf("%w: month %d out of range", ErrInvalidPeriod, p.Month)
	}
	if p.Day < 1 || p.Day > DaysInMonth(p.Year, p.Month) {
		return fmt.Errorf("%w: day %d not valid for %04d-%02d", ErrInvalidPeriod, p.Day, p.Year, p.Month)
	}
	return nil
}

// String renders the period as YYYY-MM-DD.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", p.Year, int(p.Month), p.Day)
}

// Key renders the full range as YYYY-MM-DD__YYYY-MM-DD for startDay
// (0 uses p's own day).
func (p Period) Key(startDay int) string {
	return p.String() + "__" + p.EndFor(startDay).Format(Layout)
}

// Display returns a human label for the period, e.g. "Dec 15 - Jan 14, 2026"
// or "Jan 1 - 31, 2026" when start and end share a month. The year shown is
// the year the period ends in.
func (p Period) Display() string {
	return p.DisplayFor(0)
}

// DisplayFor is Display with an explicit start day.
func (p Period) DisplayFor(startDay int) string {
	start, end := p.DatesFor(startDay)
	if start.Month() == end.Month() && start.Year() == end.Year() {
		return fmt.Sprintf("%s %d - %d, %d", start.Format("Jan"), start.Day(), end.Day(), end.Year())
	}
	return fmt.Sprintf("%s %d - %s %d, %d", start.Format("Jan"), start.Day(), end.Format("Jan"), end.Day(), end.Year())
}

// FormatDisplay parses s and returns its Display label.
func FormatDisplay(s string) (string, error) {
	p, err := Parse(s)
	if err != nil {
		return "", err
	}
	return p.Display(), nil
}

// Parse reads a strict YYYY-MM-DD period string.
func Parse(s string) (Period, error) {
	if len(s) != len(Layout) || s[4] != '-' || s[7] != '-' {
		return Period{}, fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrInvalidPeriod, s)
	}
	year, err1 := atoiDigits(s[0:4])
	month, err2 := atoiDigits(s[5:7])
	day, err3 := atoiDigits(s[8:10])
	if err := errors.Join(err1, err2, err3); err != nil {
		return Period{}, fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrInvalidPeriod, s)
	}
	p := Period{Year: year, Month: time.Month(month), Day: day}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Period {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// IsValid reports whether s is a well-formed period string.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// FromLegacyMonth converts a calendar month key (YYYY-MM) into the period
// starting in that month for startDay.
func FromLegacyMonth(s string, startDay int) (Period, error) {
	if len(s) != 7 || s[4] != '-' {
		return Period{}, fmt.Errorf("%w: %q is not YYYY-MM", ErrInvalidPeriod, s)
	}
	year, err1 := atoiDigits(s[0:4])
	month, err2 := atoiDigits(s[5:7])
	if err := errors.Join(err1, err2); err != nil {
		return Period{}, fmt.Errorf("%w: %q is not YYYY-MM", ErrInvalidPeriod, s)
	}
	return New(year, time.Month(month), startDay)
}

// IsLegacyMonth reports whether s uses the old YYYY-MM month format.
func IsLegacyMonth(s string) bool {
	if len(s) != 7 || s[4] != '-' {
		return false
	}
	_, err1 := atoiDigits(s[0:4])
	_, err2 := atoiDigits(s[5:7])
	return err1 == nil && err2 == nil
}

func atoiDigits(s string) (int, error) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, ErrInvalidPeriod
		}
	}
	return strconv.Atoi(s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Period) MarshalText() ([]byte, error) {
	if p.IsZero() {
		return []byte{}, nil
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Period) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = Period{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
