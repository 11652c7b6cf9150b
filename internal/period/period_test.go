package period

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCurrent(t *testing.T) {
	tests := []struct {
		name     string
		startDay int
		now      time.Time
		want     string
	}{
		{"before start day goes to previous month", 15, date(2026, 1, 10), "2025-12-15"},
		{"on start day", 15, date(2026, 1, 15), "2026-01-15"},
		{"after start day", 15, date(2026, 1, 31), "2026-01-15"},
		{"first of month with start day 1", 1, date(2026, 3, 1), "2026-03-01"},
		{"year rollover", 15, date(2026, 1, 1), "2025-12-15"},
		{"start day 31 on leap day", 31, date(2024, 2, 29), "2024-02-29"},
		{"start day 31 on last day of february", 31, date(2023, 2, 28), "2023-02-28"},
		{"start day 31 mid february", 31, date(2024, 2, 20), "2024-01-31"},
		{"start day 31 mid march", 31, date(2024, 3, 15), "2024-02-29"},
		{"start day 30 in march", 30, date(2025, 3, 30), "2025-03-30"},
		{"location day is used", 15, time.Date(2026, 1, 15, 23, 30, 0, 0, time.FixedZone("X", -5*3600)), "2026-01-15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Current(tt.startDay, tt.now)
			if err != nil {
				t.Fatalf("Current() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("Current(%d, %s) = %s, want %s", tt.startDay, tt.now.Format(Layout), got, tt.want)
			}
		})
	}
}

func TestCurrentRejectsStartDay(t *testing.T) {
	for _, sd := range []int{-1, 0, 32} {
		if _, err := Current(sd, date(2026, 1, 1)); !errors.Is(err, ErrInvalidStartDay) {
			t.Errorf("Current(%d) error = %v, want ErrInvalidStartDay", sd, err)
		}
	}
}

func TestCurrentContainsNow(t *testing.T) {
	for sd := MinStartDay; sd <= MaxStartDay; sd++ {
		for now := date(2024, 1, 1); now.Before(date(2026, 1, 1)); now = now.AddDate(0, 0, 1) {
			p, err := Current(sd, now)
			if err != nil {
				t.Fatalf("Current(%d, %s) error = %v", sd, now.Format(Layout), err)
			}
			if !p.Contains(now, sd) {
				start, end := p.DatesFor(sd)
				t.Fatalf("Current(%d, %s) = %s..%s does not contain now", sd, now.Format(Layout), start.Format(Layout), end.Format(Layout))
			}
		}
	}
}

func TestShift(t *testing.T) {
	tests := []struct {
		name     string
		from     string
		months   int
		startDay int
		want     string
	}{
		{"next", "2026-01-15", 1, 15, "2026-02-15"},
		{"previous", "2026-01-15", -1, 15, "2025-12-15"},
		{"next across year", "2025-12-15", 1, 15, "2026-01-15"},
		{"clamp into february", "2024-01-31", 1, 31, "2024-02-29"},
		{"unclamp out of february", "2024-02-29", 1, 31, "2024-03-31"},
		{"previous into february", "2024-03-31", -1, 31, "2024-02-29"},
		{"derived day", "2025-12-15", 1, 0, "2026-01-15"},
		{"derived day clamps", "2024-01-31", 1, 0, "2024-02-29"},
		{"derived day keeps clamped day", "2024-02-29", 1, 0, "2024-03-29"},
		{"never rolls into next month", "2025-03-31", 1, 0, "2025-04-30"},
		{"twelve months", "2025-06-30", 12, 30, "2026-06-30"},
		{"thirteen months back", "2026-01-15", -13, 15, "2024-12-15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Shift(MustParse(tt.from), tt.months, tt.startDay)
			if err != nil {
				t.Fatalf("Shift() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("Shift(%s, %d, %d) = %s, want %s", tt.from, tt.months, tt.startDay, got, tt.want)
			}
		})
	}
}

func TestShiftErrors(t *testing.T) {
	if _, err := Next(Period{}, 15); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("Next(zero) error = %v, want ErrInvalidPeriod", err)
	}
	if _, err := Next(MustParse("2026-01-15"), 40); !errors.Is(err, ErrInvalidStartDay) {
		t.Errorf("Next(startDay 40) error = %v, want ErrInvalidStartDay", err)
	}
	if _, err := Next(MustParse("2100-12-15"), 15); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("Next(2100-12-15) error = %v, want ErrInvalidPeriod", err)
	}
}

func TestNextPreviousRoundTrip(t *testing.T) {
	for sd := MinStartDay; sd <= MaxStartDay; sd++ {
		for y := 2020; y <= 2027; y++ {
			for m := time.January; m <= time.December; m++ {
				p, err := New(y, m, sd)
				if err != nil {
					t.Fatalf("New(%d, %d, %d) error = %v", y, m, sd, err)
				}
				next, _ := Next(p, sd)
				back, _ := Previous(next, sd)
				if back != p {
					t.Fatalf("Previous(Next(%s, %d)) = %s, want %s", p, sd, back, p)
				}
				prev, _ := Previous(p, sd)
				fwd, _ := Next(prev, sd)
				if fwd != p {
					t.Fatalf("Next(Previous(%s, %d)) = %s, want %s", p, sd, fwd, p)
				}
			}
		}
	}
}

func TestPeriodsPartitionCalendar(t *testing.T) {
	for sd := MinStartDay; sd <= MaxStartDay; sd++ {
		p, _ := New(2023, time.November, sd)
		for i := 0; i < 30; i++ {
			next, err := Next(p, sd)
			if err != nil {
				t.Fatalf("Next(%s) error = %v", p, err)
			}
			start, end := p.DatesFor(sd)
			if !end.AddDate(0, 0, 1).Equal(next.Start()) {
				t.Fatalf("period %s (start day %d) ends %s, next starts %s", p, sd, end.Format(Layout), next.String())
			}
			if days := int(end.Sub(start).Hours()/24) + 1; days < 28 || days > 31 {
				t.Fatalf("period %s (start day %d) spans %d days", p, sd, days)
			}
			p = next
		}
	}
}

func TestDates(t *testing.T) {
	tests := []struct {
		period   string
		startDay int
		wantEnd  string
	}{
		{"2026-01-15", 0, "2026-02-14"},
		{"2025-12-15", 15, "2026-01-14"},
		{"2026-01-01", 1, "2026-01-31"},
		{"2024-02-29", 31, "2024-03-30"},
		{"2024-02-29", 0, "2024-03-28"},
		{"2025-01-31", 31, "2025-02-27"},
	}
	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			p := MustParse(tt.period)
			start, end := p.DatesFor(tt.startDay)
			if got := start.Format(Layout); got != tt.period {
				t.Errorf("start = %s, want %s", got, tt.period)
			}
			if got := end.Format(Layout); got != tt.wantEnd {
				t.Errorf("end = %s, want %s", got, tt.wantEnd)
			}
		})
	}
}

func TestDisplay(t *testing.T) {
	tests := []struct {
		period   string
		startDay int
		want     string
	}{
		{"2025-12-15", 0, "Dec 15 - Jan 14, 2026"},
		{"2026-01-15", 15, "Jan 15 - Feb 14, 2026"},
		{"2026-01-01", 1, "Jan 1 - 31, 2026"},
		{"2026-02-01", 0, "Feb 1 - 28, 2026"},
		{"2024-02-29", 31, "Feb 29 - Mar 30, 2024"},
	}
	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			if got := MustParse(tt.period).DisplayFor(tt.startDay); got != tt.want {
				t.Errorf("DisplayFor(%d) = %q, want %q", tt.startDay, got, tt.want)
			}
		})
	}

	got, err := FormatDisplay("2025-12-15")
	if err != nil || got != "Dec 15 - Jan 14, 2026" {
		t.Errorf("FormatDisplay() = %q, %v", got, err)
	}
	if _, err := FormatDisplay("2025-12"); err == nil {
		t.Error("FormatDisplay() expected error for malformed period")
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"2026-01-15", true},
		{"2024-02-29", true},
		{"2000-01-01", true},
		{"2100-12-31", true},
		{"2026-02-29", false},
		{"2026-04-31", false},
		{"1999-12-15", false},
		{"2101-01-01", false},
		{"2026-13-01", false},
		{"2026-00-10", false},
		{"2026-01-00", false},
		{"2026-1-15", false},
		{"2026/01/15", false},
		{"2026-01-15x", false},
		{" 2026-01-15", false},
		{"+026-01-15", false},
		{"2026-01-1a", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValid(tt.in); got != tt.want {
			t.Errorf("IsValid(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromLegacyMonth(t *testing.T) {
	tests := []struct {
		in       string
		startDay int
		want     string
		wantErr  bool
	}{
		{"2025-12", 15, "2025-12-15", false},
		{"2024-02", 31, "2024-02-29", false},
		{"2026-01", 1, "2026-01-01", false},
		{"2025-13", 15, "", true},
		{"2025-1", 15, "", true},
		{"2025-12", 0, "", true},
	}
	for _, tt := range tests {
		got, err := FromLegacyMonth(tt.in, tt.startDay)
		if tt.wantErr {
			if err == nil {
				t.Errorf("FromLegacyMonth(%q, %d) expected error", tt.in, tt.startDay)
			}
			continue
		}
		if err != nil || got.String() != tt.want {
			t.Errorf("FromLegacyMonth(%q, %d) = %s, %v, want %s", tt.in, tt.startDay, got, err, tt.want)
		}
	}

	if !IsLegacyMonth("2025-12") || IsLegacyMonth("2025-12-15") || IsLegacyMonth("2025-1x") {
		t.Error("IsLegacyMonth() misclassified input")
	}
}

func TestKey(t *testing.T) {
	if got, want := MustParse("2025-12-15").Key(15), "2025-12-15__2026-01-14"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestStepDay(t *testing.T) {
	tests := []struct {
		p        string
		startDay int
		want     int
	}{
		{"2025-12-15", 15, 15},
		{"2025-12-15", 1, 0},
		{"2024-02-29", 31, 31},
		{"2024-02-28", 31, 0},
		{"2026-01-10", 15, 0},
		{"2026-01-10", 0, 0},
	}
	for _, tt := range tests {
		p := MustParse(tt.p)
		if got := StepDay(p, tt.startDay); got != tt.want {
			t.Errorf("StepDay(%s, %d) = %d, want %d", tt.p, tt.startDay, got, tt.want)
		}
	}

	// A period left over from an earlier start day keeps its own spacing.
	old := MustParse("2025-12-15")
	prev, err := Previous(old, StepDay(old, 1))
	if err != nil || prev != MustParse("2025-11-15") {
		t.Errorf("Previous(2025-12-15 by own day) = %s, %v", prev, err)
	}
}

func TestTextMarshaling(t *testing.T) {
	type payload struct {
		Period Period `json:"period"`
	}
	b, err := json.Marshal(payload{Period: MustParse("2026-01-15")})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(b) != `{"period":"2026-01-15"}` {
		t.Errorf("Marshal() = %s", b)
	}

	var p payload
	if err := json.Unmarshal([]byte(`{"period":"2026-02-30"}`), &p); err == nil {
		t.Error("Unmarshal() expected error for invalid day")
	}
	if err := json.Unmarshal([]byte(`{"period":"2025-12-15"}`), &p); err != nil || p.Period != MustParse("2025-12-15") {
		t.Errorf("Unmarshal() = %v, %v", p.Period, err)
	}
}
