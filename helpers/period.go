package helpers

import (
	"fmt"
	"strconv"
	"time"
)

// MonthStart returns the first day of t's calendar month as observed in loc.
// The result is midnight UTC so the same reporting month always maps to the
// same stored value regardless of the server's zone.
func MonthStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// WeekStart returns the Monday of t's ISO week as observed in loc, at midnight UTC.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	offset := (int(lt.Weekday()) + 6) % 7 // Monday = 0
	d := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, -offset)
}

// DayStart truncates t to midnight UTC of its calendar day in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
}

// ParsePeriod parses a YYYYMM period identifier into the first day of that month (UTC).
func ParsePeriod(period string) (time.Time, error) {
	if len(period) != 6 {
		return time.Time{}, fmt.Errorf("invalid period %q: expected YYYYMM", period)
	}
	year, err := strconv.Atoi(period[:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid period year %q: %w", period, err)
	}
	month, err := strconv.Atoi(period[4:])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid period month %q: %w", period, err)
	}
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("invalid period month %q: out of range", period)
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), nil
}

// FormatPeriod renders a date as a YYYYMM period identifier.
func FormatPeriod(t time.Time) string {
	return fmt.Sprintf("%04d%02d", t.Year(), int(t.Month()))
}

// MonthLabel renders a date as YYYY-MM for chart axes.
func MonthLabel(t time.Time) string {
	return t.Format("2006-01")
}

// RecentPeriods lists the n completed months before now, oldest first.
// The current month is excluded since sources publish it only after it closes.
func RecentPeriods(now time.Time, n int, loc *time.Location) []string {
	if n <= 0 {
		return nil
	}
	current := MonthStart(now, loc)
	periods := make([]string, 0, n)
	for i := n; i >= 1; i-- {
		periods = append(periods, FormatPeriod(current.AddDate(0, -i, 0)))
	}
	return periods
}

// MonthIndex counts calendar months from first to t (0 when both fall in the same month).
func MonthIndex(first, t time.Time) int {
	return (t.Year()-first.Year())*12 + int(t.Month()) - int(first.Month())
}
