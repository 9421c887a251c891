// Package duedate holds the pure date arithmetic behind overdue and
// upcoming-expiry classification. Functions take the reference day
// explicitly so callers and tests control "today"; nothing here reads
// the clock or mutates state.
package duedate

import "time"

// Layout is the wire format for all date-only values.
const Layout = "2006-01-02"

// DefaultSoonExpireDays is the lookahead window for upcoming-expiry checks.
const DefaultSoonExpireDays = 1

// Truncate normalises a timestamp to UTC midnight.
func Truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current date at UTC midnight.
func Today() time.Time {
	return Truncate(time.Now().UTC())
}

// Parse reads a YYYY-MM-DD string into a UTC midnight time.
func Parse(raw string) (time.Time, error) {
	t, err := time.Parse(Layout, raw)
	if err != nil {
		return time.Time{}, err
	}
	return Truncate(t), nil
}

// Format renders a date-only string.
func Format(t time.Time) string {
	return Truncate(t).Format(Layout)
}

// DaysBetween returns the whole days from start to end; negative when end
// precedes start.
func DaysBetween(start, end time.Time) int {
	return int(Truncate(end).Sub(Truncate(start)).Hours() / 24)
}

// From returns start advanced by the given number of days.
func From(start time.Time, days int) time.Time {
	return Truncate(start).AddDate(0, 0, days)
}

// IsOverdue reports whether today is strictly after the due date. A loan
// due today is not yet overdue.
func IsOverdue(dueDate, today time.Time) bool {
	return Truncate(today).After(Truncate(dueDate))
}

// IsSoonExpire reports whether the due date falls within
// [today, today+windowDays], both bounds inclusive. Negative windows never
// match.
func IsSoonExpire(dueDate, today time.Time, windowDays int) bool {
	if windowDays < 0 {
		return false
	}
	due := Truncate(dueDate)
	now := Truncate(today)
	threshold := now.AddDate(0, 0, windowDays)
	return !due.Before(now) && !due.After(threshold)
}

// OverdueDays returns how many days past due an open loan is, zero when not
// overdue.
func OverdueDays(dueDate, today time.Time) int {
	if !IsOverdue(dueDate, today) {
		return 0
	}
	return DaysBetween(dueDate, today)
}

// OverdueDaysAt returns retrospective lateness for a returned loan: days
// between due date and return date, zero when returned on time.
func OverdueDaysAt(dueDate, returnDate time.Time) int {
	if !Truncate(returnDate).After(Truncate(dueDate)) {
		return 0
	}
	return DaysBetween(dueDate, returnDate)
}
