package reminder

import (
	"fmt"
	"strings"
	"time"
)

type Recurrence string

const (
	RecurNone    Recurrence = "none"
	RecurDaily   Recurrence = "daily"
	RecurWeekly  Recurrence = "weekly"
	RecurMonthly Recurrence = "monthly"
	RecurYearly  Recurrence = "yearly"
)

// Recurrences lists the rules in menu order.
var Recurrences = []Recurrence{RecurNone, RecurDaily, RecurWeekly, RecurMonthly, RecurYearly}

func (r Recurrence) Recurring() bool {
	switch r {
	case RecurDaily, RecurWeekly, RecurMonthly, RecurYearly:
		return true
	default:
		return false
	}
}

// ParseRecurrence accepts the rule names case-insensitively; empty means none.
func ParseRecurrence(s string) (Recurrence, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RecurNone, nil
	}
	for _, r := range Recurrences {
		if string(r) == s {
			return r, nil
		}
	}
	return "", invalid("recurrence", s, "expected one of none, daily, weekly, monthly, yearly")
}

// Next returns the occurrence after at for a recurring rule.
//
// Monthly keeps the day of month, clamped to the last day of a shorter month;
// yearly moves Feb 29 to Feb 28 in non-leap years. The wall clock is preserved.
// The result is always strictly after at.
func Next(at time.Time, rule Recurrence) (time.Time, error) {
	switch rule {
	case RecurDaily:
		return at.Add(24 * time.Hour), nil
	case RecurWeekly:
		return at.Add(7 * 24 * time.Hour), nil
	case RecurMonthly:
		return addMonthsClamped(at, 1), nil
	case RecurYearly:
		return addMonthsClamped(at, 12), nil
	default:
		return time.Time{}, fmt.Errorf("%w: rule %q", ErrNoRecurrence, rule)
	}
}

// addMonthsClamped moves at forward by n calendar months without the
// overflow time.AddDate does (Jan 31 + 1 month must not land in March).
func addMonthsClamped(at time.Time, n int) time.Time {
	y, m, d := at.Date()
	hh, mm, ss := at.Clock()

	target := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, at.Location())
	ty, tm, _ := target.Date()
	if last := daysIn(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, hh, mm, ss, at.Nanosecond(), at.Location())
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
