package reminder

import (
	"strconv"
	"strings"
	"time"
)

// ParseDate accepts day.month.year with '.' or '/' as separator, returning
// local midnight of that day.
func ParseDate(s string) (time.Time, error) {
	raw := strings.TrimSpace(s)
	parts := strings.Split(strings.ReplaceAll(raw, "/", "."), ".")
	if len(parts) != 3 {
		return time.Time{}, invalid("date", raw, "expected DD.MM.YYYY or DD/MM/YYYY")
	}
	day, err1 := atoiLen(parts[0], 1, 2)
	month, err2 := atoiLen(parts[1], 1, 2)
	year, err3 := atoiLen(parts[2], 4, 4)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, invalid("date", raw, "expected DD.MM.YYYY or DD/MM/YYYY")
	}
	if month < 1 || month > 12 || day < 1 || day > daysIn(year, time.Month(month)) {
		return time.Time{}, invalid("date", raw, "no such calendar day")
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local), nil
}

// ParseTime accepts 24-hour H:MM or HH:MM and returns hour and minute.
func ParseTime(s string) (hour, minute int, err error) {
	raw := strings.TrimSpace(s)
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return 0, 0, invalid("time", raw, "expected HH:MM (24-hour)")
	}
	h, errH := atoiLen(parts[0], 1, 2)
	m, errM := atoiLen(parts[1], 2, 2)
	if errH != nil || errM != nil || h > 23 || m > 59 {
		return 0, 0, invalid("time", raw, "expected HH:MM (24-hour)")
	}
	return h, m, nil
}

// Combine merges a parsed day with a clock time in the local zone.
func Combine(day time.Time, hour, minute int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, time.Local)
}

func atoiLen(s string, minLen, maxLen int) (int, error) {
	if len(s) < minLen || len(s) > maxLen {
		return 0, strconv.ErrSyntax
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}
