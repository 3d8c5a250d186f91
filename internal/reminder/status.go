package reminder

import (
	"strconv"
	"time"
)

// Status is the derived "time remaining" shown next to a listed task.
type Status struct {
	Overdue   bool
	Days      int
	Hours     int
	Remaining time.Duration
}

func StatusAt(at, now time.Time) Status {
	d := at.Sub(now)
	if d < 0 {
		return Status{Overdue: true, Remaining: d}
	}
	return Status{
		Days:      int(d / (24 * time.Hour)),
		Hours:     int(d % (24 * time.Hour) / time.Hour),
		Remaining: d,
	}
}

func (s Status) Label() string {
	switch {
	case s.Overdue:
		return "overdue"
	case s.Days > 0:
		return "in " + strconv.Itoa(s.Days) + " d"
	case s.Hours > 0:
		return "in " + strconv.Itoa(s.Hours) + " h"
	default:
		return "soon"
	}
}
