package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/reminder"
)

// legacyTask is one entry of the previous bot's tasks.json:
// {"<user id>": [{"name", "date", "time", "datetime", "created_at", "reminded"}]}.
type legacyTask struct {
	Name      string `json:"name"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	DateTime  string `json:"datetime"`
	CreatedAt string `json:"created_at"`
	Reminded  bool   `json:"reminded"`
}

var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	time.RFC3339Nano,
}

// ReadLegacy reads a legacy tasks.json. ok is false when the file is absent.
func ReadLegacy(path string) (reminder.Snapshot, bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	snap, err := decodeLegacy(b)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	return snap, true, nil
}

func decodeLegacy(b []byte) (reminder.Snapshot, error) {
	var raw map[string][]legacyTask
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	snap := reminder.Snapshot{}
	for key, tasks := range raw {
		uid, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("user id %q: %w", key, err)
		}
		for i, lt := range tasks {
			t, err := lt.convert(uid)
			if err != nil {
				return nil, fmt.Errorf("user %d task %d: %w", uid, i+1, err)
			}
			snap.Add(t)
		}
	}
	return snap, nil
}

func (lt legacyTask) convert(uid int64) (reminder.Task, error) {
	at, err := parseISO(lt.DateTime)
	if err != nil {
		day, derr := reminder.ParseDate(lt.Date)
		h, m, terr := reminder.ParseTime(lt.Time)
		if derr != nil || terr != nil {
			return reminder.Task{}, fmt.Errorf("no usable schedule: %w", err)
		}
		at = reminder.Combine(day, h, m)
	}
	created, err := parseISO(lt.CreatedAt)
	if err != nil {
		created = at
	}
	return reminder.Task{
		ID:         reminder.NewID(),
		UserID:     uid,
		ChatID:     uid,
		Name:       lt.Name,
		Date:       at.Format(reminder.DateLayout),
		Time:       at.Format(reminder.TimeLayout),
		At:         at,
		Recurrence: reminder.RecurNone,
		Delivered:  lt.Reminded,
		CreatedAt:  created,
	}, nil
}

func parseISO(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range isoLayouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
