package reminder

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"remindbot/pkg/logx"
)

const maxNameRunes = 256

// Armer registers tasks with whatever fires them.
type Armer interface {
	Arm(t Task)
	Disarm(id string)
}

type nopArmer struct{}

func (nopArmer) Arm(Task)      {}
func (nopArmer) Disarm(string) {}

type CreateRequest struct {
	UserID     int64
	ChatID     int64
	Name       string
	Date       string
	Time       string
	Recurrence string
}

// Listed is a task as presented to its owner.
type Listed struct {
	Position int
	Task     Task
	Status   Status
}

type ManagerOption func(*Manager)

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager implements the operations a front-end calls.
type Manager struct {
	book  *Book
	armer Armer
	now   func() time.Time
	log   logx.Logger
}

func NewManager(book *Book, armer Armer, log logx.Logger, opts ...ManagerOption) *Manager {
	if armer == nil {
		armer = nopArmer{}
	}
	m := &Manager{
		book:  book,
		armer: armer,
		now:   time.Now,
		log:   log.With(logx.String("comp", "manager")),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CheckName validates a task name and returns it trimmed.
func CheckName(s string) (string, error) {
	name := strings.TrimSpace(s)
	if name == "" {
		return "", invalid("name", "", "must not be empty")
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		return "", invalid("name", "", "too long")
	}
	return name, nil
}

// CheckDate parses s and rejects days before today.
func (m *Manager) CheckDate(s string) (time.Time, error) {
	day, err := ParseDate(s)
	if err != nil {
		return time.Time{}, err
	}
	now := m.now().In(time.Local)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	if day.Before(today) {
		return time.Time{}, invalid("date", strings.TrimSpace(s), "date is in the past")
	}
	return day, nil
}

// CheckInstant resolves date and time and requires the instant to be in the future.
func (m *Manager) CheckInstant(date, clock string) (time.Time, error) {
	day, err := m.CheckDate(date)
	if err != nil {
		return time.Time{}, err
	}
	h, mm, err := ParseTime(clock)
	if err != nil {
		return time.Time{}, err
	}
	at := Combine(day, h, mm)
	if !at.After(m.now()) {
		return time.Time{}, invalid("time", strings.TrimSpace(clock), "time is in the past")
	}
	return at, nil
}

// Create validates, persists and arms a new task.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (Task, error) {
	name, err := CheckName(req.Name)
	if err != nil {
		return Task{}, err
	}
	at, err := m.CheckInstant(req.Date, req.Time)
	if err != nil {
		return Task{}, err
	}
	rule, err := ParseRecurrence(req.Recurrence)
	if err != nil {
		return Task{}, err
	}
	chatID := req.ChatID
	if chatID == 0 {
		chatID = req.UserID
	}

	t := Task{
		ID:         NewID(),
		UserID:     req.UserID,
		ChatID:     chatID,
		Name:       name,
		Date:       at.Format(DateLayout),
		Time:       at.Format(TimeLayout),
		At:         at,
		Recurrence: rule,
		CreatedAt:  m.now(),
	}
	if err := m.book.Update(ctx, func(s Snapshot) error {
		s.Add(t)
		return nil
	}); err != nil {
		return Task{}, err
	}
	m.armer.Arm(t)
	m.log.Info("task created",
		logx.String("task", t.ID),
		logx.Int64("user", t.UserID),
		logx.Time("at", t.At),
		logx.String("recurrence", string(t.Recurrence)),
	)
	return t, nil
}

// List returns the user's tasks in ascending scheduled order.
func (m *Manager) List(userID int64) []Listed {
	var tasks []Task
	m.book.View(func(s Snapshot) { tasks = s.Sorted(userID) })

	now := m.now()
	out := make([]Listed, len(tasks))
	for i, t := range tasks {
		out[i] = Listed{Position: i + 1, Task: t, Status: StatusAt(t.At, now)}
	}
	return out
}

// Get returns one of the user's tasks by id.
func (m *Manager) Get(userID int64, id string) (Task, error) {
	var (
		t  Task
		ok bool
	)
	m.book.View(func(s Snapshot) { t, ok = s.Find(id) })
	if !ok || t.UserID != userID {
		return Task{}, ErrNotFound
	}
	return t, nil
}

// Delete removes the task at a 1-based position of the sorted list. The
// position is resolved against the state held under the same lock as the
// removal, so a concurrently appended successor cannot shift it.
func (m *Manager) Delete(ctx context.Context, userID int64, position int) (Task, error) {
	var removed Task
	err := m.book.Update(ctx, func(s Snapshot) error {
		sorted := s.Sorted(userID)
		if position < 1 || position > len(sorted) {
			return &RangeError{Position: position, Count: len(sorted)}
		}
		removed = sorted[position-1]
		s.Remove(userID, removed.ID)
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	m.armer.Disarm(removed.ID)
	m.log.Info("task deleted", logx.String("task", removed.ID), logx.Int64("user", userID), logx.Int("position", position))
	return removed, nil
}
