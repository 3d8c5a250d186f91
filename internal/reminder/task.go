// Package reminder holds the task model, the recurrence calculator and the
// task manager that front-ends call.
package reminder

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	DateLayout = "02.01.2006"
	TimeLayout = "15:04"
)

// Task is one occurrence of a reminder. A recurring reminder is a chain of
// tasks linked by ParentID; each link is delivered at most once.
type Task struct {
	ID         string     `json:"id"`
	UserID     int64      `json:"user_id"`
	ChatID     int64      `json:"chat_id"`
	Name       string     `json:"name"`
	Date       string     `json:"date"`
	Time       string     `json:"time"`
	At         time.Time  `json:"at"`
	Recurrence Recurrence `json:"recurrence"`
	Delivered  bool       `json:"delivered"`
	CreatedAt  time.Time  `json:"created_at"`

	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ParentID    string     `json:"parent_id,omitempty"`
	// Skipped marks an occurrence retired without a notification.
	Skipped bool `json:"skipped,omitempty"`
}

func NewID() string { return uuid.NewString() }

// Recurring reports whether delivering this task spawns a successor.
func (t Task) Recurring() bool { return t.Recurrence.Recurring() }

// Successor builds the next undelivered occurrence of a recurring task.
func (t Task) Successor(now time.Time) (Task, error) {
	next, err := Next(t.At, t.Recurrence)
	if err != nil {
		return Task{}, err
	}
	return Task{
		ID:         NewID(),
		UserID:     t.UserID,
		ChatID:     t.ChatID,
		Name:       t.Name,
		Date:       next.Format(DateLayout),
		Time:       next.Format(TimeLayout),
		At:         next,
		Recurrence: t.Recurrence,
		CreatedAt:  now,
		ParentID:   t.ID,
	}, nil
}

// SuccessorFrom is Successor moved forward by whole recurrence steps until
// it is not before notBefore. Occurrences in between are never created.
func (t Task) SuccessorFrom(notBefore, now time.Time) (Task, error) {
	next, err := t.Successor(now)
	if err != nil {
		return Task{}, err
	}
	for next.At.Before(notBefore) {
		if next.At, err = Next(next.At, t.Recurrence); err != nil {
			return Task{}, err
		}
	}
	next.Date = next.At.Format(DateLayout)
	next.Time = next.At.Format(TimeLayout)
	return next, nil
}

// Snapshot maps an owning user id to that user's tasks. Order within a
// user's slice carries no meaning; use Sorted for presentation order.
type Snapshot map[int64][]Task

// Clone deep-copies the snapshot so a mutation can be discarded.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for uid, tasks := range s {
		cp := make([]Task, len(tasks))
		for i, t := range tasks {
			if t.DeliveredAt != nil {
				at := *t.DeliveredAt
				t.DeliveredAt = &at
			}
			cp[i] = t
		}
		out[uid] = cp
	}
	return out
}

// Sorted returns a copy of the user's tasks in ascending scheduled order.
func (s Snapshot) Sorted(userID int64) []Task {
	tasks := append([]Task(nil), s[userID]...)
	sortTasks(tasks)
	return tasks
}

// Find locates a task by id across all users.
func (s Snapshot) Find(id string) (Task, bool) {
	for _, tasks := range s {
		for _, t := range tasks {
			if t.ID == id {
				return t, true
			}
		}
	}
	return Task{}, false
}

// Pending returns every undelivered task, ascending by scheduled instant.
func (s Snapshot) Pending() []Task {
	var out []Task
	for _, tasks := range s {
		for _, t := range tasks {
			if !t.Delivered {
				out = append(out, t)
			}
		}
	}
	sortTasks(out)
	return out
}

// Count returns the total number of tasks across all users.
func (s Snapshot) Count() int {
	n := 0
	for _, tasks := range s {
		n += len(tasks)
	}
	return n
}

func (s Snapshot) Add(t Task) {
	s[t.UserID] = append(s[t.UserID], t)
}

// Replace swaps in the task with the same id. It reports false if absent.
func (s Snapshot) Replace(t Task) bool {
	tasks := s[t.UserID]
	for i := range tasks {
		if tasks[i].ID == t.ID {
			tasks[i] = t
			return true
		}
	}
	return false
}

func (s Snapshot) Remove(userID int64, id string) bool {
	tasks := s[userID]
	for i := range tasks {
		if tasks[i].ID != id {
			continue
		}
		tasks = append(tasks[:i], tasks[i+1:]...)
		if len(tasks) == 0 {
			delete(s, userID)
		} else {
			s[userID] = tasks
		}
		return true
	}
	return false
}

func sortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
