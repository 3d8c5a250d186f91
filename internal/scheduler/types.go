package scheduler

import (
	"context"
	"time"

	"remindbot/internal/reminder"
)

// Config controls triggering.
type Config struct {
	// PollInterval is the sweep period. Default 60s.
	PollInterval time.Duration
	// InitialDelay postpones the first sweep after Start. Default 5s.
	InitialDelay time.Duration
	// CatchUp fires any undelivered task whose instant has passed. When
	// false, a task is due only during the minute it is scheduled for and
	// occurrences missed while the process was down are skipped.
	CatchUp bool
	// Workers drain the due queue. Default 2.
	Workers int
	// QueueSize bounds the due queue. Default 256.
	QueueSize int
	// FireTimeout bounds one delivery including retries. Default 1m.
	FireTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.FireTimeout <= 0 {
		c.FireTimeout = time.Minute
	}
	return c
}

// Notifier delivers one occurrence.
type Notifier interface {
	Deliver(ctx context.Context, t reminder.Task) error
}

// Snapshot is a point-in-time view for /status.
type Snapshot struct {
	Running      bool
	CatchUp      bool
	PollInterval time.Duration
	Armed        int
	InFlight     int
	QueueLen     int
	QueueCap     int
	Pending      int
	LastSweep    time.Time
	NextSweep    time.Time
	Fired        uint64
	Delivered    uint64
	Failed       uint64
	Skipped      uint64
	Dropped      uint64
}

// FireEvent is published as reminder.fired, reminder.delivered,
// reminder.failed, reminder.skipped and reminder.successor.
type FireEvent struct {
	TaskID   string    `json:"task_id"`
	UserID   int64     `json:"user_id"`
	Name     string    `json:"name"`
	At       time.Time `json:"at"`
	ParentID string    `json:"parent_id,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func eventOf(t reminder.Task) FireEvent {
	return FireEvent{TaskID: t.ID, UserID: t.UserID, Name: t.Name, At: t.At, ParentID: t.ParentID}
}
