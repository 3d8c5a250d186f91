package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// delayedSchedule runs first at a fixed instant, then follows base.
type delayedSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (d *delayedSchedule) Next(t time.Time) time.Time {
	if !d.first.IsZero() && t.Before(d.first) {
		return d.first
	}
	return d.base.Next(t)
}

func newSweepSchedule(cfg Config, now time.Time) cron.Schedule {
	return &delayedSchedule{base: cron.Every(cfg.PollInterval), first: now.Add(cfg.InitialDelay)}
}

// Call with s.mu held.
func (s *Service) startCronLocked() {
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLocation(time.Local),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx := context.Background()
	if s.sup != nil {
		ctx = s.sup.Context()
	}
	s.entryID = s.c.Schedule(newSweepSchedule(s.cfg, time.Now()), cron.FuncJob(func() {
		s.Sweep(ctx, s.now())
	}))
	s.c.Start()
}

// Call with s.mu held. A sweep still running on the old cron finishes on
// its own; waiting for it here would deadlock on s.mu.
func (s *Service) restartCronLocked() {
	if s.c != nil {
		s.c.Stop()
	}
	s.startCronLocked()
	s.log.Info("sweep rescheduled", logx.Duration("poll_interval", s.cfg.PollInterval))
}

// Due reports whether t should fire at now under the configured mode.
func (s *Service) Due(t reminder.Task, now time.Time) bool {
	return due(t, now, s.config().CatchUp)
}

func due(t reminder.Task, now time.Time, catchUp bool) bool {
	if t.Delivered {
		return false
	}
	if catchUp {
		return !t.At.After(now)
	}
	return sameMinute(t.At, now)
}

func sameMinute(a, b time.Time) bool {
	a, b = a.In(time.Local), b.In(time.Local)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay() && a.Hour() == b.Hour() && a.Minute() == b.Minute()
}

// Sweep hands every due, undelivered task to the workers and returns how
// many it found. Recurring occurrences the exact-minute mode missed are
// handed over too, so their chain moves on. Before Start it fires them
// inline instead.
func (s *Service) Sweep(ctx context.Context, now time.Time) int {
	s.lastSweep.Store(now.UnixNano())
	catchUp := s.config().CatchUp

	var dueTasks []reminder.Task
	s.book.View(func(b reminder.Snapshot) {
		for _, t := range b.Pending() {
			if due(t, now, catchUp) || missed(t, now, catchUp) {
				dueTasks = append(dueTasks, t)
			}
		}
	})
	if len(dueTasks) == 0 {
		return 0
	}
	s.log.Debug("sweep found due tasks", logx.Int("due", len(dueTasks)))

	s.mu.Lock()
	running := s.queue != nil
	s.mu.Unlock()

	for _, t := range dueTasks {
		if running {
			s.enqueue(t.ID)
			continue
		}
		// One failure must not stop the rest; Fire logs it.
		_, _ = s.Fire(ctx, t.ID)
	}
	return len(dueTasks)
}
