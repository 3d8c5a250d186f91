// Package scheduler fires due reminders exactly once per occurrence.
//
// Two triggers feed one bounded queue drained by a small worker pool:
//   - a one-shot timer per undelivered task, armed for its scheduled instant
//   - a periodic sweep (robfig/cron) that picks up anything a timer missed
//
// Fire is the only path that marks an occurrence delivered. It claims the
// task id, re-checks the book, delivers outside the book lock and then, in a
// single book update, marks the task delivered and appends its successor.
// A late delivery resumes the chain at its next future occurrence. In
// exact-minute mode a recurring occurrence whose minute passed is retired
// as skipped, and its chain moves on the same way.
package scheduler
