package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

var (
	errGone     = errors.New("task removed during delivery")
	errRecorded = errors.New("delivery already recorded")
	errCurrent  = errors.New("occurrence no longer missed")
)

// Fire delivers task id if it is still present, undelivered and due. It
// reports whether a notification was sent. Concurrent calls for the same id
// collapse into one; a deleted or already delivered task is a no-op.
func (s *Service) Fire(ctx context.Context, id string) (bool, error) {
	if !s.claim(id) {
		return false, nil
	}
	defer s.release(id)

	var (
		t  reminder.Task
		ok bool
	)
	s.book.View(func(b reminder.Snapshot) { t, ok = b.Find(id) })
	if !ok || t.Delivered {
		s.log.Debug("fire skipped", logx.String("task", id), logx.Bool("found", ok))
		return false, nil
	}

	now := s.now()
	cfg := s.config()
	if t.At.After(now) {
		// Woke early (clock adjusted); wait for the real instant.
		s.Arm(t)
		return false, nil
	}
	if !due(t, now, cfg.CatchUp) {
		if missed(t, now, cfg.CatchUp) {
			succ, err := s.retireMissed(ctx, id, now)
			if err != nil || succ == nil || !due(*succ, now, false) {
				return false, err
			}
			// The chain resumed inside the current minute.
			return s.Fire(ctx, succ.ID)
		}
		s.log.Info("skipping missed occurrence", logx.String("task", id), logx.Time("at", t.At))
		return false, nil
	}

	s.fired.Add(1)
	eventbus.Emit(s.bus, "reminder.fired", eventOf(t))

	fctx, cancel := context.WithTimeout(ctx, cfg.FireTimeout)
	err := s.notifier.Deliver(fctx, t)
	cancel()
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("reminder delivery failed; will retry on next sweep",
			logx.String("task", id), logx.Int64("user", t.UserID), logx.Err(err))
		ev := eventOf(t)
		ev.Error = err.Error()
		eventbus.Emit(s.bus, "reminder.failed", ev)
		if !errors.Is(err, reminder.ErrDelivery) {
			err = fmt.Errorf("%w: %v", reminder.ErrDelivery, err)
		}
		return false, err
	}

	var succ *reminder.Task
	uerr := s.book.Update(ctx, func(b reminder.Snapshot) error {
		cur, ok := b.Find(id)
		if !ok {
			return errGone
		}
		if cur.Delivered {
			return errRecorded
		}
		stamp := s.now()
		cur.Delivered = true
		cur.DeliveredAt = &stamp
		b.Replace(cur)
		if !cur.Recurring() {
			return nil
		}
		// After downtime the chain resumes at the first occurrence still
		// ahead; the ones slept through are not replayed.
		next, err := cur.SuccessorFrom(stamp, stamp)
		if err != nil {
			return err
		}
		b.Add(next)
		succ = &next
		return nil
	})
	switch {
	case errors.Is(uerr, errGone):
		s.log.Info("task deleted while its reminder was sent", logx.String("task", id))
		return true, nil
	case errors.Is(uerr, errRecorded):
		s.log.Debug("delivery already recorded", logx.String("task", id))
		return true, nil
	case uerr != nil:
		// Sent but not recorded: the next sweep may send it again.
		s.log.Error("reminder sent but delivered flag not saved",
			logx.String("task", id), logx.Err(uerr))
		return true, uerr
	}

	s.Disarm(id)
	s.delivered.Add(1)
	eventbus.Emit(s.bus, "reminder.delivered", eventOf(t))
	s.log.Info("reminder delivered", logx.String("task", id), logx.Int64("user", t.UserID))
	if succ != nil {
		s.Arm(*succ)
		eventbus.Emit(s.bus, "reminder.successor", eventOf(*succ))
		s.log.Info("next occurrence scheduled",
			logx.String("task", succ.ID), logx.String("parent", id), logx.Time("at", succ.At))
	}
	return true, nil
}

// missed reports whether t is a recurring occurrence that the exact-minute
// mode can no longer deliver.
func missed(t reminder.Task, now time.Time, catchUp bool) bool {
	return !catchUp && !t.Delivered && t.Recurring() && t.At.Before(now.Truncate(time.Minute))
}

// retireMissed marks a missed recurring occurrence as skipped and schedules
// the first later one that can still fire, in a single update. The caller
// holds the claim on id. The successor is nil when nothing was retired.
func (s *Service) retireMissed(ctx context.Context, id string, now time.Time) (*reminder.Task, error) {
	floor := now.Truncate(time.Minute)
	var (
		prev reminder.Task
		succ reminder.Task
	)
	err := s.book.Update(ctx, func(b reminder.Snapshot) error {
		cur, ok := b.Find(id)
		if !ok {
			return errGone
		}
		if !missed(cur, now, false) {
			return errCurrent
		}
		next, err := cur.SuccessorFrom(floor, s.now())
		if err != nil {
			return err
		}
		cur.Delivered = true
		cur.Skipped = true
		b.Replace(cur)
		b.Add(next)
		prev, succ = cur, next
		return nil
	})
	switch {
	case errors.Is(err, errGone), errors.Is(err, errCurrent):
		return nil, nil
	case err != nil:
		s.log.Error("retiring missed occurrence failed", logx.String("task", id), logx.Err(err))
		return nil, err
	}

	s.Disarm(id)
	s.skipped.Add(1)
	eventbus.Emit(s.bus, "reminder.skipped", eventOf(prev))
	s.Arm(succ)
	eventbus.Emit(s.bus, "reminder.successor", eventOf(succ))
	s.log.Info("missed occurrence skipped",
		logx.String("task", id), logx.Time("at", prev.At),
		logx.String("next", succ.ID), logx.Time("next_at", succ.At))
	return &succ, nil
}

func (s *Service) claim(id string) bool {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.fmu.Lock()
	delete(s.inFlight, id)
	s.fmu.Unlock()
}
