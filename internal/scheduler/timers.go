package scheduler

import (
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Arm sets (or replaces) the one-shot timer for t. Delivered tasks and,
// without catch-up, tasks whose minute has already passed are not armed.
func (s *Service) Arm(t reminder.Task) {
	if t.Delivered || t.ID == "" {
		return
	}
	now := s.now()
	if !s.config().CatchUp && t.At.Before(now.Truncate(time.Minute)) {
		s.log.Debug("not arming missed occurrence", logx.String("task", t.ID), logx.Time("at", t.At))
		s.Disarm(t.ID)
		return
	}
	delay := t.At.Sub(now)
	if delay < 0 {
		delay = 0
	}

	id := t.ID
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if old, ok := s.timers[id]; ok {
		_ = old.Stop()
	}
	s.ver[id]++
	v := s.ver[id]
	s.timers[id] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		if s.ver[id] != v {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, id)
		delete(s.ver, id)
		s.tmu.Unlock()
		s.enqueue(id)
	})
}

// Disarm cancels the timer for id, if any. A callback already running for
// it is ignored.
func (s *Service) Disarm(id string) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
	}
	delete(s.ver, id)
}

func (s *Service) armAll() int {
	var pending []reminder.Task
	s.book.View(func(b reminder.Snapshot) { pending = b.Pending() })
	for _, t := range pending {
		s.Arm(t)
	}
	s.tmu.Lock()
	n := len(s.timers)
	s.tmu.Unlock()
	return n
}

func (s *Service) disarmAll() {
	s.tmu.Lock()
	for id, t := range s.timers {
		_ = t.Stop()
		delete(s.timers, id)
	}
	s.ver = map[string]uint64{}
	s.tmu.Unlock()
}
