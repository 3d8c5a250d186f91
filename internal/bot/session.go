package bot

import (
	"sync"
	"time"
)

type step int

const (
	stepIdle step = iota
	stepName
	stepDate
	stepTime
	stepRecurrence
	stepDelete
)

func (s step) String() string {
	switch s {
	case stepName:
		return "name"
	case stepDate:
		return "date"
	case stepTime:
		return "time"
	case stepRecurrence:
		return "recurrence"
	case stepDelete:
		return "delete"
	default:
		return "idle"
	}
}

// session is one user's in-progress conversation.
type session struct {
	step    step
	name    string
	date    string
	clock   string
	touched time.Time
}

// sessions holds conversation state per user. Idle sessions expire after ttl.
type sessions struct {
	mu  sync.Mutex
	m   map[int64]session
	ttl time.Duration
	now func() time.Time
}

func newSessions(ttl time.Duration, now func() time.Time) *sessions {
	return &sessions{m: map[int64]session{}, ttl: ttl, now: now}
}

func (s *sessions) get(user int64) session {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.m[user]
	if !ok {
		return session{}
	}
	if s.ttl > 0 && s.now().Sub(ss.touched) > s.ttl {
		delete(s.m, user)
		return session{}
	}
	return ss
}

func (s *sessions) put(user int64, ss session) {
	ss.touched = s.now()
	s.mu.Lock()
	s.m[user] = ss
	s.mu.Unlock()
}

func (s *sessions) drop(user int64) {
	s.mu.Lock()
	delete(s.m, user)
	s.mu.Unlock()
}

func (s *sessions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
