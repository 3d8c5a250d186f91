package storage

import (
	"context"
	"errors"
	"sync"

	"remindbot/internal/reminder"
)

var errInjected = errors.New("memory store: save failure injected")

// Memory is an in-process store. Saves can be made to fail for tests.
type Memory struct {
	mu       sync.Mutex
	snap     reminder.Snapshot
	saves    int
	failNext int
	closed   bool
}

func NewMemory() *Memory { return &Memory{snap: reminder.Snapshot{}} }

// FailSaves makes the next n saves return an error.
func (m *Memory) FailSaves(n int) {
	m.mu.Lock()
	m.failNext = n
	m.mu.Unlock()
}

// Saves reports how many saves succeeded.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Load(context.Context) (reminder.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.snap.Clone(), nil
}

func (m *Memory) Save(_ context.Context, s reminder.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.failNext > 0 {
		m.failNext--
		return errInjected
	}
	m.snap = s.Clone()
	m.saves++
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
