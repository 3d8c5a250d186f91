package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"remindbot/pkg/logx"
)

// Store persists the whole task mapping. Save replaces the persisted state
// atomically; Load on an empty store returns an empty Snapshot.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
	Close() error
}

// Book is the single owner of task state. Every read-modify-write goes
// through Update, which holds one lock across mutate and save.
type Book struct {
	mu    sync.Mutex
	store Store
	snap  Snapshot
	log   logx.Logger
}

func NewBook(store Store, log logx.Logger) *Book {
	return &Book{store: store, snap: Snapshot{}, log: log.With(logx.String("comp", "book"))}
}

// Load replaces the in-memory view with the persisted one.
func (b *Book) Load(ctx context.Context) error {
	snap, err := b.store.Load(ctx)
	if err != nil {
		b.log.Error("load tasks failed", logx.Err(err))
		return fmt.Errorf("%w: load: %v", ErrPersistence, err)
	}
	if snap == nil {
		snap = Snapshot{}
	}
	b.mu.Lock()
	b.snap = snap
	b.mu.Unlock()
	b.log.Info("tasks loaded", logx.Int("users", len(snap)), logx.Int("tasks", snap.Count()))
	return nil
}

// View runs fn against the committed state. fn must not keep or mutate it.
func (b *Book) View(fn func(Snapshot)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.snap)
}

// Snapshot returns a deep copy of the committed state.
func (b *Book) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap.Clone()
}

// Update applies fn to a copy of the state and commits it only after a
// successful save. An error from fn is returned as is and nothing is saved.
func (b *Book) Update(ctx context.Context, fn func(Snapshot) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.snap.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := b.store.Save(ctx, next); err != nil {
		b.log.Error("save tasks failed", logx.Err(err))
		if errors.Is(err, ErrPersistence) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	b.snap = next
	return nil
}

func (b *Book) Close() error {
	if b.store == nil {
		return nil
	}
	return b.store.Close()
}
