package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []reminder.Task
	fails int
	block chan struct{}
	// during runs inside Deliver, before the send is counted.
	during func(reminder.Task)
}

func (n *fakeNotifier) Deliver(ctx context.Context, t reminder.Task) error {
	if n.during != nil {
		n.during(t)
	}
	if n.block != nil {
		select {
		case <-n.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fails > 0 {
		n.fails--
		return errors.New("chat unreachable")
	}
	n.sent = append(n.sent, t)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

var day0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)

type fixture struct {
	store *storage.Memory
	book  *reminder.Book
	clk   *clock
	notif *fakeNotifier
	sched *Service
	mgr   *reminder.Manager
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{store: storage.NewMemory(), clk: &clock{now: day0}, notif: &fakeNotifier{}}
	f.book = reminder.NewBook(f.store, logx.Nop())
	require.NoError(t, f.book.Load(context.Background()))
	f.sched = New(cfg, f.book, f.notif, logx.Nop(), nil, WithClock(f.clk.Now))
	f.mgr = reminder.NewManager(f.book, f.sched, logx.Nop(), reminder.WithClock(f.clk.Now))
	t.Cleanup(func() { _ = f.sched.Stop(context.Background()) })
	return f
}

func (f *fixture) create(t *testing.T, name, date, clock, rule string) reminder.Task {
	t.Helper()
	task, err := f.mgr.Create(context.Background(), reminder.CreateRequest{
		UserID: 100, Name: name, Date: date, Time: clock, Recurrence: rule,
	})
	require.NoError(t, err)
	return task
}

func TestBuyMilkWeeklyEndToEnd(t *testing.T) {
	f := newFixture(t, Config{CatchUp: true})
	task := f.create(t, "Buy milk", "11.03.2026", "09:00", "weekly")

	at := time.Date(2026, 3, 11, 9, 0, 0, 0, time.Local)
	f.clk.Set(at)

	sent, err := f.sched.Fire(context.Background(), task.ID)
	require.NoError(t, err)
	require.True(t, sent)
	require.Equal(t, 1, f.notif.count())

	listed := f.mgr.List(100)
	require.Len(t, listed, 2)

	first, next := listed[0].Task, listed[1].Task
	require.Equal(t, task.ID, first.ID)
	require.True(t, first.Delivered)
	require.NotNil(t, first.DeliveredAt)

	require.Equal(t, "Buy milk", next.Name)
	require.False(t, next.Delivered)
	require.Equal(t, reminder.RecurWeekly, next.Recurrence)
	require.Equal(t, task.ID, next.ParentID)
	require.True(t, next.At.Equal(at.Add(7*24*time.Hour)), "successor at %s", next.At)

	// Persisted, not only in memory.
	saved, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, saved.Count())
}

func TestFireTwiceNotifiesOnce(t *testing.T) {
	f := newFixture(t, Config{CatchUp: true})
	task := f.create(t, "once", "10.03.2026", "12:05", "daily")
	f.clk.Set(day0.Add(10 * time.Minute))

	ok1, err := f.sched.Fire(context.Background(), task.ID)
	require.NoError(t, err)
	ok2, err := f.sched.Fire(context.Background(), task.ID)
	require.NoError(t, err)

	require.True(t, ok1)
	require.False(t, ok2)
	require.Equal(t, 1, f.notif.count())
	// Exactly one successor.
	require.Len(t, f.mgr.List(100), 2)
}

func TestConcurrentFireCollapses(t *testing.T) {
	f := newFixture(t, Config{CatchUp: true})
	task := f.create(t, "race", "10.03.2026", "12:05", "none")
	f.clk.Set(day0.Add(10 * time.Minute))
	f.notif.block = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]bool, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.sched.Fire(context.Background(), task.ID)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(f.notif.block)
	wg.Wait()

	// Late callers that missed the in-flight window see delivered=true.
	ok, err := f.sched.Fire(context.Background(), task.ID)
	require.NoError(t, err)
	require.False(t, ok)

	n := 0
	for _, r := range results {
		if r {
			n++
		}
	}
	require.Equal(t, 1, n)
	require.Equal(t, 1, f.notif.count())
}

func TestDeliveryFailureStaysUndelivered(t *testing.T) {
	f := newFixture(t, Config{CatchUp: true})
	task := f.create(t, "flaky", "10.03.2026", "12:05", "weekly")
	f.clk.Set(day0.Add(10 * time.Minute))
	f.notif.fails = 1

	sent, err := f.sched.Fire(context.Background(), task.ID)
	require.ErrorIs(t, err, reminder.ErrDelivery)
	require.False(t, sent)

	listed := f.mgr.List(100)
	require.Len(t, listed, 1)
	require.False(t, listed[0].Task.Delivered)

	// Next natural cycle retries it.
	require.Equal(t, 1, f.sched.Sweep(context.Background(), f.clk.Now()))
	require.Equal(t, 1, f.notif.count())
	listed = f.mgr.List(100)
	require.Len(t, listed, 2)
	require.True(t, listed[0].Task.Delivered)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	f := newFixture(t, Config{CatchUp: true})
	f.create(t, "a", "10.03.2026", "12:01", "none")
	f.create(t, "b", "10.03.2026", "12:02", "none")
	f.create(t, "c", "10.03.2026", "12:03", "none")
	f.create(t, "later", "10.03.2026", "18:00", "none")
	f.clk.Set(day0.Add(5 * time.Minute))
	f.notif.fails = 1

	require.Equal(t, 3, f.sched.Sweep(context.Background(), f.clk.Now()))
	require.Equal(t, 2, f.notif.count())

	delivered := 0
	for _, l := range f.mgr.List(100) {
		if l.Task.Delivered {
			delivered++
		}
	}
	require.Equal(t, 2, delivered)
}

func TestFireDeletedTaskIsNoop(t *testing.T) {
	f := newFixture(t, Config{CatchUp: true})
	task := f.create(t, "gone", "10.03.2026", "12:05", "daily")
	_, err := f.mgr.Delete(context.Background(), 100, 1)
	require.NoError(t, err)
	f.clk.Set(day0.Add(10 * time.Minute))

	sent, err := f.sched.Fire(context.Background(), task.ID)
	require.NoError(t, err)
	require.False(t, sent)
	require.Zero(t, f.notif.count())
	require.Empty(t, f.mgr.List(100))
}

func TestFireBeforeInstantRearms(t *testing.T) {
	f := newFixture(t, Config{CatchUp: true})
	task := f.create(t, "early", "11.03.2026", "09:00", "none")

	sent, err := f.sched.Fire(context.Background(), task.ID)
	require.NoError(t, err)
	require.False(t, sent)
	require.Zero(t, f.notif.count())
	require.Equal(t, 1, f.sched.Snapshot().Armed)
}

func TestSaveFailureAfterSendKeepsBookConsistent(t *testing.T) {
	f := newFixture(t, Config{CatchUp: true})
	task := f.create(t, "disk", "10.03.2026", "12:05", "weekly")
	f.clk.Set(day0.Add(10 * time.Minute))
	f.store.FailSaves(1)

	sent, err := f.sched.Fire(context.Background(), task.ID)
	require.True(t, sent)
	require.ErrorIs(t, err, reminder.ErrPersistence)

	listed := f.mgr.List(100)
	require.Len(t, listed, 1)
	require.False(t, listed[0].Task.Delivered)

	saved, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.False(t, saved[100][0].Delivered)
}

func TestExactMinuteModeSkipsMissed(t *testing.T) {
	f := newFixture(t, Config{CatchUp: false})
	task := f.create(t, "strict", "10.03.2026", "12:05", "none")

	f.clk.Set(day0.Add(5*time.Minute + 30*time.Second))
	require.True(t, f.sched.Due(mustGet(t, f, task.ID), f.clk.Now()))

	f.clk.Set(day0.Add(7 * time.Minute))
	require.Zero(t, f.sched.Sweep(context.Background(), f.clk.Now()))
	sent, err := f.sched.Fire(context.Background(), task.ID)
	require.NoError(t, err)
	require.False(t, sent)
	require.Zero(t, f.notif.count())

	f.sched.Arm(mustGet(t, f, task.ID))
	require.Zero(t, f.sched.Snapshot().Armed)
}

func TestCatchUpModeFiresLate(t *testing.T) {
	f := newFixture(t, Config{CatchUp: true})
	f.create(t, "late", "10.03.2026", "12:05", "none")
	f.clk.Set(day0.Add(48 * time.Hour))

	require.Equal(t, 1, f.sched.Sweep(context.Background(), f.clk.Now()))
	require.Equal(t, 1, f.notif.count())
}

func TestExactMinuteModeResumesRecurringChain(t *testing.T) {
	f := newFixture(t, Config{CatchUp: false})
	task := f.create(t, "Buy milk", "11.03.2026", "09:00", "weekly")
	at := task.At

	// Offline through the first occurrence; back inside each later 09:00.
	for week := 1; week <= 5; week++ {
		f.clk.Set(at.Add(time.Duration(week)*7*24*time.Hour + 20*time.Second))
		require.Equal(t, 1, f.sched.Sweep(context.Background(), f.clk.Now()), "week %d", week)
		require.Equal(t, week, f.notif.count(), "week %d", week)
	}

	listed := f.mgr.List(100)
	require.Len(t, listed, 7)
	first := listed[0].Task
	require.Equal(t, task.ID, first.ID)
	require.True(t, first.Skipped)
	require.True(t, first.Delivered)
	require.Nil(t, first.DeliveredAt)

	pending := 0
	for i, l := range listed[1:] {
		require.Equal(t, listed[i].Task.ID, l.Task.ParentID)
		if !l.Task.Delivered {
			pending++
			require.True(t, l.Task.At.Equal(at.Add(6*7*24*time.Hour)))
		} else {
			require.False(t, l.Task.Skipped)
		}
	}
	require.Equal(t, 1, pending)
	require.EqualValues(t, 1, f.sched.Snapshot().Skipped)
}

func TestExactMinuteModeSkipsToNextFutureOccurrence(t *testing.T) {
	f := newFixture(t, Config{CatchUp: false})
	task := f.create(t, "stretch", "11.03.2026", "09:00", "daily")
	f.clk.Set(task.At.Add(3*24*time.Hour + 3*time.Hour))

	require.Equal(t, 1, f.sched.Sweep(context.Background(), f.clk.Now()))
	require.Zero(t, f.notif.count())

	listed := f.mgr.List(100)
	require.Len(t, listed, 2)
	require.True(t, listed[0].Task.Skipped)
	next := listed[1].Task
	require.False(t, next.Delivered)
	require.Equal(t, task.ID, next.ParentID)
	require.True(t, next.At.Equal(task.At.Add(4*24*time.Hour)), "next at %s", next.At)
	require.Equal(t, 1, f.sched.Snapshot().Armed)

	// Retired once; later sweeps find nothing.
	require.Zero(t, f.sched.Sweep(context.Background(), f.clk.Now()))
	require.Len(t, f.mgr.List(100), 2)

	saved, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, saved.Count())
}

func TestCatchUpModeDeliversMissedRecurringOnce(t *testing.T) {
	f := newFixture(t, Config{CatchUp: true})
	task := f.create(t, "pills", "10.03.2026", "12:05", "daily")
	f.clk.Set(day0.Add(30 * 24 * time.Hour))
	now := f.clk.Now()

	for i := 0; i < 40; i++ {
		f.sched.Sweep(context.Background(), now)
	}
	require.Equal(t, 1, f.notif.count())

	listed := f.mgr.List(100)
	require.Len(t, listed, 2)
	require.True(t, listed[0].Task.Delivered)
	next := listed[1].Task
	require.False(t, next.Delivered)
	require.Equal(t, task.ID, next.ParentID)
	require.True(t, next.At.After(now), "next at %s", next.At)
	require.False(t, next.At.After(now.Add(24*time.Hour)), "next at %s", next.At)
}

func TestDeliveryRecordedElsewhereIsNotCounted(t *testing.T) {
	f := newFixture(t, Config{CatchUp: true})
	task := f.create(t, "twice", "10.03.2026", "12:05", "weekly")
	f.clk.Set(day0.Add(10 * time.Minute))

	saves := 0
	f.notif.during = func(reminder.Task) {
		require.NoError(t, f.book.Update(context.Background(), func(b reminder.Snapshot) error {
			cur, _ := b.Find(task.ID)
			cur.Delivered = true
			b.Replace(cur)
			return nil
		}))
		saves = f.store.Saves()
	}

	sent, err := f.sched.Fire(context.Background(), task.ID)
	require.NoError(t, err)
	require.True(t, sent)
	require.Equal(t, saves, f.store.Saves())
	require.Zero(t, f.sched.Snapshot().Delivered)
	// No successor from the duplicate path.
	require.Len(t, f.mgr.List(100), 1)
}

func mustGet(t *testing.T, f *fixture, id string) reminder.Task {
	t.Helper()
	task, err := f.mgr.Get(100, id)
	require.NoError(t, err)
	return task
}

func TestStartArmsAndTimersDeliver(t *testing.T) {
	store := storage.NewMemory()
	at := time.Now().Add(50 * time.Millisecond)
	require.NoError(t, store.Save(context.Background(), reminder.Snapshot{
		1: {{ID: "soon", UserID: 1, ChatID: 1, Name: "tick", At: at, Recurrence: reminder.RecurNone, CreatedAt: time.Now()}},
	}))
	book := reminder.NewBook(store, logx.Nop())
	require.NoError(t, book.Load(context.Background()))

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	notif := &fakeNotifier{}
	s := New(Config{CatchUp: true, InitialDelay: time.Hour}, book, notif, logx.Nop(), bus)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.Equal(t, 1, s.Snapshot().Armed)
	require.Eventually(t, func() bool { return notif.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	var types []string
	require.Eventually(t, func() bool {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		default:
		}
		return len(types) >= 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"reminder.fired", "reminder.delivered"}, types)

	snap := s.Snapshot()
	require.True(t, snap.Running)
	require.Equal(t, uint64(1), snap.Delivered)
	require.Zero(t, snap.Pending)
	require.False(t, snap.NextSweep.IsZero())
}

func TestDisarmPreventsFire(t *testing.T) {
	store := storage.NewMemory()
	book := reminder.NewBook(store, logx.Nop())
	require.NoError(t, book.Load(context.Background()))
	notif := &fakeNotifier{}
	s := New(Config{CatchUp: true, InitialDelay: time.Hour}, book, notif, logx.Nop(), nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	task := reminder.Task{ID: "x", UserID: 1, ChatID: 1, At: time.Now().Add(30 * time.Millisecond)}
	require.NoError(t, book.Update(context.Background(), func(b reminder.Snapshot) error {
		b.Add(task)
		return nil
	}))
	s.Arm(task)
	s.Disarm(task.ID)

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, notif.count())
	require.Zero(t, s.Snapshot().Armed)
}

func TestStopThenStartRearms(t *testing.T) {
	f := newFixture(t, Config{CatchUp: true, InitialDelay: time.Hour})
	f.create(t, "tomorrow", "11.03.2026", "09:00", "none")

	require.NoError(t, f.sched.Start(context.Background()))
	require.Equal(t, 1, f.sched.Snapshot().Armed)
	require.NoError(t, f.sched.Stop(context.Background()))
	require.Zero(t, f.sched.Snapshot().Armed)
	require.False(t, f.sched.Snapshot().Running)

	require.NoError(t, f.sched.Start(context.Background()))
	require.Equal(t, 1, f.sched.Snapshot().Armed)
}

func TestDelayedSchedule(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sched := newSweepSchedule(Config{PollInterval: time.Minute, InitialDelay: 5 * time.Second}, now)

	first := sched.Next(now)
	require.Equal(t, now.Add(5*time.Second), first)
	second := sched.Next(first)
	require.Equal(t, first.Add(time.Minute), second)

	var _ cron.Schedule = sched
}

func TestApplyKeepsPoolSizeWhileRunning(t *testing.T) {
	f := newFixture(t, Config{CatchUp: true, Workers: 3, InitialDelay: time.Hour})
	require.NoError(t, f.sched.Start(context.Background()))

	f.sched.Apply(Config{CatchUp: false, Workers: 9, PollInterval: 2 * time.Minute, InitialDelay: time.Hour})
	cfg := f.sched.config()
	require.Equal(t, 3, cfg.Workers)
	require.False(t, cfg.CatchUp)
	require.Equal(t, 2*time.Minute, f.sched.Snapshot().PollInterval)
	require.True(t, f.sched.Snapshot().Running)
}
