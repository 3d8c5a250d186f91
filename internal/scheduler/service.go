package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

type Option func(*Service)

// WithClock replaces time.Now for due checks and delivered stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	log      logx.Logger
	bus      eventbus.Bus
	book     *reminder.Book
	notifier Notifier
	now      func() time.Time

	c       *cron.Cron
	entryID cron.EntryID
	sup     *rtsup.Supervisor
	queue   chan string

	// runtime one-shot timers, versioned so a replaced timer's callback is ignored
	tmu    sync.Mutex
	timers map[string]*time.Timer
	ver    map[string]uint64

	fmu      sync.Mutex
	inFlight map[string]struct{}

	lastSweep atomic.Int64 // unix nano
	fired     atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
	dropped   atomic.Uint64
}

func New(cfg Config, book *reminder.Book, n Notifier, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:      cfg.withDefaults(),
		log:      log.With(logx.String("comp", "scheduler")),
		bus:      bus,
		book:     book,
		notifier: n,
		now:      time.Now,
		timers:   map[string]*time.Timer{},
		ver:      map[string]uint64{},
		inFlight: map[string]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply swaps config at runtime. A changed sweep cadence restarts cron.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	old := s.cfg
	// Queue and pool size are fixed while running.
	if s.queue != nil {
		cfg.Workers = old.Workers
		cfg.QueueSize = old.QueueSize
	}
	s.cfg = cfg
	restart := s.c != nil && (old.PollInterval != cfg.PollInterval || old.InitialDelay != cfg.InitialDelay)
	if restart {
		s.restartCronLocked()
	}
	s.mu.Unlock()

	if old.CatchUp != cfg.CatchUp {
		s.log.Info("catch-up mode changed", logx.Bool("catch_up", cfg.CatchUp))
	}
}

// Start arms every undelivered task, starts the worker pool and the sweep.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return nil
	}
	cfg := s.cfg
	s.queue = make(chan string, cfg.QueueSize)
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// a worker failure must not take the bot down
		rtsup.WithCancelOnError(false),
	)
	q := s.queue
	for i := 0; i < cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("fire.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("fire worker exited unexpectedly")
		})
	}
	s.startCronLocked()
	s.mu.Unlock()

	armed := s.armAll()
	s.log.Info("scheduler started",
		logx.Int("armed", armed),
		logx.Duration("poll_interval", cfg.PollInterval),
		logx.Duration("initial_delay", cfg.InitialDelay),
		logx.Bool("catch_up", cfg.CatchUp),
	)
	return nil
}

// Stop halts triggering and waits for in-progress deliveries until ctx ends.
// Undelivered tasks stay in the book and are re-armed by the next Start.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	c := s.c
	sup := s.sup
	s.c = nil
	s.sup = nil
	s.queue = nil
	s.mu.Unlock()

	s.disarmAll()
	if c == nil {
		return nil
	}

	var err error
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		err = ctx.Err()
	}
	if sup != nil {
		if werr := sup.Stop(ctx); werr != nil && err == nil && !errors.Is(werr, context.Canceled) {
			err = werr
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return err
}

func (s *Service) workerLoop(ctx context.Context, q <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q:
			// Fire logs its own failures.
			_, _ = s.Fire(ctx, id)
		}
	}
}

// enqueue hands id to the worker pool. It never blocks; when the pool is not
// running the id is dropped because Start re-arms from the book.
func (s *Service) enqueue(id string) bool {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Debug("due task dropped: scheduler not running", logx.String("task", id))
		return false
	}
	select {
	case q <- id:
		return true
	default:
		s.dropped.Add(1)
		s.log.Warn("due queue full; task left for next sweep", logx.String("task", id))
		return false
	}
}

// Snapshot reports runtime state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	c := s.c
	eid := s.entryID
	q := s.queue
	s.mu.Unlock()

	snap := Snapshot{
		Running:      c != nil,
		CatchUp:      cfg.CatchUp,
		PollInterval: cfg.PollInterval,
		Fired:        s.fired.Load(),
		Delivered:    s.delivered.Load(),
		Failed:       s.failed.Load(),
		Skipped:      s.skipped.Load(),
		Dropped:      s.dropped.Load(),
	}
	if q != nil {
		snap.QueueLen = len(q)
		snap.QueueCap = cap(q)
	}
	if c != nil && eid != 0 {
		snap.NextSweep = c.Entry(eid).Next
	}
	if ns := s.lastSweep.Load(); ns != 0 {
		snap.LastSweep = time.Unix(0, ns)
	}

	s.tmu.Lock()
	snap.Armed = len(s.timers)
	s.tmu.Unlock()
	s.fmu.Lock()
	snap.InFlight = len(s.inFlight)
	s.fmu.Unlock()
	s.book.View(func(b reminder.Snapshot) { snap.Pending = len(b.Pending()) })
	return snap
}
