package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"

	"golang.org/x/time/rate"
)

var ErrNoSender = errors.New("notifier has no sender")

// Service sends reminder messages. It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus

	// task id -> suppress resends until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps limits at runtime.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	s.cfg = cfg
	// Burst = rate per sec so a sweep that finds several due tasks is not serialized.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Deliver sends the reminder for t to its chat. Any failure wraps
// reminder.ErrDelivery.
func (s *Service) Deliver(ctx context.Context, t reminder.Task) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if sender == nil {
		return fmt.Errorf("%w: %v", reminder.ErrDelivery, ErrNoSender)
	}
	if cfg.DedupWindow > 0 && s.recentlySent(t.ID) {
		s.log.Warn("reminder already sent, suppressing repeat", logx.String("task", t.ID))
		eventbus.Emit(s.bus, "notifier.deduped", DeliveryEvent{TaskID: t.ID, ChatID: t.ChatID, At: time.Now()})
		return nil
	}

	text, opt := Render(t)
	to := kit.ChatTarget{ChatID: t.ChatID}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := sender.SendText(callCtx, to, text, opt)
		cancel()
		if err == nil {
			s.markSent(t.ID, cfg.DedupWindow)
			s.appendHistory(HistoryItem{At: time.Now(), TaskID: t.ID, ChatID: t.ChatID, Text: t.Name}, cfg.HistorySize)
			eventbus.Emit(s.bus, "notifier.sent", DeliveryEvent{TaskID: t.ID, ChatID: t.ChatID, Attempts: attempt, At: time.Now()})
			return nil
		}
		lastErr = err
		s.log.Debug("reminder send failed", logx.Err(err), logx.String("task", t.ID), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		if err := sleepCtx(ctx, retryDelay(cfg, attempt)); err != nil {
			lastErr = err
			break
		}
	}
	if attempt > maxAttempts {
		attempt = maxAttempts
	}

	s.appendHistory(HistoryItem{At: time.Now(), TaskID: t.ID, ChatID: t.ChatID, Text: t.Name, Error: lastErr.Error()}, cfg.HistorySize)
	eventbus.Emit(s.bus, "notifier.failed", DeliveryEvent{TaskID: t.ID, ChatID: t.ChatID, Attempts: attempt, At: time.Now(), Error: lastErr.Error()})
	return fmt.Errorf("%w: task %s after %d attempt(s): %v", reminder.ErrDelivery, t.ID, attempt, lastErr)
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem, max int) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

func (s *Service) recentlySent(id string) bool {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	until, ok := s.dedup[id]
	return ok && time.Now().Before(until)
}

func (s *Service) markSent(id string, window time.Duration) {
	if window <= 0 {
		return
	}
	now := time.Now()
	s.dmu.Lock()
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[id] = now.Add(window)
	s.dmu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
