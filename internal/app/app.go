// Package app wires the reminder components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/debugsrv"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	book  *reminder.Book
	tasks *reminder.Manager
	sched *scheduler.Service
	notif *notifier.Service
	bot   *bot.Bot
	debug *debugsrv.Service

	adapter kit.Adapter
	updates chan kit.Update
}

// NewApp loads the config at cfgPath and builds every component. Nothing
// runs until Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	tc, err := mapTelegram(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tc, logx.NewConsole("INFO"))
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfgm, cfg, ad)
}

func newApp(ctx context.Context, cfgm *config.Manager, cfg *config.Config, ad kit.Adapter) (*App, error) {
	// Bootstrap with the Telegram sink off so Apply does not warn before the
	// target chat is known.
	logCfg := mapLogging(cfg)
	final := logCfg
	logCfg.Telegram.Enabled = false
	logSvc, root := logx.New(logCfg, ad)
	if chatID, threadID, err := config.ParseGroupLog(cfg.Telegram.GroupLog); err == nil {
		logSvc.SetTelegramTarget(chatID, threadID)
	}
	logSvc.Apply(final)
	log := root.With(logx.String("comp", "app"))

	fail := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}

	sc, err := mapStorage(cfg)
	if err != nil {
		return fail(err)
	}
	store, err := storage.Open(ctx, sc, root)
	if err != nil {
		return fail(fmt.Errorf("open storage: %w", err))
	}
	book := reminder.NewBook(store, root)
	if err := book.Load(ctx); err != nil {
		_ = store.Close()
		return fail(err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver), logx.Int("tasks", book.Snapshot().Count()))

	bus := eventbus.New()

	ncfg, err := mapNotifier(cfg)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}
	notif := notifier.New(ncfg, ad, root, bus)

	scfg, err := mapScheduler(cfg)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}
	sched := scheduler.New(scfg, book, notif, root, bus)
	tasks := reminder.NewManager(book, sched, root)

	bcfg, err := mapBot(cfg)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}
	b := bot.New(bcfg, bot.Deps{
		Sender:    ad,
		Tasks:     tasks,
		Scheduler: sched,
		Notifier:  notif,
		Log:       root,
	})

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		book:    book,
		tasks:   tasks,
		sched:   sched,
		notif:   notif,
		bot:     b,
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	a.debug = debugsrv.New(mapDebug(cfg), a.status, root)
	return a, nil
}

// statusDoc is served at /status by the debug endpoint.
type statusDoc struct {
	Scheduler  scheduler.Snapshot     `json:"scheduler"`
	Deliveries []notifier.HistoryItem `json:"deliveries"`
	Tasks      int                    `json:"tasks"`
}

func (a *App) status() any {
	return statusDoc{
		Scheduler:  a.sched.Snapshot(),
		Deliveries: a.notif.History(),
		Tasks:      a.book.Snapshot().Count(),
	}
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// validate rejects a reloaded config any component would refuse.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapScheduler(cfg); err != nil {
		return err
	}
	if _, err := mapNotifier(cfg); err != nil {
		return err
	}
	if _, err := mapBot(cfg); err != nil {
		return err
	}
	_, err := mapStorage(cfg)
	return err
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(a.validate)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.bot.Run(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts to the newest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.debug.Start(a.sup.Context())
	a.sup.Go0("systemd.watchdog", func(c context.Context) { runWatchdog(c, a.log) })

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// applyConfig pushes the hot-reloadable parts of next into the running
// components. Storage, token and bot pool changes need a restart.
func (a *App) applyConfig(last, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(last, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if need := config.RestartRequired(last, next); len(need) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("keys", strings.Join(need, ",")))
	}

	chatID, threadID, _ := config.ParseGroupLog(next.Telegram.GroupLog)
	a.logs.SetTelegramTarget(chatID, threadID)
	a.logs.Apply(mapLogging(next))

	a.bot.SetOwners(next.Telegram.OwnerUserIDs)

	if scfg, err := mapScheduler(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(scfg)
	}
	if ncfg, err := mapNotifier(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	if a.sup != nil {
		a.debug.Reconfigure(a.sup.Context(), mapDebug(next))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		_ = a.book.Close()
		return a.logs.Close()
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	a.step(ctx, "scheduler", 3*time.Second, a.sched.Stop)
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.book.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = rem
		}
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
