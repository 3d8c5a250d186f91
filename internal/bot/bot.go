// Package bot is the Telegram conversation front-end: command routing,
// the reply-keyboard menu and the add/delete dialogs.
package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Description string
	// Label is the reply-keyboard button that triggers the same handler.
	Label   string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Text    string
	ReqID   string
	Logger  logx.Logger
}

// Tasks is the task manager surface the dialogs need.
type Tasks interface {
	Create(ctx context.Context, req reminder.CreateRequest) (reminder.Task, error)
	List(userID int64) []reminder.Listed
	Delete(ctx context.Context, userID int64, position int) (reminder.Task, error)
	CheckDate(s string) (time.Time, error)
	CheckInstant(date, clock string) (time.Time, error)
}

type SchedulerStatus interface {
	Snapshot() scheduler.Snapshot
}

type DeliveryHistory interface {
	History() []notifier.HistoryItem
}

type Config struct {
	Owners         []int64
	Workers        int
	QueueSize      int
	CommandTimeout time.Duration
	SessionTTL     time.Duration
}

type Deps struct {
	Sender    kit.Sender
	Tasks     Tasks
	Scheduler SchedulerStatus
	Notifier  DeliveryHistory
	Log       logx.Logger
	Now       func() time.Time
}

type Bot struct {
	mu     sync.RWMutex
	owners []int64

	cfg      Config
	log      logx.Logger
	sender   kit.Sender
	tasks    Tasks
	sched    SchedulerStatus
	notif    DeliveryHistory
	now      func() time.Time
	sessions *sessions

	cmds   map[string]Command
	labels map[string]string // keyboard label -> command name
	order  []string
}

func New(cfg Config, d Deps) *Bot {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
		if cfg.Workers < 2 {
			cfg.Workers = 2
		}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	b := &Bot{
		owners:   append([]int64(nil), cfg.Owners...),
		cfg:      cfg,
		log:      d.Log.With(logx.String("comp", "bot")),
		sender:   d.Sender,
		tasks:    d.Tasks,
		sched:    d.Scheduler,
		notif:    d.Notifier,
		now:      d.Now,
		sessions: newSessions(cfg.SessionTTL, d.Now),
	}
	b.register(b.commands())
	return b
}

func (b *Bot) register(cmds []Command) {
	b.cmds = map[string]Command{}
	b.labels = map[string]string{}
	b.order = b.order[:0]
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		b.cmds[c.Name] = c
		b.order = append(b.order, c.Name)
		if c.Label != "" {
			b.labels[c.Label] = c.Name
		}
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly. Safe during hot reload.
func (b *Bot) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	b.mu.Lock()
	b.owners = cp
	b.mu.Unlock()
}

func (b *Bot) isOwner(id int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, o := range b.owners {
		if o == id {
			return true
		}
	}
	return false
}

// MenuCommands lists the public commands for the client's / menu.
func (b *Bot) MenuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(b.order))
	for _, name := range b.order {
		c := b.cmds[name]
		if c.Access != AccessEveryone {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// Run dispatches updates to a worker pool until ctx ends or updates closes.
// Updates from one chat always land on the same worker, so a user's
// dialog messages are handled in order.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	workers := b.cfg.Workers
	sup := rtsup.New(ctx,
		rtsup.WithLogger(b.log),
		rtsup.WithCancelOnError(false),
	)
	shards := make([]chan func(), workers)
	for i := range shards {
		ch := make(chan func(), b.cfg.QueueSize)
		shards[i] = ch
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-ch:
					b.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	b.publishMenu(sup)
	b.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("queue", b.cfg.QueueSize))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		b.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			ch := shards[shardFor(up.Message.ChatID, workers)]
			job := func() { _ = b.HandleUpdate(sup.Context(), up) }
			select {
			case ch <- job:
			default:
				chat := kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}
				_, _ = b.sender.SendText(ctx, chat, textBusy, nil)
			}
		}
	}
}

func (b *Bot) runJob(idx int, job func()) {
	// Middleware already recovers handler panics; this keeps the worker alive
	// if routing itself panics.
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic in bot job", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func shardFor(chatID int64, n int) int {
	if chatID < 0 {
		chatID = -chatID
	}
	return int(chatID % int64(n))
}

func (b *Bot) publishMenu(sup *rtsup.Supervisor) {
	up, ok := b.sender.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := b.MenuCommands()
	sup.Go("telegram.menu.update", func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(cctx, menu); err != nil {
			b.log.Warn("menu update failed", logx.Err(err))
		}
		return nil
	})
}

// HandleUpdate routes one update and runs its handler synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, up kit.Update) error {
	msg := up.Message
	if msg == nil {
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	req := &Request{
		Update: up,
		Chat:   kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID: msg.FromID,
		Text:   text,
		ReqID:  newReqID(),
	}

	var (
		cmd   Command
		found bool
	)
	switch {
	case strings.HasPrefix(text, "/"):
		parts := tokenizeCommandLine(text)
		if len(parts) == 0 {
			return nil
		}
		cmd, found = b.cmds[commandWord(parts[0])]
		if !found {
			_, err := b.sender.SendText(ctx, req.Chat, textUnknownCommand, nil)
			return err
		}
		req.Args = parts[1:]
	default:
		if name, ok := b.labels[text]; ok {
			cmd, found = b.cmds[name], true
		}
	}

	var h HandlerFunc
	timeout := b.cfg.CommandTimeout
	if found {
		if cmd.Access == AccessOwnerOnly && !b.isOwner(msg.FromID) {
			_, err := b.sender.SendText(ctx, req.Chat, textUnauthorized, nil)
			return err
		}
		req.Command = cmd.Name
		h = cmd.Handle
		if cmd.Timeout > 0 {
			timeout = cmd.Timeout
		}
	} else {
		req.Command = "dialog"
		h = b.onText
	}

	req.Logger = b.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", req.Command),
	)
	final := Chain(h,
		MWPanicRecover(),
		MWRequestLog(),
		MWTimeout(timeout),
	)
	return final(ctx, req)
}
