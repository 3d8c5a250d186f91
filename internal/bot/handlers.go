package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

func (b *Bot) commands() []Command {
	return []Command{
		{Name: "start", Description: "Show the main menu", Handle: b.cmdStart},
		{Name: "help", Description: "How to use the bot", Label: labelHelp, Handle: b.cmdHelp},
		{Name: "addtask", Description: "Create a reminder", Label: labelAdd, Handle: b.cmdAdd},
		{Name: "listtasks", Description: "Show your reminders", Label: labelList, Handle: b.cmdList},
		{Name: "deletetask", Description: "Delete a reminder", Label: labelDelete, Handle: b.cmdDelete},
		{Name: "cancel", Description: "Abort the current dialog", Label: labelCancel, Handle: b.cmdCancel},
		{Name: "status", Description: "Scheduler status", Access: AccessOwnerOnly, Timeout: 5 * time.Second, Handle: b.cmdStatus},
	}
}

func (b *Bot) replyB(ctx context.Context, req *Request, m *tgui.Builder) error {
	_, err := m.Send(ctx, b.sender, req.Chat)
	return err
}

func (b *Bot) prompt(ctx context.Context, req *Request, text string, rows ...[]string) error {
	m := tgui.New().Line(tgui.Esc(text))
	if len(rows) > 0 {
		m.Keyboard(rows...)
	} else {
		m.HideKeyboard()
	}
	return b.replyB(ctx, req, m)
}

func (b *Bot) cmdStart(ctx context.Context, req *Request) error {
	b.sessions.drop(req.FromID)
	m := tgui.New().
		Line(tgui.B("👋 Hi! I keep your reminders.")).
		Line("Add a task and I will message you when it is due.").
		Keyboard(mainMenu()...)
	return b.replyB(ctx, req, m)
}

func (b *Bot) cmdHelp(ctx context.Context, req *Request) error {
	return b.replyB(ctx, req, helpText(b.isOwner(req.FromID)))
}

func (b *Bot) cmdAdd(ctx context.Context, req *Request) error {
	b.sessions.put(req.FromID, session{step: stepName})
	return b.prompt(ctx, req, textAskName, []string{labelCancel})
}

func (b *Bot) cmdList(ctx context.Context, req *Request) error {
	items := b.tasks.List(req.FromID)
	if len(items) == 0 {
		return b.prompt(ctx, req, textEmptyList, mainMenu()...)
	}
	return b.replyB(ctx, req, renderList(items).Keyboard(mainMenu()...))
}

func (b *Bot) cmdDelete(ctx context.Context, req *Request) error {
	if len(req.Args) > 0 {
		return b.deleteAt(ctx, req, req.Args[0])
	}
	items := b.tasks.List(req.FromID)
	if len(items) == 0 {
		b.sessions.drop(req.FromID)
		return b.prompt(ctx, req, textEmptyList, mainMenu()...)
	}
	b.sessions.put(req.FromID, session{step: stepDelete})
	m := renderList(items).Blank().Line(tgui.Esc(textAskDelete)).Keyboard([]string{labelCancel})
	return b.replyB(ctx, req, m)
}

func (b *Bot) cmdCancel(ctx context.Context, req *Request) error {
	if b.sessions.get(req.FromID).step == stepIdle {
		return b.prompt(ctx, req, textNothingToCancel, mainMenu()...)
	}
	b.sessions.drop(req.FromID)
	return b.prompt(ctx, req, textCancelled, mainMenu()...)
}

func (b *Bot) cmdStatus(ctx context.Context, req *Request) error {
	now := b.now()
	m := tgui.New().Line(tgui.B("⚙️ Status"))
	if b.sched != nil {
		s := b.sched.Snapshot()
		mode := "exact minute"
		if s.CatchUp {
			mode = "catch up"
		}
		m.Blank().
			Line(tgui.B("Scheduler")).
			Line(tgui.Esc("running: " + strconv.FormatBool(s.Running) + ", mode: " + mode)).
			Line(tgui.Esc("pending: " + strconv.Itoa(s.Pending) + ", armed: " + strconv.Itoa(s.Armed) + ", in flight: " + strconv.Itoa(s.InFlight))).
			Line(tgui.Esc("queue: " + strconv.Itoa(s.QueueLen) + "/" + strconv.Itoa(s.QueueCap))).
			Line(tgui.Esc("sweep every " + s.PollInterval.String() + ", last " + ago(now, s.LastSweep) + ", next " + ago(now, s.NextSweep))).
			Line(tgui.Esc("fired " + u64(s.Fired) + ", delivered " + u64(s.Delivered) + ", failed " + u64(s.Failed) + ", skipped " + u64(s.Skipped) + ", dropped " + u64(s.Dropped)))
	}
	if b.notif != nil {
		hist := b.notif.History()
		m.Blank().Line(tgui.B("Recent deliveries"))
		if len(hist) == 0 {
			m.Line(tgui.I("none"))
		}
		// newest last in the ring; show the last five
		if len(hist) > 5 {
			hist = hist[len(hist)-5:]
		}
		for _, h := range hist {
			mark := "✅"
			if h.Error != "" {
				mark = "❌"
			}
			line := mark + " " + h.At.Format("02.01 15:04:05") + " " + tgui.TruncRunes(h.Text, 40)
			if h.Error != "" {
				line += " (" + tgui.TruncRunes(h.Error, 80) + ")"
			}
			m.Line(tgui.Esc(line))
		}
	}
	m.Blank().Line(tgui.Esc("open dialogs: " + strconv.Itoa(b.sessions.len())))
	return b.replyB(ctx, req, m)
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

// onText advances the user's dialog with a free-text reply.
func (b *Bot) onText(ctx context.Context, req *Request) error {
	ss := b.sessions.get(req.FromID)
	switch ss.step {
	case stepName:
		name, err := reminder.CheckName(req.Text)
		if err != nil {
			return b.invalidInput(ctx, req, err, textAskName)
		}
		ss.name = name
		ss.step = stepDate
		b.sessions.put(req.FromID, ss)
		return b.prompt(ctx, req, textAskDate, []string{labelCancel})

	case stepDate:
		day, err := b.tasks.CheckDate(req.Text)
		if err != nil {
			return b.invalidInput(ctx, req, err, textAskDate)
		}
		ss.date = day.Format(reminder.DateLayout)
		ss.step = stepTime
		b.sessions.put(req.FromID, ss)
		return b.prompt(ctx, req, textAskTime, []string{labelCancel})

	case stepTime:
		at, err := b.tasks.CheckInstant(ss.date, req.Text)
		if err != nil {
			var ve *reminder.ValidationError
			if errors.As(err, &ve) && ve.Field == "date" {
				// The day rolled over while the dialog was open.
				ss.step = stepDate
				b.sessions.put(req.FromID, ss)
				return b.invalidInput(ctx, req, err, textAskDate)
			}
			return b.invalidInput(ctx, req, err, textAskTime)
		}
		ss.clock = at.Format(reminder.TimeLayout)
		ss.step = stepRecurrence
		b.sessions.put(req.FromID, ss)
		return b.prompt(ctx, req, textAskRecurrence, recurrenceMenu()...)

	case stepRecurrence:
		rule, err := recurrenceFromReply(req.Text)
		if err != nil {
			return b.invalidInput(ctx, req, err, textAskRecurrence, recurrenceMenu()...)
		}
		return b.finishCreate(ctx, req, ss, rule)

	case stepDelete:
		return b.deleteAt(ctx, req, req.Text)

	default:
		return b.prompt(ctx, req, textFallback, mainMenu()...)
	}
}

func (b *Bot) finishCreate(ctx context.Context, req *Request, ss session, rule reminder.Recurrence) error {
	t, err := b.tasks.Create(ctx, reminder.CreateRequest{
		UserID:     req.FromID,
		ChatID:     req.Chat.ChatID,
		Name:       ss.name,
		Date:       ss.date,
		Time:       ss.clock,
		Recurrence: string(rule),
	})
	switch {
	case err == nil:
		b.sessions.drop(req.FromID)
		return b.replyB(ctx, req, renderCreated(t))
	case errors.Is(err, reminder.ErrValidation):
		// The chosen minute passed while the user picked a rule.
		ss.step = stepTime
		b.sessions.put(req.FromID, ss)
		return b.invalidInput(ctx, req, err, textAskTime)
	case errors.Is(err, reminder.ErrPersistence):
		b.sessions.drop(req.FromID)
		req.Logger.Error("create failed", logx.Err(err))
		return b.prompt(ctx, req, textSaveFailed, mainMenu()...)
	default:
		b.sessions.drop(req.FromID)
		return err
	}
}

func (b *Bot) deleteAt(ctx context.Context, req *Request, arg string) error {
	pos, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(arg), ".")))
	if err != nil {
		n := len(b.tasks.List(req.FromID))
		if n == 0 {
			b.sessions.drop(req.FromID)
			return b.prompt(ctx, req, textEmptyList, mainMenu()...)
		}
		b.sessions.put(req.FromID, session{step: stepDelete})
		return b.prompt(ctx, req, "Please send a number from 1 to "+strconv.Itoa(n)+".", []string{labelCancel})
	}

	t, err := b.tasks.Delete(ctx, req.FromID, pos)
	var re *reminder.RangeError
	switch {
	case err == nil:
		b.sessions.drop(req.FromID)
		m := tgui.New().
			Line(tgui.Esc("🗑 Deleted: ") + tgui.B(t.Name)).
			Keyboard(mainMenu()...)
		return b.replyB(ctx, req, m)
	case errors.As(err, &re):
		if re.Count == 0 {
			b.sessions.drop(req.FromID)
			return b.prompt(ctx, req, textEmptyList, mainMenu()...)
		}
		b.sessions.put(req.FromID, session{step: stepDelete})
		return b.prompt(ctx, req, "There is no task "+strconv.Itoa(pos)+". Send a number from 1 to "+strconv.Itoa(re.Count)+".", []string{labelCancel})
	case errors.Is(err, reminder.ErrPersistence):
		b.sessions.drop(req.FromID)
		req.Logger.Error("delete failed", logx.Err(err))
		return b.prompt(ctx, req, textSaveFailed, mainMenu()...)
	default:
		b.sessions.drop(req.FromID)
		return err
	}
}

// invalidInput explains a rejected reply and repeats the question.
func (b *Bot) invalidInput(ctx context.Context, req *Request, err error, ask string, rows ...[]string) error {
	msg := "Invalid input."
	var ve *reminder.ValidationError
	if errors.As(err, &ve) {
		msg = "Invalid " + ve.Field + ": " + ve.Reason + "."
	}
	if len(rows) == 0 {
		rows = [][]string{{labelCancel}}
	}
	return b.prompt(ctx, req, msg+"\n"+ask, rows...)
}
