package bot

import (
	"strconv"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/pkg/tgui"
)

const (
	labelAdd    = "➕ Add task"
	labelList   = "📋 My tasks"
	labelDelete = "🗑 Delete task"
	labelHelp   = "❓ Help"
	labelCancel = "✖ Cancel"
)

const (
	textBusy            = "Busy, try again in a moment."
	textUnknownCommand  = "Unknown command. Send /help for the list of commands."
	textUnauthorized    = "This command is for the bot owner only."
	textCancelled       = "Cancelled."
	textNothingToCancel = "Nothing to cancel."
	textAskName         = "What should I remind you about?"
	textAskDate         = "Enter the date (DD.MM.YYYY):"
	textAskTime         = "Enter the time (HH:MM):"
	textAskRecurrence   = "How often should it repeat?"
	textEmptyList       = "You have no tasks yet."
	textAskDelete       = "Send the number of the task to delete:"
	textFallback        = "Choose an action from the menu or send /help."
	textSaveFailed      = "Could not save your tasks. Please try again later."
)

func mainMenu() [][]string {
	return [][]string{
		{labelAdd, labelList},
		{labelDelete, labelHelp},
	}
}

var recurrenceLabels = map[reminder.Recurrence]string{
	reminder.RecurNone:    "Once",
	reminder.RecurDaily:   "Daily",
	reminder.RecurWeekly:  "Weekly",
	reminder.RecurMonthly: "Monthly",
	reminder.RecurYearly:  "Yearly",
}

func recurrenceMenu() [][]string {
	return [][]string{
		{recurrenceLabels[reminder.RecurNone], recurrenceLabels[reminder.RecurDaily]},
		{recurrenceLabels[reminder.RecurWeekly], recurrenceLabels[reminder.RecurMonthly], recurrenceLabels[reminder.RecurYearly]},
		{labelCancel},
	}
}

// recurrenceFromReply accepts a keyboard label or a rule name.
func recurrenceFromReply(s string) (reminder.Recurrence, error) {
	s = strings.TrimSpace(s)
	for r, label := range recurrenceLabels {
		if strings.EqualFold(s, label) {
			return r, nil
		}
	}
	return reminder.ParseRecurrence(s)
}

func helpText(owner bool) *tgui.Builder {
	b := tgui.New().
		Line(tgui.B("Reminder bot")).
		Blank().
		Line("/addtask - create a reminder").
		Line("/listtasks - show your reminders").
		Line("/deletetask [n] - delete reminder number n").
		Line("/cancel - abort the current dialog").
		Line("/help - this message")
	if owner {
		b.Line("/status - scheduler and delivery status")
	}
	return b.Blank().
		Line("Dates are " + tgui.Code("DD.MM.YYYY") + " and times " + tgui.Code("HH:MM") + ".").
		Keyboard(mainMenu()...)
}

func renderList(items []reminder.Listed) *tgui.Builder {
	b := tgui.New().Line(tgui.B("📋 Your tasks")).Blank()
	for _, it := range items {
		t := it.Task
		b.Line(tgui.H(strconv.Itoa(it.Position)+". ") + tgui.B(tgui.TruncRunes(t.Name, 80)))
		line := "   " + tgui.Esc(t.Date) + " at " + tgui.Esc(t.Time)
		if t.Recurring() {
			line += tgui.H(" 🔁 ") + tgui.Esc(string(t.Recurrence))
		}
		b.Line(line)
		b.Line("   " + tgui.I(listStatus(it)))
	}
	return b.Blank().Line(tgui.H("Total: " + strconv.Itoa(len(items))))
}

func listStatus(it reminder.Listed) string {
	if it.Task.Skipped {
		return "missed"
	}
	if it.Task.Delivered {
		return "delivered"
	}
	return it.Status.Label()
}

func renderCreated(t reminder.Task) *tgui.Builder {
	b := tgui.New().
		Line(tgui.B("✅ Task saved")).
		Line("📝 " + tgui.Esc(t.Name)).
		Line("📅 " + tgui.Esc(t.Date) + " ⏰ " + tgui.Esc(t.Time))
	if t.Recurring() {
		b.Line("🔁 " + tgui.Esc(recurrenceLabels[t.Recurrence]))
	}
	return b.Keyboard(mainMenu()...)
}

func ago(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t).Round(time.Second)
	if d < 0 {
		return "in " + (-d).String()
	}
	return d.String() + " ago"
}
