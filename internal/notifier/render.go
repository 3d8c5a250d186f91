package notifier

import (
	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	"remindbot/pkg/tgui"
)

// Render builds the reminder message for t.
func Render(t reminder.Task) (string, *kit.SendOptions) {
	b := tgui.New().
		Line(tgui.B("🔔 Reminder!")).
		Blank().
		Line("📝 Task: " + tgui.Esc(t.Name)).
		Line("📅 Date: " + tgui.Esc(t.Date)).
		Line("⏰ Time: " + tgui.Esc(t.Time))
	if t.Recurring() {
		b.Line("🔁 Repeats: " + tgui.Esc(string(t.Recurrence)))
	}
	return b.Text(), b.Options()
}
