package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const (
	ownerID = int64(7)
	userID  = int64(42)
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)

type sent struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	menu []kit.BotCommand
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{to: to, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.msgs)}, nil
}

func (f *fakeSender) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) last(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.msgs)
	return f.msgs[len(f.msgs)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type fakeStatus struct{}

func (fakeStatus) Snapshot() scheduler.Snapshot {
	return scheduler.Snapshot{Running: true, CatchUp: true, Pending: 3, PollInterval: time.Minute, Fired: 9}
}

type harness struct {
	bot    *Bot
	sender *fakeSender
	mgr    *reminder.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := func() time.Time { return testNow }
	book := reminder.NewBook(storage.NewMemory(), logx.Nop())
	require.NoError(t, book.Load(context.Background()))
	mgr := reminder.NewManager(book, nil, logx.Nop(), reminder.WithClock(now))
	s := &fakeSender{}
	b := New(Config{Owners: []int64{ownerID}, Workers: 2}, Deps{
		Sender:    s,
		Tasks:     mgr,
		Scheduler: fakeStatus{},
		Log:       logx.Nop(),
		Now:       now,
	})
	return &harness{bot: b, sender: s, mgr: mgr}
}

func (h *harness) say(t *testing.T, from int64, text string) sent {
	t.Helper()
	up := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text}}
	require.NoError(t, h.bot.HandleUpdate(context.Background(), up))
	return h.sender.last(t)
}

func TestAddTaskDialog(t *testing.T) {
	h := newHarness(t)

	require.Contains(t, h.say(t, userID, "/addtask").text, textAskName)
	require.Contains(t, h.say(t, userID, "Buy milk").text, "date")
	require.Contains(t, h.say(t, userID, "11/3/2026").text, "time")

	out := h.say(t, userID, "09:00")
	require.Contains(t, out.text, textAskRecurrence)
	require.NotNil(t, out.opt)
	require.Contains(t, out.opt.Keyboard[1], "Weekly")

	out = h.say(t, userID, "Weekly")
	require.Contains(t, out.text, "Task saved")
	require.Contains(t, out.text, "11.03.2026")
	require.Equal(t, mainMenu(), out.opt.Keyboard)

	items := h.mgr.List(userID)
	require.Len(t, items, 1)
	require.Equal(t, "Buy milk", items[0].Task.Name)
	require.Equal(t, reminder.RecurWeekly, items[0].Task.Recurrence)
	require.True(t, items[0].Task.At.Equal(time.Date(2026, 3, 11, 9, 0, 0, 0, time.Local)))
	require.Equal(t, userID, items[0].Task.ChatID)
	require.Equal(t, stepIdle, h.bot.sessions.get(userID).step)
}

func TestAddTaskRejectsPastInput(t *testing.T) {
	h := newHarness(t)
	h.say(t, userID, "/addtask")

	out := h.say(t, userID, "   ")
	require.Contains(t, out.text, "Invalid name")
	require.Equal(t, stepName, h.bot.sessions.get(userID).step)

	h.say(t, userID, "Call mom")
	out = h.say(t, userID, "09.03.2026")
	require.Contains(t, out.text, "date is in the past")
	require.Equal(t, stepDate, h.bot.sessions.get(userID).step)

	out = h.say(t, userID, "31.02.2026")
	require.Contains(t, out.text, "no such calendar day")

	h.say(t, userID, "10.03.2026")
	out = h.say(t, userID, "11:59")
	require.Contains(t, out.text, "time is in the past")
	require.Equal(t, stepTime, h.bot.sessions.get(userID).step)

	out = h.say(t, userID, "25:00")
	require.Contains(t, out.text, "HH:MM")

	h.say(t, userID, "12:30")
	out = h.say(t, userID, "fortnightly")
	require.Contains(t, out.text, "Invalid recurrence")
	require.Equal(t, stepRecurrence, h.bot.sessions.get(userID).step)

	out = h.say(t, userID, "once")
	require.Contains(t, out.text, "Task saved")
	require.Len(t, h.mgr.List(userID), 1)
}

func TestListTasks(t *testing.T) {
	h := newHarness(t)
	out := h.say(t, userID, labelList)
	require.Contains(t, out.text, textEmptyList)

	ctx := context.Background()
	_, err := h.mgr.Create(ctx, reminder.CreateRequest{UserID: userID, Name: "Later", Date: "20.03.2026", Time: "10:00"})
	require.NoError(t, err)
	_, err = h.mgr.Create(ctx, reminder.CreateRequest{UserID: userID, Name: "Soon <b>", Date: "10.03.2026", Time: "15:00", Recurrence: "daily"})
	require.NoError(t, err)

	out = h.say(t, userID, "/listtasks")
	require.Less(t, strings.Index(out.text, "1. "), strings.Index(out.text, "2. "))
	require.Less(t, strings.Index(out.text, "Soon"), strings.Index(out.text, "Later"))
	require.Contains(t, out.text, "Soon &lt;b&gt;")
	require.Contains(t, out.text, "in 3 h")
	require.Contains(t, out.text, "in 9 d")
	require.Contains(t, out.text, "Total: 2")
	require.Equal(t, "HTML", out.opt.ParseMode)
}

func TestDeleteDialog(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, n := range []string{"A", "B"} {
		_, err := h.mgr.Create(ctx, reminder.CreateRequest{UserID: userID, Name: n, Date: "11.03.2026", Time: "10:00"})
		require.NoError(t, err)
	}

	out := h.say(t, userID, labelDelete)
	require.Contains(t, out.text, textAskDelete)
	require.Equal(t, stepDelete, h.bot.sessions.get(userID).step)

	out = h.say(t, userID, "5")
	require.Contains(t, out.text, "from 1 to 2")
	require.Equal(t, stepDelete, h.bot.sessions.get(userID).step)

	out = h.say(t, userID, "two")
	require.Contains(t, out.text, "from 1 to 2")

	out = h.say(t, userID, "1")
	require.Contains(t, out.text, "Deleted")
	require.Len(t, h.mgr.List(userID), 1)
	require.Equal(t, stepIdle, h.bot.sessions.get(userID).step)

	out = h.say(t, userID, "/deletetask 1")
	require.Contains(t, out.text, "Deleted")
	require.Empty(t, h.mgr.List(userID))

	out = h.say(t, userID, "/deletetask")
	require.Contains(t, out.text, textEmptyList)
}

func TestDeleteOnlyTouchesOwnTasks(t *testing.T) {
	h := newHarness(t)
	_, err := h.mgr.Create(context.Background(), reminder.CreateRequest{UserID: ownerID, Name: "Theirs", Date: "11.03.2026", Time: "10:00"})
	require.NoError(t, err)

	out := h.say(t, userID, "/deletetask 1")
	require.Contains(t, out.text, textEmptyList)
	require.Len(t, h.mgr.List(ownerID), 1)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	require.Contains(t, h.say(t, userID, "/cancel").text, textNothingToCancel)

	h.say(t, userID, "/addtask")
	h.say(t, userID, "Gym")
	require.Contains(t, h.say(t, userID, labelCancel).text, textCancelled)
	require.Equal(t, stepIdle, h.bot.sessions.get(userID).step)

	require.Contains(t, h.say(t, userID, "hello").text, textFallback)
}

func TestSessionsExpire(t *testing.T) {
	now := testNow
	ss := newSessions(time.Minute, func() time.Time { return now })
	ss.put(userID, session{step: stepDate, name: "x"})
	require.Equal(t, stepDate, ss.get(userID).step)
	now = now.Add(2 * time.Minute)
	require.Equal(t, stepIdle, ss.get(userID).step)
	require.Zero(t, ss.len())
}

func TestRoutingAndAccess(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, textUnknownCommand, h.say(t, userID, "/nope").text)
	require.Equal(t, textUnauthorized, h.say(t, userID, "/status").text)

	out := h.say(t, ownerID, "/status@RemindBot")
	require.Contains(t, out.text, "pending: 3")
	require.Contains(t, out.text, "fired 9")

	require.NotContains(t, h.say(t, userID, "/help").text, "/status")
	require.Contains(t, h.say(t, ownerID, labelHelp).text, "/status")

	h.bot.SetOwners(nil)
	require.Equal(t, textUnauthorized, h.say(t, ownerID, "/status").text)
}

func TestMenuCommands(t *testing.T) {
	h := newHarness(t)
	var names []string
	for _, c := range h.bot.MenuCommands() {
		names = append(names, c.Command)
	}
	require.Equal(t, []string{"start", "help", "addtask", "listtasks", "deletetask", "cancel"}, names)
}

func TestRunDispatchesAndStops(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 4)
	done := make(chan error, 1)
	go func() { done <- h.bot.Run(ctx, updates) }()

	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: userID, FromID: userID, Text: "/start"}}
	require.Eventually(t, func() bool { return h.sender.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		h.sender.mu.Lock()
		defer h.sender.mu.Unlock()
		return len(h.sender.menu) == 6
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"/deletetask", "2"}, tokenizeCommandLine(`/deletetask "2"`))
	require.Equal(t, []string{"/a", "b c", "d"}, tokenizeCommandLine(`/a 'b c'  d`))
	require.Equal(t, "deletetask", commandWord("/DeleteTask@RemindBot"))
	require.Equal(t, []string{"/addtask", `say "hi"`}, tokenizeCommandLine(`/addtask say\ \"hi\"`))
	require.Nil(t, tokenizeCommandLine("   "))
	require.Equal(t, 1, shardFor(-7, 2))
}

func TestListStatusMarksSkippedOccurrences(t *testing.T) {
	t.Parallel()
	stamp := testNow
	cases := []struct {
		task reminder.Task
		want string
	}{
		{reminder.Task{Delivered: true, DeliveredAt: &stamp}, "delivered"},
		{reminder.Task{Delivered: true, Skipped: true}, "missed"},
		{reminder.Task{At: testNow.Add(-time.Minute)}, "overdue"},
	}
	for _, tc := range cases {
		it := reminder.Listed{Task: tc.task, Status: reminder.StatusAt(tc.task.At, testNow)}
		require.Equal(t, tc.want, listStatus(it))
	}
}

func TestMiddlewareChain(t *testing.T) {
	t.Parallel()
	var order []string
	tag := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	req := &Request{Command: "boom"}
	h := Chain(func(ctx context.Context, _ *Request) error {
		_, ok := ctx.Deadline()
		require.True(t, ok)
		panic("bad handler")
	}, tag("outer"), MWPanicRecover(), MWRequestLog(), tag("inner"), MWTimeout(time.Second))

	err := h(context.Background(), req)
	require.ErrorContains(t, err, "handler boom panicked: bad handler")
	require.Equal(t, []string{"outer", "inner"}, order)
}
