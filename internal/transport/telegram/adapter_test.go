package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

func TestSplitShortTextUntouched(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"hi"}, splitTelegramText("hi", 10, ""))
}

func TestSplitPrefersNewlines(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	require.Equal(t, []string{"aaaaaa", "bbbbbb"}, splitTelegramText(s, 10, ""))
}

func TestSplitKeepsRunesAndLength(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("щ", 25)
	parts := splitTelegramText(s, 10, "")
	require.Len(t, parts, 3)
	require.Equal(t, s, strings.Join(parts, ""))
}

func TestSplitAvoidsCuttingTags(t *testing.T) {
	t.Parallel()
	s := "aaaaaaaa<b>x</b>"
	parts := splitTelegramText(s, 10, "HTML")
	require.Equal(t, []string{"aaaaaaaa", "<b>x</b>"}, parts)
}

func TestReplyMarkup(t *testing.T) {
	t.Parallel()

	require.Nil(t, replyMarkup(&kit.SendOptions{}))

	rm := replyMarkup(&kit.SendOptions{Keyboard: [][]string{{"Add task", "My tasks"}, {"Help"}}})
	require.NotNil(t, rm)
	require.True(t, rm.ResizeKeyboard)
	require.Len(t, rm.ReplyKeyboard, 2)
	require.Equal(t, "My tasks", rm.ReplyKeyboard[0][1].Text)

	rm = replyMarkup(&kit.SendOptions{RemoveKeyboard: true, Keyboard: [][]string{{"x"}}})
	require.True(t, rm.RemoveKeyboard)
	require.Empty(t, rm.ReplyKeyboard)
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{Token: "  "}, logx.Nop())
	require.Error(t, err)
}
