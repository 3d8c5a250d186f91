package tgui

import (
	"context"
	"strings"

	kit "remindbot/internal/transport"
)

// Builder collects HTML lines and send options into one message.
type Builder struct {
	lines []string
	opt   kit.SendOptions
}

func New() *Builder {
	return &Builder{opt: kit.SendOptions{ParseMode: "HTML", DisablePreview: true}}
}

// Line appends one line. Use Esc for untrusted text.
func (b *Builder) Line(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

// Blank appends an empty line.
func (b *Builder) Blank() *Builder {
	b.lines = append(b.lines, "")
	return b
}

// Keyboard attaches a reply keyboard shown under the input field.
func (b *Builder) Keyboard(rows ...[]string) *Builder {
	b.opt.Keyboard = rows
	b.opt.RemoveKeyboard = false
	return b
}

// HideKeyboard removes any reply keyboard previously shown.
func (b *Builder) HideKeyboard() *Builder {
	b.opt.Keyboard = nil
	b.opt.RemoveKeyboard = true
	return b
}

func (b *Builder) Text() string { return strings.Join(b.lines, "\n") }

func (b *Builder) Options() *kit.SendOptions {
	opt := b.opt
	return &opt
}

func (b *Builder) Send(ctx context.Context, s kit.Sender, to kit.ChatTarget) (kit.MessageRef, error) {
	return s.SendText(ctx, to, b.Text(), b.Options())
}
