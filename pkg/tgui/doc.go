// Package tgui provides small Telegram UI helpers: HTML escaping, text
// trimming and a message builder that carries its own send options.
//
// Builders default to ParseMode "HTML" with previews disabled, and every
// text helper escapes its input.
package tgui
