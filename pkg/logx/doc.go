// Package logx is remindbot's structured logging on top of zerolog.
//
// A Service owns the sinks (console, JSON file, and an optional
// rate-limited Telegram chat) and swaps them on Apply without invalidating
// the Loggers handed out earlier.
package logx
