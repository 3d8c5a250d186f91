package app

import (
	"strings"
	"time"

	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/debugsrv"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

// The map functions turn file config (strings, optional sections) into the
// runtime configs of each component. Zero values fall through to the
// component's own defaults.

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	pt, err := config.DurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: pt}, nil
}

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler
	out := scheduler.Config{
		CatchUp:   s.CatchUpEnabled(),
		Workers:   s.Workers,
		QueueSize: s.QueueSize,
	}
	var err error
	if out.PollInterval, err = config.DurationOr("scheduler.poll_interval", s.PollInterval, time.Minute); err != nil {
		return scheduler.Config{}, err
	}
	if out.InitialDelay, err = config.DurationOr("scheduler.initial_delay", s.InitialDelay, 5*time.Second); err != nil {
		return scheduler.Config{}, err
	}
	if out.FireTimeout, err = config.DurationOr("scheduler.fire_timeout", s.FireTimeout, time.Minute); err != nil {
		return scheduler.Config{}, err
	}
	return out, nil
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{RetryMax: 3, DedupWindow: 2 * time.Minute}
	if cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.RatePerSec = n.RatePerSec
	out.HistorySize = n.HistorySize
	if n.RetryMax > 0 {
		out.RetryMax = n.RetryMax
	}
	var err error
	if out.RetryBase, err = config.ParseDuration("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDuration("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDuration("notifier.send_timeout", n.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.DurationOr("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: "./tasks_store.json"}, nil
	}
	sc := cfg.Storage
	busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(sc.Path)
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if path == "" && (driver == "" || driver == "file" || driver == "json") {
		path = "./tasks_store.json"
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		BusyTimeout: busy,
		LegacyPath:  strings.TrimSpace(sc.LegacyPath),
	}, nil
}

func mapBot(cfg *config.Config) (bot.Config, error) {
	out := bot.Config{Owners: cfg.Telegram.OwnerUserIDs}
	if cfg.Bot == nil {
		return out, nil
	}
	out.Workers = cfg.Bot.Workers
	out.QueueSize = cfg.Bot.QueueSize
	var err error
	if out.CommandTimeout, err = config.ParseDuration("bot.command_timeout", cfg.Bot.CommandTimeout); err != nil {
		return bot.Config{}, err
	}
	if out.SessionTTL, err = config.ParseDuration("bot.session_ttl", cfg.Bot.SessionTTL); err != nil {
		return bot.Config{}, err
	}
	return out, nil
}

func mapDebug(cfg *config.Config) debugsrv.Config {
	if cfg.Debug == nil {
		return debugsrv.Config{}
	}
	d := cfg.Debug
	return debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
	}
}
