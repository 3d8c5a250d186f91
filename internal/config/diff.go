package config

import (
	"reflect"
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe log fields
// describing them. Secrets such as the bot token are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	osc, nsc := oldCfg.Scheduler, newCfg.Scheduler
	if osc.PollInterval != nsc.PollInterval || osc.InitialDelay != nsc.InitialDelay ||
		osc.CatchUpEnabled() != nsc.CatchUpEnabled() || osc.Workers != nsc.Workers ||
		osc.QueueSize != nsc.QueueSize || osc.FireTimeout != nsc.FireTimeout {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.poll_interval", strings.TrimSpace(nsc.PollInterval)),
			logx.Bool("scheduler.catch_up", nsc.CatchUpEnabled()),
			logx.Int("scheduler.workers", nsc.Workers),
			logx.Int("scheduler.queue_size", nsc.QueueSize),
		)
	}

	on, nn := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if on != nn {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.RetryMax),
			logx.String("notifier.dedup_window", strings.TrimSpace(nn.DedupWindow)),
		)
	}

	ost, nst := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if ost != nst {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nst.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nst.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nst.BusyTimeout)),
		)
	}

	ob, nb := derefBot(oldCfg.Bot), derefBot(newCfg.Bot)
	if ob != nb {
		changed = append(changed, "bot")
		attrs = append(attrs,
			logx.Int("bot.workers", nb.Workers),
			logx.String("bot.command_timeout", strings.TrimSpace(nb.CommandTimeout)),
		)
	}

	od, nd := derefDebug(oldCfg.Debug), derefDebug(newCfg.Debug)
	if od != nd {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(nd.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports the changed settings a running process cannot apply.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		out = append(out, "telegram.token")
	}
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		out = append(out, "telegram.poll_timeout")
	}
	if derefStorage(oldCfg.Storage) != derefStorage(newCfg.Storage) {
		out = append(out, "storage")
	}
	if derefBot(oldCfg.Bot) != derefBot(newCfg.Bot) {
		out = append(out, "bot")
	}
	return out
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefBot(b *BotConfig) BotConfig {
	if b == nil {
		return BotConfig{}
	}
	return *b
}

func derefDebug(d *DebugConfig) DebugConfig {
	if d == nil {
		return DebugConfig{}
	}
	return *d
}
