package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Validate rejects a config the process could not run with. It does not
// touch the filesystem or network.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is empty and %s is not set", TokenEnv))
	}
	if _, _, err := ParseGroupLog(cfg.Telegram.GroupLog); err != nil {
		errs = append(errs, err)
	}

	durs := map[string]string{
		"telegram.poll_timeout":   cfg.Telegram.PollTimeout,
		"scheduler.poll_interval": cfg.Scheduler.PollInterval,
		"scheduler.initial_delay": cfg.Scheduler.InitialDelay,
		"scheduler.fire_timeout":  cfg.Scheduler.FireTimeout,
	}
	if n := cfg.Notifier; n != nil {
		durs["notifier.retry_base"] = n.RetryBase
		durs["notifier.retry_max_delay"] = n.RetryMaxDelay
		durs["notifier.send_timeout"] = n.SendTimeout
		durs["notifier.dedup_window"] = n.DedupWindow
		if n.RatePerSec < 0 || n.RetryMax < 0 || n.HistorySize < 0 {
			errs = append(errs, errors.New("notifier: counts must be >= 0"))
		}
	}
	if b := cfg.Bot; b != nil {
		durs["bot.command_timeout"] = b.CommandTimeout
		durs["bot.session_ttl"] = b.SessionTTL
	}
	if st := cfg.Storage; st != nil {
		durs["storage.busy_timeout"] = st.BusyTimeout
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "file", "json", "memory", "mem":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				errs = append(errs, errors.New("storage.path is required when storage.driver=sqlite"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown storage.driver: %s", st.Driver))
		}
	}
	for path, raw := range durs {
		if _, err := ParseDuration(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Scheduler.Workers < 0 || cfg.Scheduler.QueueSize < 0 {
		errs = append(errs, errors.New("scheduler: workers and queue_size must be >= 0"))
	}
	return errors.Join(errs...)
}

// ParseGroupLog parses "chatID" or "chatID:threadID". Empty yields zeros.
func ParseGroupLog(s string) (chatID int64, threadID int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, nil
	}
	chat, thread, hasThread := strings.Cut(s, ":")
	chatID, err = strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram.group_log: invalid chat id %q", chat)
	}
	if hasThread {
		threadID, err = strconv.Atoi(strings.TrimSpace(thread))
		if err != nil || threadID < 0 {
			return 0, 0, fmt.Errorf("telegram.group_log: invalid thread id %q", thread)
		}
	}
	return chatID, threadID, nil
}

// CatchUpEnabled resolves the scheduler.catch_up default.
func (c SchedulerConfig) CatchUpEnabled() bool {
	return c.CatchUp == nil || *c.CatchUp
}
