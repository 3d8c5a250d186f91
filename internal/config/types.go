package config

// Config is the on-disk configuration. JSON and YAML files share this shape;
// durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Bot       *BotConfig      `json:"bot,omitempty"`
	Debug     *DebugConfig    `json:"debug,omitempty"`
}

type TelegramConfig struct {
	// Token falls back to $TELEGRAM_BOT_TOKEN when empty.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id ("-100123" or "-100123:45" with a topic) that
	// receives mirrored warnings when logging.telegram is enabled.
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls when reminders fire.
//
// Defaults:
//   - poll_interval: "60s"
//   - initial_delay: "5s"
//   - catch_up: true
//   - workers: 2
//   - queue_size: 256
//   - fire_timeout: "1m"
type SchedulerConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	InitialDelay string `json:"initial_delay,omitempty"`
	// CatchUp is a pointer so an omitted key keeps the default of true.
	CatchUp     *bool  `json:"catch_up,omitempty"`
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	FireTimeout string `json:"fire_timeout,omitempty"`
}

// NotifierConfig controls reminder delivery. Zero values keep the defaults.
type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout"`
	DedupWindow   string `json:"dedup_window"`
	HistorySize   int    `json:"history_size"`
}

// StorageConfig selects the task store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tasks.db", "legacy_path": "./tasks.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	LegacyPath  string `json:"legacy_path,omitempty"`
}

type BotConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
	SessionTTL     string `json:"session_ttl,omitempty"`
}

// DebugConfig controls the operator HTTP endpoint (/healthz, /status, pprof).
// Prefer a loopback addr; a public one needs a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
