package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "telegram": {"token": "t0k", "owner_user_ids": [7], "group_log": "-1001:5", "poll_timeout": "10s"},
  "logging": {"level": "debug", "console": true},
  "scheduler": {"poll_interval": "30s", "catch_up": false},
  "storage": {"driver": "sqlite", "path": "./tasks.db"}
}`

const sampleYAML = `
telegram:
  token: t0k
  owner_user_ids: [7]
  group_log: "-1001:5"
  poll_timeout: 10s
logging:
  level: debug
  console: true
scheduler:
  poll_interval: 30s
  catch_up: false
storage:
  driver: sqlite
  path: ./tasks.db
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadJSONAndYAMLAgree(t *testing.T) {
	t.Parallel()
	j, err := NewManager(writeFile(t, "config.json", sampleJSON)).Load()
	require.NoError(t, err)
	y, err := NewManager(writeFile(t, "config.yaml", sampleYAML)).Load()
	require.NoError(t, err)
	require.Equal(t, j, y)

	require.Equal(t, []int64{7}, j.Telegram.OwnerUserIDs)
	require.False(t, j.Scheduler.CatchUpEnabled())
	require.Equal(t, "sqlite", j.Storage.Driver)
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	_, err := NewManager(writeFile(t, "a.json", `{"telegram":{"token":"x"},"plugins":{}}`)).Parse()
	require.Error(t, err)
	require.Contains(t, err.Error(), "plugins")

	_, err = NewManager(writeFile(t, "b.json", `{"telegram":{"token":"x"}} {}`)).Parse()
	require.ErrorContains(t, err, "trailing data")

	_, err = NewManager(writeFile(t, "c.yml", "telegram: [unclosed")).Parse()
	require.ErrorContains(t, err, "yaml")
}

func TestTokenFromEnvironment(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", `{"telegram":{"token":""}}`))
	m.getenv = func(k string) string {
		if k == TokenEnv {
			return " env-token "
		}
		return ""
	}
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "env-token", cfg.Telegram.Token)

	m.getenv = func(string) string { return "" }
	_, err = m.Load()
	require.ErrorContains(t, err, TokenEnv)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"ok", Config{Telegram: TelegramConfig{Token: "x"}}, ""},
		{"bad duration", Config{Telegram: TelegramConfig{Token: "x"}, Scheduler: SchedulerConfig{PollInterval: "soon"}}, "scheduler.poll_interval"},
		{"negative duration", Config{Telegram: TelegramConfig{Token: "x"}, Notifier: &NotifierConfig{RetryBase: "-1s"}}, "notifier.retry_base"},
		{"bad driver", Config{Telegram: TelegramConfig{Token: "x"}, Storage: &StorageConfig{Driver: "redis"}}, "unknown storage.driver"},
		{"sqlite without path", Config{Telegram: TelegramConfig{Token: "x"}, Storage: &StorageConfig{Driver: "sqlite"}}, "storage.path"},
		{"bad group", Config{Telegram: TelegramConfig{Token: "x", GroupLog: "ops"}}, "group_log"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestParseGroupLog(t *testing.T) {
	t.Parallel()
	chat, thread, err := ParseGroupLog("-100123:45")
	require.NoError(t, err)
	require.Equal(t, int64(-100123), chat)
	require.Equal(t, 45, thread)

	chat, thread, err = ParseGroupLog("")
	require.NoError(t, err)
	require.Zero(t, chat)
	require.Zero(t, thread)

	_, _, err = ParseGroupLog("-1:x")
	require.Error(t, err)
}

func TestDurationOr(t *testing.T) {
	t.Parallel()
	d, err := DurationOr("x", "", time.Minute)
	require.NoError(t, err)
	require.Equal(t, time.Minute, d)
	d, err = DurationOr("x", "90s", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, d)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	off := false
	a := &Config{Telegram: TelegramConfig{Token: "a", OwnerUserIDs: []int64{1}}}
	b := &Config{
		Telegram:  TelegramConfig{Token: "a", OwnerUserIDs: []int64{1, 2}},
		Logging:   LoggingConfig{Level: "debug"},
		Scheduler: SchedulerConfig{CatchUp: &off},
	}
	changed, attrs := SummarizeConfigChange(a, b)
	require.Equal(t, []string{"logging", "scheduler", "telegram"}, changed)
	require.NotEmpty(t, attrs)
	require.Empty(t, RestartRequired(a, b))

	changed, _ = SummarizeConfigChange(a, a)
	require.Empty(t, changed)

	c := *a
	c.Storage = &StorageConfig{Driver: "memory"}
	require.Equal(t, []string{"storage"}, RestartRequired(a, &c))
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := writeFile(t, "config.json", `{"telegram":{"token":"x"},"logging":{"level":"info"}}`)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })

	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"x"},"logging":{"level":"bogus-but-allowed"},"storage":{"driver":"redis"}}`), 0o600))
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"x"},"logging":{"level":"debug"}}`), 0o600))

	select {
	case cfg := <-sub:
		require.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
	require.Equal(t, "debug", m.Get().Logging.Level)

	cancel()
	<-done
}
