package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Open initializes the configured store and, if the store is empty and a
// legacy file is configured, seeds it from that file.
func Open(ctx context.Context, cfg Config, log logx.Logger) (reminder.Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	var (
		st  reminder.Store
		err error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file", "json":
		st, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(ctx, cfg, log)
	case "memory", "mem":
		st = NewMemory()
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}

	if p := strings.TrimSpace(cfg.LegacyPath); p != "" {
		if err := importLegacyIfEmpty(ctx, st, p, log); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("legacy import: %w", err)
		}
	}
	return st, nil
}

func importLegacyIfEmpty(ctx context.Context, st reminder.Store, path string, log logx.Logger) error {
	cur, err := st.Load(ctx)
	if err != nil {
		return err
	}
	if cur.Count() > 0 {
		return nil
	}
	snap, ok, err := ReadLegacy(path)
	if err != nil || !ok {
		return err
	}
	if err := st.Save(ctx, snap); err != nil {
		return err
	}
	log.Info("imported legacy tasks", logx.String("path", path), logx.Int("tasks", snap.Count()))
	return nil
}
