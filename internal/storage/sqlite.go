package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (reminder.Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err = s.db.ExecContext(ctx, string(b)); err != nil {
		return err
	}
	return s.addColumn(ctx, "skipped", "INTEGER NOT NULL DEFAULT 0")
}

// addColumn upgrades a tasks table created before the column existed.
func (s *sqliteStore) addColumn(ctx context.Context, name, decl string) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('tasks')`)
	if err != nil {
		return err
	}
	found := false
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			_ = rows.Close()
			return err
		}
		if col == name {
			found = true
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if found {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "ALTER TABLE tasks ADD COLUMN "+name+" "+decl); err != nil {
		return fmt.Errorf("add column %s: %w", name, err)
	}
	s.log.Info("sqlite schema upgraded", logx.String("column", name))
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (reminder.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, chat_id, name, date, time, at, recurrence, delivered, created_at, delivered_at, parent_id, skipped
		 FROM tasks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := reminder.Snapshot{}
	for rows.Next() {
		var (
			t                   reminder.Task
			at, created, rec    string
			deliveredAt, parent sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.ChatID, &t.Name, &t.Date, &t.Time,
			&at, &rec, &t.Delivered, &created, &deliveredAt, &parent, &t.Skipped); err != nil {
			return nil, err
		}
		if t.At, err = parseStamp(at); err != nil {
			return nil, fmt.Errorf("task %s: at: %w", t.ID, err)
		}
		if t.CreatedAt, err = parseStamp(created); err != nil {
			return nil, fmt.Errorf("task %s: created_at: %w", t.ID, err)
		}
		if deliveredAt.Valid {
			d, err := parseStamp(deliveredAt.String)
			if err != nil {
				return nil, fmt.Errorf("task %s: delivered_at: %w", t.ID, err)
			}
			t.DeliveredAt = &d
		}
		t.Recurrence = reminder.Recurrence(rec)
		t.ParentID = parent.String
		snap.Add(t)
	}
	return snap, rows.Err()
}

// Save replaces every row in one transaction.
func (s *sqliteStore) Save(ctx context.Context, snap reminder.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tasks(id, user_id, chat_id, name, date, time, at, recurrence, delivered, created_at, delivered_at, parent_id, skipped)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, tasks := range snap {
		for _, t := range tasks {
			var deliveredAt any
			if t.DeliveredAt != nil {
				deliveredAt = formatStamp(*t.DeliveredAt)
			}
			if _, err = stmt.ExecContext(ctx,
				t.ID, t.UserID, t.ChatID, t.Name, t.Date, t.Time, formatStamp(t.At),
				string(t.Recurrence), t.Delivered, formatStamp(t.CreatedAt), deliveredAt, nullStr(t.ParentID), t.Skipped,
			); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func formatStamp(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseStamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(time.Local), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
