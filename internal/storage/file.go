package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

const fileFormatVersion = 1

// fileStore keeps the whole book in one indented UTF-8 JSON document.
// Save writes <path>.tmp, fsyncs it and renames it over <path>.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	closed bool
}

type fileDoc struct {
	Version int               `json:"version"`
	Tasks   reminder.Snapshot `json:"tasks"`
}

func openFile(cfg Config, log logx.Logger) (reminder.Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Load(ctx context.Context) (reminder.Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return reminder.Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return reminder.Snapshot{}, nil
	}

	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if doc.Version == 0 {
		// A tasks.json from the previous bot sitting at the configured path.
		snap, err := decodeLegacy(b)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.path, err)
		}
		s.log.Warn("loaded legacy task file; it will be rewritten on next save", logx.String("path", s.path))
		return snap, nil
	}
	if doc.Version > fileFormatVersion {
		return nil, fmt.Errorf("%s: unsupported format version %d", s.path, doc.Version)
	}
	if doc.Tasks == nil {
		doc.Tasks = reminder.Snapshot{}
	}
	return doc.Tasks, nil
}

func (s *fileStore) Save(ctx context.Context, snap reminder.Snapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	b, err := json.MarshalIndent(fileDoc{Version: fileFormatVersion, Tasks: snap}, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.path, append(b, '\n'))
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func writeAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
