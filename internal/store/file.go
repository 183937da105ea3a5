package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chanderbawa/AI-Story-Agents/internal/metrics"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

// FileLog writes each envelope to <dir>/<message_id>.json.
type FileLog struct {
	dir string
}

// NewFileLog creates the log directory if needed.
// If dir is empty, defaults to "./output/messages"
func NewFileLog(dir string) (*FileLog, error) {
	if dir == "" {
		dir = "./output/messages"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("message log: ensure dir: %w", err)
	}
	return &FileLog{dir: dir}, nil
}

// Dir returns the directory messages are written to.
func (l *FileLog) Dir() string {
	return l.dir
}

func (l *FileLog) path(id string) string {
	return filepath.Join(l.dir, filepath.Base(id)+".json")
}

// Save writes msg atomically via a temp file and rename.
func (l *FileLog) Save(ctx context.Context, msg *models.Message) error {
	start := time.Now()
	defer func() {
		metrics.LogWriteLatency.WithLabelValues("file").Observe(time.Since(start).Seconds())
	}()

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return err
	}

	final := l.path(msg.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("message log: write %s: %w", msg.ID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("message log: rename %s: %w", msg.ID, err)
	}
	return nil
}

// Get reads a logged envelope back.
func (l *FileLog) Get(ctx context.Context, id string) (*models.Message, error) {
	data, err := os.ReadFile(l.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("message log: decode %s: %w", id, err)
	}
	return &msg, nil
}

// Close is a no-op; files are closed after every write.
func (l *FileLog) Close() error {
	return nil
}
