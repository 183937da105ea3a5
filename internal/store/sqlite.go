package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chanderbawa/AI-Story-Agents/internal/metrics"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

// SQLiteLog stores envelopes in a local SQLite database.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog opens (or creates) the database.
// If dbPath is empty, defaults to "./data/messages.db"
func NewSQLiteLog(ctx context.Context, dbPath string) (*SQLiteLog, error) {
	if dbPath == "" {
		dbPath = "./data/messages.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteLog{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteLog) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		receiver TEXT NOT NULL,
		message_type TEXT NOT NULL,
		envelope TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_correlation ON messages(correlation_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteLog) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteLog) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save inserts or replaces the envelope keyed by its id.
func (s *SQLiteLog) Save(ctx context.Context, msg *models.Message) error {
	start := time.Now()
	defer func() {
		metrics.LogWriteLatency.WithLabelValues("sqlite").Observe(time.Since(start).Seconds())
	}()

	envelope, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO messages (id, correlation_id, sender, receiver, message_type, envelope, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.CorrelationID, msg.Sender, msg.Receiver, string(msg.Type), string(envelope), msg.Timestamp)
	return err
}

// Get retrieves an envelope by id.
func (s *SQLiteLog) Get(ctx context.Context, id string) (*models.Message, error) {
	var envelope string
	err := s.db.QueryRowContext(ctx, `SELECT envelope FROM messages WHERE id = ?`, id).Scan(&envelope)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var msg models.Message
	if err := json.Unmarshal([]byte(envelope), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Count returns the number of logged messages.
func (s *SQLiteLog) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
