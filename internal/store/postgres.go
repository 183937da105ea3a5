package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chanderbawa/AI-Story-Agents/internal/metrics"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id             TEXT PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	sender         TEXT NOT NULL,
	receiver       TEXT NOT NULL,
	message_type   TEXT NOT NULL,
	envelope       JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_correlation ON messages(correlation_id, created_at);
`

// PostgresLog stores envelopes in PostgreSQL.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog connects with a pool and ensures the schema exists.
func NewPostgresLog(ctx context.Context, databaseURL string) (*PostgresLog, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresLog{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresLog) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresLog) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Save upserts the envelope keyed by its id.
func (s *PostgresLog) Save(ctx context.Context, msg *models.Message) error {
	start := time.Now()
	defer func() {
		metrics.LogWriteLatency.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
	}()

	envelope, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (id, correlation_id, sender, receiver, message_type, envelope, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET envelope = EXCLUDED.envelope
	`, msg.ID, msg.CorrelationID, msg.Sender, msg.Receiver, string(msg.Type), envelope, msg.Timestamp)
	return err
}

// Get retrieves an envelope by id.
func (s *PostgresLog) Get(ctx context.Context, id string) (*models.Message, error) {
	var envelope []byte
	err := s.pool.QueryRow(ctx, `SELECT envelope FROM messages WHERE id = $1`, id).Scan(&envelope)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var msg models.Message
	if err := json.Unmarshal(envelope, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ByCorrelation lists logged envelopes of one conversation in publish order.
func (s *PostgresLog) ByCorrelation(ctx context.Context, correlationID string) ([]*models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT envelope FROM messages
		WHERE correlation_id = $1
		ORDER BY created_at ASC, id ASC
	`, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var envelope []byte
		if err := rows.Scan(&envelope); err != nil {
			return nil, err
		}
		var msg models.Message
		if err := json.Unmarshal(envelope, &msg); err != nil {
			continue
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}
