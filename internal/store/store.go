package store

import (
	"context"
	"errors"

	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

// ErrNotFound is returned when a logged message does not exist.
var ErrNotFound = errors.New("message not found")

// MessageLog persists published envelopes keyed by message id. The log is an
// audit trail for offline inspection; it is never replayed.
type MessageLog interface {
	Save(ctx context.Context, msg *models.Message) error
	Close() error
}

// MessageReader is implemented by logs that can return a stored envelope.
// FileLog, PostgresLog and SQLiteLog all implement it.
type MessageReader interface {
	Get(ctx context.Context, id string) (*models.Message, error)
}

// NopLog discards everything.
type NopLog struct{}

func (NopLog) Save(context.Context, *models.Message) error { return nil }
func (NopLog) Close() error                                { return nil }
