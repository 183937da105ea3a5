// Package ids generates identifiers for conversations.
package ids

import (
	"github.com/google/uuid"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewCorrelationID returns a fresh correlation id for one pipeline run.
// UUIDv7 sorts by creation time, so history listings stay in order.
func NewCorrelationID() string {
	return NewUUIDv7().String()
}
