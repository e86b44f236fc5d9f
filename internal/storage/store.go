package storage

import (
	"context"
	"errors"
	"time"

	"hostmetrics-agent/internal/model"
)

var ErrClosed = errors.New("store is closed")

// Store persists merged records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Write buffers rec and may trigger a flush. A non-nil error from a
	// triggered flush leaves rec buffered for the next attempt.
	Write(rec model.Record) error
	Flush() error
	// Query is reserved for historical reads and currently returns nothing.
	Query(ctx context.Context, metric string, start, end time.Time) ([]model.Record, error)
	// Close flushes what is buffered and rejects further writes.
	Close() error
}
