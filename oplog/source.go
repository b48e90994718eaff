// Package oplog reads the MongoDB operation log as an ordered sequence of
// change records.
//
// A Source holds the connection to the log. Each Open call returns a Cursor
// positioned strictly after a given Position. A Cursor yields records until
// nothing more is currently available, at which point Next returns
// ErrEndOfBatch. That is the normal end of a batch, not a failure: the
// caller is expected to wait and Open again after the last Position it saw.
// Every other error returned by Next is a stream error.
package oplog

import (
	"context"
	"errors"
)

// ErrEndOfBatch is returned by Cursor.Next when no more records are
// currently available.
var ErrEndOfBatch = errors.New("no more documents in tailed cursor")

// ErrCursorClosed is returned by Cursor.Next after Pause or Close.
var ErrCursorClosed = errors.New("cursor closed")

// Source is a resumable change feed.
type Source interface {
	// Connect establishes the connection to the log.
	Connect(ctx context.Context) error
	// Open returns a cursor over records strictly after the given position.
	// The zero Position requests the full backlog.
	Open(ctx context.Context, after Position) (Cursor, error)
	// Close releases the connection.
	Close() error
}

// Cursor is a lazy, in-order sequence of change records.
type Cursor interface {
	// Next returns the next record, ErrEndOfBatch at the end of a batch,
	// or a stream error.
	Next(ctx context.Context) (ChangeRecord, error)
	// Pause stops the cursor from delivering further records without
	// touching the underlying connection.
	Pause()
	// Close releases the cursor.
	Close() error
}

// IsEndOfBatch reports whether err marks a benign end of batch.
func IsEndOfBatch(err error) bool {
	return errors.Is(err, ErrEndOfBatch)
}
