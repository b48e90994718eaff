package oplog

import (
	"context"
	"sync"
)

// MemorySource is an in-process Source over a slice of records. Each Open
// snapshots the records after the requested position; records appended
// later become visible on the next Open.
type MemorySource struct {
	// ConnectErr, when set, is returned by Connect.
	ConnectErr error
	// OpenErr, when set, is returned by Open.
	OpenErr error
	// StreamErr, when set, is returned by Next instead of ErrEndOfBatch
	// once a cursor is exhausted.
	StreamErr error
	// Unfiltered disables the strictly-after filter in Open.
	Unfiltered bool

	mu        sync.Mutex
	records   []ChangeRecord
	opens     []Position
	events    []string
	connected bool
}

// NewMemorySource returns a source holding the given records.
func NewMemorySource(records ...ChangeRecord) *MemorySource {
	return &MemorySource{records: append([]ChangeRecord(nil), records...)}
}

// Append adds records to the end of the log.
func (m *MemorySource) Append(records ...ChangeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
}

// Opens returns the positions passed to Open, in call order.
func (m *MemorySource) Opens() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Position(nil), m.opens...)
}

// Events returns the lifecycle calls observed so far
// ("connect", "open", "pause", "cursor-close", "close").
func (m *MemorySource) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func (m *MemorySource) record(event string) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
}

func (m *MemorySource) Connect(ctx context.Context) error {
	m.record("connect")
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *MemorySource) Open(ctx context.Context, after Position) (Cursor, error) {
	m.mu.Lock()
	m.opens = append(m.opens, after)
	m.events = append(m.events, "open")
	if m.OpenErr != nil {
		m.mu.Unlock()
		return nil, m.OpenErr
	}

	batch := make([]ChangeRecord, 0, len(m.records))
	for _, rec := range m.records {
		if m.Unfiltered || after.Less(rec.Position) {
			batch = append(batch, rec)
		}
	}
	m.mu.Unlock()

	return &memoryCursor{source: m, batch: batch}, nil
}

func (m *MemorySource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.events = append(m.events, "close")
	return nil
}

type memoryCursor struct {
	source *MemorySource
	batch  []ChangeRecord
	next   int
	paused bool
	closed bool
}

func (c *memoryCursor) Next(ctx context.Context) (ChangeRecord, error) {
	if c.paused || c.closed {
		return ChangeRecord{}, ErrCursorClosed
	}
	if err := ctx.Err(); err != nil {
		return ChangeRecord{}, err
	}
	if c.next < len(c.batch) {
		rec := c.batch[c.next]
		c.next++
		return rec, nil
	}
	if c.source.StreamErr != nil {
		return ChangeRecord{}, c.source.StreamErr
	}
	return ChangeRecord{}, ErrEndOfBatch
}

func (c *memoryCursor) Pause() {
	c.paused = true
	c.source.record("pause")
}

func (c *memoryCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.source.record("cursor-close")
	return nil
}
