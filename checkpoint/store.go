// Package checkpoint persists the last processed oplog position together
// with the static routing configuration it was produced under.
//
// The configuration document is the checkpoint: with the default file
// backend, lastTs is rewritten in place after every processed change.
// The pebble backend keeps the document read-only and stores lastTs in a
// Pebble database instead.
//
// Save is synchronous. A nil return means the position is durable before
// the next change is processed. A failed Save is reported to the caller,
// which is expected to log it and carry on: the cost is that changes since
// the last durable position are delivered again after a restart.
package checkpoint

import (
	"fmt"
	"time"

	"github.com/moplog/moplog/cfg"
	"github.com/moplog/moplog/oplog"
)

// RuntimeConfig is the part of the configuration the engine runs under.
type RuntimeConfig struct {
	Source      cfg.SourceConfiguration `json:"source"`
	Collections map[string]string       `json:"collections"`
	Period      int                     `json:"period"`
	LastTs      int64                   `json:"lastTs"`

	// exact is set by backends that store the full position.
	exact *oplog.Position
}

// Position returns the checkpointed oplog position.
func (r RuntimeConfig) Position() oplog.Position {
	if r.exact != nil {
		return *r.exact
	}
	return oplog.FromMillis(r.LastTs)
}

func (r RuntimeConfig) withPosition(pos oplog.Position) RuntimeConfig {
	r.LastTs = pos.FloorMillis()
	r.exact = &pos
	return r
}

// PeriodDuration returns the end-of-batch reconnect delay.
func (r RuntimeConfig) PeriodDuration() time.Duration {
	return time.Duration(r.Period) * time.Millisecond
}

// Clone returns a deep copy.
func (r RuntimeConfig) Clone() RuntimeConfig {
	out := r
	out.Collections = make(map[string]string, len(r.Collections))
	for k, v := range r.Collections {
		out.Collections[k] = v
	}
	return out
}

func runtimeFrom(doc cfg.Configuration) RuntimeConfig {
	return RuntimeConfig{
		Source:      doc.Source,
		Collections: doc.Collections,
		Period:      doc.Period,
		LastTs:      doc.LastTs,
	}.Clone()
}

// Store is durable storage for the runtime configuration and checkpoint.
type Store interface {
	// Load reads the backing store, falling back to defaults when it is absent.
	Load() (RuntimeConfig, error)
	// Save durably records pos as the last processed position.
	Save(pos oplog.Position) error
	// Config returns a snapshot of the current runtime configuration.
	Config() RuntimeConfig
	// Document returns a snapshot of the whole configuration document.
	Document() cfg.Configuration
	// Close releases the backing store.
	Close() error
}

// ConfigLoadError is returned when the backing store exists but cannot be read.
type ConfigLoadError struct {
	Path string
	Err  error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("failed to load config %s: %v", e.Path, e.Err)
}

func (e *ConfigLoadError) Unwrap() error { return e.Err }

// PersistError is returned when a checkpoint could not be made durable.
type PersistError struct {
	Position oplog.Position
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist checkpoint %s: %v", e.Position, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Open loads the configuration document at path and returns the store
// selected by its checkpoint section.
func Open(path string) (Store, error) {
	fs := NewFileStore(path)
	if _, err := fs.Load(); err != nil {
		return nil, err
	}
	return OpenBackend(fs)
}

// OpenBackend returns the store selected by the checkpoint section of a
// loaded document. Nothing is created on disk for an invalid section.
func OpenBackend(fs *FileStore) (Store, error) {
	path := fs.path
	doc := fs.Document()
	switch doc.Checkpoint.Backend {
	case "", cfg.CheckpointFile:
		return fs, nil
	case cfg.CheckpointPebble:
		if doc.Checkpoint.Path == "" {
			return nil, &ConfigLoadError{
				Path: path,
				Err:  fmt.Errorf("pebble checkpoint backend requires a path"),
			}
		}
		ps := NewPebbleStore(fs, doc.Checkpoint.Path)
		if _, err := ps.Load(); err != nil {
			return nil, err
		}
		return ps, nil
	}

	return nil, &ConfigLoadError{
		Path: path,
		Err:  fmt.Errorf("unknown checkpoint backend: %s", doc.Checkpoint.Backend),
	}
}
