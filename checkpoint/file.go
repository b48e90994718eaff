package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/utils/v4"
	"github.com/moplog/moplog/cfg"
	"github.com/moplog/moplog/oplog"
	"github.com/rs/zerolog/log"
)

// FileStore keeps the checkpoint in the configuration document itself.
type FileStore struct {
	path string

	mu  sync.Mutex
	doc cfg.Configuration
}

// NewFileStore returns a store for the document at path. Load must be
// called before use.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		doc:  cfg.Default(),
	}
}

// Load reads the document. A missing document yields the defaults.
func (s *FileStore) Load() (RuntimeConfig, error) {
	doc, found, err := cfg.Load(s.path)
	if err != nil {
		return RuntimeConfig{}, &ConfigLoadError{Path: s.path, Err: err}
	}

	if found {
		log.Info().Str("path", s.path).Msg("Loaded configuration")
	} else {
		log.Warn().Str("path", s.path).Msg("Config file not found, using defaults")
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	return runtimeFrom(doc), nil
}

// Save rewrites the document with lastTs set to pos. lastTs only has
// millisecond resolution, so ordinals above 999 are stored as 999 and the
// records after it are delivered again on restart.
// The in-memory copy advances even if the write fails.
func (s *FileStore) Save(pos oplog.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.LastTs = pos.FloorMillis()

	data, err := cfg.Encode(s.doc, cfg.IsJSON(s.path))
	if err != nil {
		return &PersistError{Position: pos, Err: err}
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return &PersistError{Position: pos, Err: err}
	}
	return nil
}

// Config returns a snapshot of the runtime configuration.
func (s *FileStore) Config() RuntimeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return runtimeFrom(s.doc)
}

// Document returns a snapshot of the whole document.
func (s *FileStore) Document() cfg.Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.doc
	doc.Collections = runtimeFrom(s.doc).Collections
	if s.doc.Handlers != nil {
		doc.Handlers = make(map[string]cfg.HandlerConfiguration, len(s.doc.Handlers))
		for k, v := range s.doc.Handlers {
			doc.Handlers[k] = v
		}
	}
	return doc
}

// Close is a no-op; every Save is already durable.
func (s *FileStore) Close() error {
	return nil
}

// writeFileAtomic replaces path with data so that readers see either the
// old or the new document, never a torn write.
func writeFileAtomic(path string, data []byte) error {
	if err := utils.AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	// Persist the rename itself
	if d, err := os.Open(filepath.Dir(path)); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
