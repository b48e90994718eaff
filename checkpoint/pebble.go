package checkpoint

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/moplog/moplog/cfg"
	"github.com/moplog/moplog/oplog"
	"github.com/rs/zerolog/log"
)

// Key for the persisted position
const keyPosition = "/checkpoint/position" // -> Position.Uint64, little endian

// PebbleStore keeps lastTs in a Pebble database and treats the
// configuration document as read-only.
type PebbleStore struct {
	doc     *FileStore
	dataDir string

	mu  sync.Mutex
	db  *pebble.DB
	pos oplog.Position
}

// NewPebbleStore layers a Pebble checkpoint over a loaded document store.
// Load must be called before use.
func NewPebbleStore(doc *FileStore, dataDir string) *PebbleStore {
	return &PebbleStore{
		doc:     doc,
		dataDir: dataDir,
	}
}

// Load opens the database. When no position has been stored yet the
// document's lastTs seeds it. Stored positions are exact, including
// ordinals above 999.
func (s *PebbleStore) Load() (RuntimeConfig, error) {
	rc := s.doc.Config()

	dbPath := filepath.Join(s.dataDir, "checkpoint")
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return RuntimeConfig{}, &ConfigLoadError{Path: dbPath, Err: err}
	}

	pos := rc.Position()
	val, closer, err := db.Get([]byte(keyPosition))
	switch {
	case err == pebble.ErrNotFound:
		log.Info().Int64("last_ts", rc.LastTs).Msg("No stored checkpoint, seeding from config")
	case err != nil:
		db.Close()
		return RuntimeConfig{}, &ConfigLoadError{Path: dbPath, Err: err}
	default:
		if len(val) != 8 {
			closer.Close()
			db.Close()
			return RuntimeConfig{}, &ConfigLoadError{
				Path: dbPath,
				Err:  fmt.Errorf("corrupted checkpoint: invalid length %d", len(val)),
			}
		}
		pos = oplog.PositionFromUint64(binary.LittleEndian.Uint64(val))
		closer.Close()
	}

	s.mu.Lock()
	s.db = db
	s.pos = pos
	s.mu.Unlock()

	return rc.withPosition(pos), nil
}

// Save writes pos with a synced write.
func (s *PebbleStore) Save(pos oplog.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pos = pos
	if s.db == nil {
		return &PersistError{Position: pos, Err: fmt.Errorf("checkpoint store is closed")}
	}

	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, pos.Uint64())
	if err := s.db.Set([]byte(keyPosition), val, pebble.Sync); err != nil {
		return &PersistError{Position: pos, Err: err}
	}
	return nil
}

// Config returns the document's runtime configuration with the stored position.
func (s *PebbleStore) Config() RuntimeConfig {
	s.mu.Lock()
	pos := s.pos
	s.mu.Unlock()
	return s.doc.Config().withPosition(pos)
}

// Document returns the configuration document with the stored lastTs.
func (s *PebbleStore) Document() cfg.Configuration {
	doc := s.doc.Document()
	s.mu.Lock()
	doc.LastTs = s.pos.FloorMillis()
	s.mu.Unlock()
	return doc
}

// Close closes the database.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
