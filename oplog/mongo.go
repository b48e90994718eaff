package oplog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"
	"github.com/moplog/moplog/cfg"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultAwaitTimeout bounds how long a tailing cursor blocks waiting
	// for new entries before the batch ends.
	DefaultAwaitTimeout = time.Second
	// DefaultDialTimeout bounds the initial connection attempt.
	DefaultDialTimeout = 10 * time.Second
)

// MongoSource tails a MongoDB oplog collection.
type MongoSource struct {
	config       cfg.SourceConfiguration
	awaitTimeout time.Duration
	dialTimeout  time.Duration

	mu      sync.Mutex
	session *mgo.Session
}

// NewMongoSource creates a source for the given connection descriptor.
// Connect must be called before Open.
func NewMongoSource(config cfg.SourceConfiguration) (*MongoSource, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("source host is required")
	}
	if config.Collection == "" {
		return nil, fmt.Errorf("source collection is required")
	}

	await := time.Duration(config.AwaitTimeoutMS) * time.Millisecond
	if await <= 0 {
		await = DefaultAwaitTimeout
	}

	return &MongoSource{
		config:       config,
		awaitTimeout: await,
		dialTimeout:  DefaultDialTimeout,
	}, nil
}

// DialInfo builds the mgo dial parameters from the descriptor.
func DialInfo(config cfg.SourceConfiguration) (*mgo.DialInfo, error) {
	url := strings.TrimSuffix(config.Host, "/")
	if config.DB != "" {
		url = url + "/" + config.DB
	}

	info, err := mgo.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid source host %q: %w", config.Host, err)
	}

	if config.User != "" && config.Pass != "" {
		info.Username = config.User
		info.Password = config.Pass
	}
	if info.Database == "" {
		info.Database = config.DB
	}

	return info, nil
}

// Redacted returns the connection link with credentials masked, for logs.
func Redacted(config cfg.SourceConfiguration) string {
	link := strings.TrimSuffix(config.Host, "/") + "/" + config.DB
	if config.User != "" && config.Pass != "" {
		return config.User + ":****@" + link
	}
	return link
}

// Connect dials the source.
func (s *MongoSource) Connect(ctx context.Context) error {
	info, err := DialInfo(s.config)
	if err != nil {
		return err
	}
	info.Timeout = s.dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < info.Timeout {
			info.Timeout = d
		}
	}

	log.Info().Str("link", Redacted(s.config)).Msg("Connecting to oplog source")

	session, err := mgo.DialWithInfo(info)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", Redacted(s.config), err)
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	return nil
}

// TailQuery returns the oplog filter selecting entries strictly after p.
// The ts predicate is always present because oplogReplay requires it; the
// zero Position selects the whole log.
func TailQuery(after Position) bson.M {
	return bson.M{"ts": bson.M{"$gt": after.MongoTimestamp()}}
}

// Open starts a tailable, await-data cursor after the given position.
func (s *MongoSource) Open(ctx context.Context, after Position) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return nil, fmt.Errorf("source is not connected")
	}

	cs := session.Copy()
	coll := cs.DB(s.config.DB).C(s.config.Collection)
	iter := coll.Find(TailQuery(after)).LogReplay().Tail(s.awaitTimeout)

	log.Debug().
		Str("collection", s.config.Collection).
		Stringer("after", after).
		Msg("Opened oplog cursor")

	return &mongoCursor{session: cs, iter: iter}, nil
}

// Close releases the connection.
func (s *MongoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		s.session.Close()
		s.session = nil
	}
	return nil
}

type mongoCursor struct {
	session *mgo.Session
	iter    *mgo.Iter
	paused  atomic.Bool
	closed  atomic.Bool
}

func (c *mongoCursor) Next(ctx context.Context) (ChangeRecord, error) {
	if c.paused.Load() || c.closed.Load() {
		return ChangeRecord{}, ErrCursorClosed
	}
	if err := ctx.Err(); err != nil {
		return ChangeRecord{}, err
	}

	var raw bson.M
	if c.iter.Next(&raw) {
		rec, err := DecodeRecord(raw)
		if err != nil {
			return ChangeRecord{}, fmt.Errorf("failed to decode oplog entry: %w", err)
		}
		return rec, nil
	}

	if c.iter.Timeout() {
		return ChangeRecord{}, ErrEndOfBatch
	}
	if err := c.iter.Err(); err != nil {
		return ChangeRecord{}, err
	}

	// A tailable cursor that died without error (e.g. the query matched
	// nothing yet) ends the batch as well.
	return ChangeRecord{}, ErrEndOfBatch
}

func (c *mongoCursor) Pause() {
	c.paused.Store(true)
}

func (c *mongoCursor) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.iter.Close()
	c.session.Close()
	return err
}
