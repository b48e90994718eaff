package sink

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/juju/mgo/v3/bson"
	_ "github.com/mattn/go-sqlite3"
	"github.com/moplog/moplog/cfg"
	"github.com/moplog/moplog/handler"
	"github.com/moplog/moplog/oplog"
)

const (
	sqliteDriverName  = "sqlite3"
	DefaultAuditTable = "oplog_audit"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func init() {
	handler.RegisterHandler("sqlite", func(name string, config cfg.HandlerConfiguration) (handler.Handler, error) {
		if config.Path == "" {
			return nil, fmt.Errorf("sqlite handler %q requires path", name)
		}
		return NewSQLiteHandler(config.Path, config.Table)
	})
}

// AuditRow is one stored record
type AuditRow struct {
	Seq     int64          `db:"seq" goqu:"skipinsert"`
	TsMs    int64          `db:"ts"`
	NS      string         `db:"ns"`
	Op      string         `db:"op"`
	DocID   sql.NullString `db:"doc_id"`
	Success sql.NullBool   `db:"success"`
	Payload string         `db:"payload"`
}

// SQLiteHandler appends every record to an audit table
type SQLiteHandler struct {
	db    *sql.DB
	gdb   *goqu.Database
	table string
}

// NewSQLiteHandler opens (creating if needed) the database at path
func NewSQLiteHandler(path, table string) (*SQLiteHandler, error) {
	if table == "" {
		table = DefaultAuditTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid audit table name %q", table)
	}

	// WAL so the audit table can be read while we append
	dsn := path
	if !strings.Contains(dsn, ":memory:") {
		if strings.Contains(dsn, "?") {
			dsn += "&_journal_mode=WAL&_busy_timeout=5000"
		} else {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	}

	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		seq     INTEGER PRIMARY KEY AUTOINCREMENT,
		ts      INTEGER NOT NULL,
		ns      TEXT    NOT NULL,
		op      TEXT    NOT NULL,
		doc_id  TEXT,
		success INTEGER,
		payload TEXT    NOT NULL
	)`, table)
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}

	return &SQLiteHandler{
		db:    db,
		gdb:   goqu.New(sqliteDriverName, db),
		table: table,
	}, nil
}

func (h *SQLiteHandler) append(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	row := AuditRow{
		TsMs:    env.TsMs,
		NS:      env.Namespace,
		Op:      env.Op,
		DocID:   sql.NullString{String: env.ID, Valid: env.ID != ""},
		Payload: string(payload),
	}
	if env.Success != nil {
		row.Success = sql.NullBool{Bool: *env.Success, Valid: true}
	}

	_, err = h.gdb.Insert(h.table).Prepared(true).Rows(row).Executor().Exec()
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", h.table, err)
	}
	return nil
}

func (h *SQLiteHandler) HandleInsert(raw bson.M, t time.Time, ns string, doc bson.M) error {
	return h.append(InsertEnvelope(t, ns, doc))
}

func (h *SQLiteHandler) HandleUpdate(raw bson.M, t time.Time, ns string, id oplog.DocumentID, update bson.M) error {
	return h.append(UpdateEnvelope(t, ns, id, update))
}

func (h *SQLiteHandler) HandleDelete(raw bson.M, t time.Time, ns string, id oplog.DocumentID, success bool) error {
	return h.append(DeleteEnvelope(t, ns, id, success))
}

func (h *SQLiteHandler) HandleCommand(raw bson.M, t time.Time, ns string) error {
	return h.append(CommandEnvelope(raw, t, ns))
}

// Rows returns the audit rows in insertion order
func (h *SQLiteHandler) Rows() ([]AuditRow, error) {
	var rows []AuditRow
	err := h.gdb.From(h.table).Order(goqu.C("seq").Asc()).ScanStructs(&rows)
	return rows, err
}

// Close closes the database
func (h *SQLiteHandler) Close() error {
	return h.db.Close()
}
