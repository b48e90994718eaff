package sink

import (
	"path/filepath"
	"testing"

	"github.com/juju/mgo/v3/bson"
	"github.com/moplog/moplog/cfg"
	"github.com/moplog/moplog/handler"
	"github.com/moplog/moplog/oplog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteHandler_AppendsAuditRows(t *testing.T) {
	h, err := NewSQLiteHandler(filepath.Join(t.TempDir(), "audit.db"), "")
	require.NoError(t, err)
	defer h.Close()

	id := oplog.NewDocumentID(testOID)
	require.NoError(t, h.HandleInsert(nil, testTime, "test.content", bson.M{"_id": testOID, "foo": "bar"}))
	require.NoError(t, h.HandleUpdate(nil, testTime, "test.content", id, bson.M{"$set": bson.M{"addition": "abc"}}))
	require.NoError(t, h.HandleDelete(nil, testTime, "test.content", id, false))
	require.NoError(t, h.HandleCommand(bson.M{"o": bson.M{"drop": "content"}}, testTime, "test.$cmd"))

	rows, err := h.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	ops := make([]string, len(rows))
	for i, row := range rows {
		ops[i] = row.Op
		assert.Equal(t, int64(1429559473002), row.TsMs)
		assert.Equal(t, int64(i+1), row.Seq)
	}
	assert.Equal(t, []string{"i", "u", "d", "c"}, ops)

	assert.Equal(t, testOID.Hex(), rows[0].DocID.String)
	assert.Contains(t, rows[0].Payload, `"foo":"bar"`)
	assert.False(t, rows[0].Success.Valid)

	assert.True(t, rows[2].Success.Valid)
	assert.False(t, rows[2].Success.Bool)

	assert.False(t, rows[3].DocID.Valid)
	assert.Equal(t, "test.$cmd", rows[3].NS)
}

func TestSQLiteHandler_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	h, err := NewSQLiteHandler(path, "events")
	require.NoError(t, err)
	require.NoError(t, h.HandleInsert(nil, testTime, "test.content", bson.M{"foo": "bar"}))
	require.NoError(t, h.Close())

	h, err = NewSQLiteHandler(path, "events")
	require.NoError(t, err)
	defer h.Close()

	rows, err := h.Rows()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSQLiteHandler_InvalidTable(t *testing.T) {
	_, err := NewSQLiteHandler(filepath.Join(t.TempDir(), "audit.db"), "bad; DROP")
	assert.Error(t, err)
}

func TestSQLiteFactory(t *testing.T) {
	resolver := handler.NewFactoryResolver(map[string]cfg.HandlerConfiguration{
		"audit": {Type: "sqlite", Path: filepath.Join(t.TempDir(), "audit.db"), Table: "changes"},
	})

	h, err := resolver.Lookup("audit")
	require.NoError(t, err)
	require.IsType(t, &SQLiteHandler{}, h)

	sh := h.(*SQLiteHandler)
	defer sh.Close()
	assert.Equal(t, "changes", sh.table)
}
