package oplog

import (
	"testing"

	"github.com/juju/mgo/v3/bson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(t, i uint32) bson.MongoTimestamp {
	return Position{T: t, I: i}.MongoTimestamp()
}

func TestDecodeRecord_Insert(t *testing.T) {
	raw := bson.M{
		"ts": ts(1429559473, 2),
		"op": "i",
		"ns": "test.content",
		"o":  bson.M{"_id": bson.ObjectIdHex("553558b1af52440d7f965dbb"), "foo": "bar"},
	}

	rec, err := DecodeRecord(raw)
	require.NoError(t, err)

	assert.Equal(t, KindInsert, rec.Kind)
	assert.Equal(t, "test.content", rec.Namespace)
	assert.Equal(t, Position{T: 1429559473, I: 2}, rec.Position)
	assert.Equal(t, "bar", rec.Document["foo"])
	assert.Equal(t, raw, rec.Raw)
}

func TestDecodeRecord_Update(t *testing.T) {
	raw := bson.M{
		"ts": ts(1430017181, 1),
		"op": "u",
		"ns": "test.content",
		"o2": bson.M{"_id": "5536fcd36effdf975a1fed9a"},
		"o":  bson.M{"$set": bson.M{"addition": "abc"}},
	}

	rec, err := DecodeRecord(raw)
	require.NoError(t, err)

	assert.Equal(t, KindUpdate, rec.Kind)
	oid, ok := rec.DocumentID.ObjectID()
	require.True(t, ok, "hex id should be reconstructed as ObjectId")
	assert.Equal(t, bson.ObjectIdHex("5536fcd36effdf975a1fed9a"), oid)
	assert.Equal(t, bson.M{"$set": bson.M{"addition": "abc"}}, rec.Update)
}

func TestDecodeRecord_Delete(t *testing.T) {
	raw := bson.M{
		"ts": ts(1429630991, 1),
		"op": "d",
		"ns": "test.content",
		"b":  false,
		"o":  bson.M{"_id": bson.ObjectIdHex("553558b1af52440d7f965dbb")},
	}

	rec, err := DecodeRecord(raw)
	require.NoError(t, err)

	assert.Equal(t, KindDelete, rec.Kind)
	assert.False(t, rec.Success)
	assert.Equal(t, "553558b1af52440d7f965dbb", rec.DocumentID.String())
}

func TestDecodeRecord_CommandAndNoop(t *testing.T) {
	rec, err := DecodeRecord(bson.M{"ts": ts(1429559350, 1), "op": "c", "ns": "test.$cmd", "o": bson.M{"dropDatabase": 1}})
	require.NoError(t, err)
	assert.Equal(t, KindCommand, rec.Kind)
	assert.Equal(t, "test.$cmd", rec.Namespace)

	rec, err = DecodeRecord(bson.M{"ts": ts(1429559351, 1), "op": "n", "ns": "", "o": bson.M{"msg": "periodic noop"}})
	require.NoError(t, err)
	assert.Equal(t, KindNoop, rec.Kind)
}

func TestDecodeRecord_UnknownOp(t *testing.T) {
	rec, err := DecodeRecord(bson.M{"ts": ts(1, 1), "op": "db", "ns": "admin"})
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, rec.Kind)
}

func TestDecodeRecord_BadTimestamp(t *testing.T) {
	_, err := DecodeRecord(bson.M{"op": "i"})
	assert.Error(t, err)

	_, err = DecodeRecord(bson.M{"ts": "yesterday", "op": "i"})
	assert.Error(t, err)
}

func TestNewDocumentID(t *testing.T) {
	oid := bson.ObjectIdHex("553558b1af52440d7f965dbb")

	id := NewDocumentID(oid)
	got, ok := id.ObjectID()
	assert.True(t, ok)
	assert.Equal(t, oid, got)

	id = NewDocumentID("not-an-object-id")
	_, ok = id.ObjectID()
	assert.False(t, ok)
	assert.Equal(t, "not-an-object-id", id.Value())

	id = NewDocumentID(42)
	assert.Equal(t, "42", id.String())

	assert.True(t, NewDocumentID(nil).IsZero())
}

func TestKind_OpRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindInsert, KindUpdate, KindDelete, KindCommand, KindNoop} {
		assert.Equal(t, k, KindFromOp(k.Op()), k.String())
	}
	assert.Equal(t, "", KindUnknown.Op())
}
