package oplog

import (
	"fmt"

	"github.com/juju/mgo/v3/bson"
)

// Kind classifies an oplog entry by its op field.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInsert
	KindUpdate
	KindDelete
	KindCommand
	KindNoop
)

var kindNames = map[Kind]string{
	KindUnknown: "unknown",
	KindInsert:  "insert",
	KindUpdate:  "update",
	KindDelete:  "delete",
	KindCommand: "command",
	KindNoop:    "noop",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// KindFromOp maps the oplog op code to a Kind.
func KindFromOp(op string) Kind {
	switch op {
	case "i":
		return KindInsert
	case "u":
		return KindUpdate
	case "d":
		return KindDelete
	case "c":
		return KindCommand
	case "n":
		return KindNoop
	}
	return KindUnknown
}

// Op returns the oplog op code for k, or "" for KindUnknown.
func (k Kind) Op() string {
	switch k {
	case KindInsert:
		return "i"
	case KindUpdate:
		return "u"
	case KindDelete:
		return "d"
	case KindCommand:
		return "c"
	case KindNoop:
		return "n"
	}
	return ""
}

// DocumentID is the identifier of the document targeted by an update or
// delete. ObjectIds (including their 24 char hex form) are reconstructed
// as bson.ObjectId, anything else is kept as decoded.
type DocumentID struct {
	value interface{}
}

// NewDocumentID reconstructs a typed identifier from a raw _id value.
func NewDocumentID(raw interface{}) DocumentID {
	switch v := raw.(type) {
	case bson.ObjectId:
		return DocumentID{value: v}
	case string:
		if bson.IsObjectIdHex(v) {
			return DocumentID{value: bson.ObjectIdHex(v)}
		}
	}
	return DocumentID{value: raw}
}

// ObjectID returns the identifier as an ObjectId, if it is one.
func (id DocumentID) ObjectID() (bson.ObjectId, bool) {
	oid, ok := id.value.(bson.ObjectId)
	return oid, ok
}

// Value returns the underlying identifier value.
func (id DocumentID) Value() interface{} {
	return id.value
}

// IsZero reports whether the identifier is missing.
func (id DocumentID) IsZero() bool {
	return id.value == nil
}

func (id DocumentID) String() string {
	if oid, ok := id.ObjectID(); ok {
		return oid.Hex()
	}
	if id.value == nil {
		return ""
	}
	return fmt.Sprint(id.value)
}

// ChangeRecord is one decoded oplog entry.
type ChangeRecord struct {
	Position  Position
	Kind      Kind
	Namespace string

	// Raw is the entry exactly as read from the source.
	Raw bson.M

	Document   bson.M     // insert
	DocumentID DocumentID // update, delete
	Update     bson.M     // update
	Success    bool       // delete: whether a document was removed
}

// DecodeRecord classifies a raw oplog entry and extracts its kind-specific
// payload.
func DecodeRecord(raw bson.M) (ChangeRecord, error) {
	rec := ChangeRecord{Raw: raw}

	switch ts := raw["ts"].(type) {
	case bson.MongoTimestamp:
		rec.Position = PositionFromMongoTimestamp(ts)
	case int64:
		rec.Position = PositionFromUint64(uint64(ts))
	case nil:
		return rec, fmt.Errorf("oplog entry missing ts")
	default:
		return rec, fmt.Errorf("unexpected ts type %T", ts)
	}

	op, _ := raw["op"].(string)
	rec.Kind = KindFromOp(op)
	rec.Namespace, _ = raw["ns"].(string)

	switch rec.Kind {
	case KindInsert:
		rec.Document = asDoc(raw["o"])
	case KindUpdate:
		rec.Update = asDoc(raw["o"])
		rec.DocumentID = NewDocumentID(asDoc(raw["o2"])["_id"])
	case KindDelete:
		rec.DocumentID = NewDocumentID(asDoc(raw["o"])["_id"])
		rec.Success, _ = raw["b"].(bool)
	}

	return rec, nil
}

func asDoc(v interface{}) bson.M {
	switch d := v.(type) {
	case bson.M:
		return d
	case map[string]interface{}:
		return bson.M(d)
	case bson.D:
		return d.Map()
	}
	return nil
}
