// Package sink provides the built-in handlers. Each registers its factory
// with the handler package on import.
package sink

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/juju/mgo/v3/bson"
	"github.com/moplog/moplog/cfg"
	"github.com/moplog/moplog/encoding"
	"github.com/moplog/moplog/oplog"
)

// DefaultPrefix is the subject/topic prefix when none is configured
const DefaultPrefix = "moplog"

// Envelope is the message published for every dispatched record
type Envelope struct {
	Namespace string                 `json:"ns"`
	Op        string                 `json:"op"`
	TsMs      int64                  `json:"ts"`
	ID        string                 `json:"id,omitempty"`
	Doc       map[string]interface{} `json:"doc,omitempty"`
	Update    map[string]interface{} `json:"update,omitempty"`
	Success   *bool                  `json:"success,omitempty"`
}

// Encoder serializes envelopes
type Encoder interface {
	Encode(env Envelope) ([]byte, error)
	ContentType() string
}

type jsonEncoder struct{}

func (jsonEncoder) Encode(env Envelope) ([]byte, error) { return json.Marshal(env) }
func (jsonEncoder) ContentType() string                 { return "application/json" }

type msgpackEncoder struct{}

func (msgpackEncoder) Encode(env Envelope) ([]byte, error) { return encoding.Marshal(env) }
func (msgpackEncoder) ContentType() string                 { return "application/msgpack" }

// NewEncoder returns the encoder for format, JSON when empty
func NewEncoder(format string) (Encoder, error) {
	switch format {
	case "", cfg.FormatJSON:
		return jsonEncoder{}, nil
	case cfg.FormatMsgpack:
		return msgpackEncoder{}, nil
	}
	return nil, fmt.Errorf("unknown format: %s", format)
}

func newEnvelope(op string, t time.Time, ns string) Envelope {
	return Envelope{
		Namespace: ns,
		Op:        op,
		TsMs:      t.UnixMilli(),
	}
}

// InsertEnvelope builds the envelope of an insert
func InsertEnvelope(t time.Time, ns string, doc bson.M) Envelope {
	env := newEnvelope("i", t, ns)
	env.Doc = normalizeDoc(doc)
	if id, ok := doc["_id"]; ok {
		env.ID = oplog.NewDocumentID(id).String()
	}
	return env
}

// UpdateEnvelope builds the envelope of an update
func UpdateEnvelope(t time.Time, ns string, id oplog.DocumentID, update bson.M) Envelope {
	env := newEnvelope("u", t, ns)
	env.ID = id.String()
	env.Update = normalizeDoc(update)
	return env
}

// DeleteEnvelope builds the envelope of a delete
func DeleteEnvelope(t time.Time, ns string, id oplog.DocumentID, success bool) Envelope {
	env := newEnvelope("d", t, ns)
	env.ID = id.String()
	env.Success = &success
	return env
}

// CommandEnvelope builds the envelope of a command; the command document
// travels as doc.
func CommandEnvelope(raw bson.M, t time.Time, ns string) Envelope {
	env := newEnvelope("c", t, ns)
	if o, ok := raw["o"].(bson.M); ok {
		env.Doc = normalizeDoc(o)
	}
	return env
}

// Subject joins prefix and namespace into a subject or topic name
func Subject(prefix, ns string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "." + ns
}

func normalizeDoc(doc bson.M) map[string]interface{} {
	if doc == nil {
		return nil
	}
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = normalize(v)
	}
	return out
}

// normalize converts BSON specific values into plain values both encoders
// render the same way.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.ObjectId:
		return val.Hex()
	case bson.MongoTimestamp:
		return oplog.PositionFromMongoTimestamp(val).String()
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case bson.M:
		return normalizeDoc(val)
	case map[string]interface{}:
		return normalizeDoc(bson.M(val))
	case bson.D:
		return normalizeDoc(val.Map())
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	}
	return v
}

// sanitizeName replaces characters outside [A-Za-z0-9._-] with "_"
func sanitizeName(name string, allowDot bool) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		case r == '.' && allowDot:
			return r
		}
		return '_'
	}, name)
}
