package sink

import (
	"fmt"
	"time"

	"github.com/juju/mgo/v3/bson"
	"github.com/moplog/moplog/oplog"
)

// Publisher delivers encoded envelopes to a message system
type Publisher interface {
	// Publish sends value to topic, keyed by key and labelled with
	// the envelope's content type
	Publish(topic, key, contentType string, value []byte) error
	Close() error
}

// MessageHandler turns records into envelopes and publishes them to
// <prefix>.<ns>, keyed by document id.
type MessageHandler struct {
	name      string
	prefix    string
	encoder   Encoder
	publisher Publisher
	topicName func(string) string
}

// NewMessageHandler creates a handler publishing through pub
func NewMessageHandler(name, prefix, format string, pub Publisher) (*MessageHandler, error) {
	enc, err := NewEncoder(format)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &MessageHandler{
		name:      name,
		prefix:    prefix,
		encoder:   enc,
		publisher: pub,
		topicName: func(s string) string { return s },
	}, nil
}

func (h *MessageHandler) publish(env Envelope) error {
	data, err := h.encoder.Encode(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	topic := h.topicName(Subject(h.prefix, env.Namespace))
	if err := h.publisher.Publish(topic, env.ID, h.encoder.ContentType(), data); err != nil {
		return fmt.Errorf("%s: publish to %s failed: %w", h.name, topic, err)
	}
	return nil
}

func (h *MessageHandler) HandleInsert(raw bson.M, t time.Time, ns string, doc bson.M) error {
	return h.publish(InsertEnvelope(t, ns, doc))
}

func (h *MessageHandler) HandleUpdate(raw bson.M, t time.Time, ns string, id oplog.DocumentID, update bson.M) error {
	return h.publish(UpdateEnvelope(t, ns, id, update))
}

func (h *MessageHandler) HandleDelete(raw bson.M, t time.Time, ns string, id oplog.DocumentID, success bool) error {
	return h.publish(DeleteEnvelope(t, ns, id, success))
}

func (h *MessageHandler) HandleCommand(raw bson.M, t time.Time, ns string) error {
	return h.publish(CommandEnvelope(raw, t, ns))
}

// Close releases the underlying publisher
func (h *MessageHandler) Close() error {
	return h.publisher.Close()
}
