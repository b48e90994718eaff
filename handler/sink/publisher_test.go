package sink

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/juju/mgo/v3/bson"
	"github.com/moplog/moplog/cfg"
	"github.com/moplog/moplog/handler"
	"github.com/moplog/moplog/oplog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageHandler_PublishesKeyedEnvelopes(t *testing.T) {
	pub := &MockPublisher{}
	h, err := NewMessageHandler("events", "cdc", "json", pub)
	require.NoError(t, err)

	id := oplog.NewDocumentID(testOID)
	require.NoError(t, h.HandleInsert(nil, testTime, "test.content", bson.M{"_id": testOID}))
	require.NoError(t, h.HandleUpdate(nil, testTime, "test.content", id, bson.M{"$set": bson.M{"a": 1}}))
	require.NoError(t, h.HandleDelete(nil, testTime, "test.content", id, true))
	require.NoError(t, h.HandleCommand(bson.M{"o": bson.M{"drop": "x"}}, testTime, "test.$cmd"))

	require.Len(t, pub.Messages, 4)
	for _, msg := range pub.Messages[:3] {
		assert.Equal(t, "cdc.test.content", msg.Topic)
		assert.Equal(t, testOID.Hex(), msg.Key)
		assert.Equal(t, "application/json", msg.ContentType)
	}
	assert.Equal(t, "cdc.test.$cmd", pub.Messages[3].Topic)
	assert.Empty(t, pub.Messages[3].Key)

	var env Envelope
	require.NoError(t, json.Unmarshal(pub.Messages[2].Value, &env))
	assert.Equal(t, "d", env.Op)
	require.NotNil(t, env.Success)
	assert.True(t, *env.Success)

	require.NoError(t, h.Close())
	assert.True(t, pub.Closed)
}

func TestMessageHandler_MsgpackContentType(t *testing.T) {
	pub := &MockPublisher{}
	h, err := NewMessageHandler("events", "", "msgpack", pub)
	require.NoError(t, err)

	require.NoError(t, h.HandleInsert(nil, testTime, "test.content", bson.M{"_id": testOID}))
	require.Len(t, pub.Messages, 1)
	assert.Equal(t, "application/msgpack", pub.Messages[0].ContentType)
}

func TestMessageHandler_PublishError(t *testing.T) {
	boom := errors.New("broker down")
	h, err := NewMessageHandler("events", "", "", &MockPublisher{PublishErr: boom})
	require.NoError(t, err)

	err = h.HandleInsert(nil, testTime, "test.content", bson.M{"foo": "bar"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "moplog.test.content")
}

func TestMessageHandler_UnknownFormat(t *testing.T) {
	_, err := NewMessageHandler("events", "", "xml", &MockPublisher{})
	assert.Error(t, err)
}

func TestFactories_RequireOptions(t *testing.T) {
	resolver := handler.NewFactoryResolver(map[string]cfg.HandlerConfiguration{
		"bus":    {Type: "nats"},
		"stream": {Type: "kafka"},
		"audit":  {Type: "sqlite"},
		"noisy":  {Type: "log", Level: "loud"},
	})

	for _, name := range []string{"bus", "stream", "audit", "noisy"} {
		_, err := resolver.Lookup(name)
		assert.Error(t, err, name)
	}
}

func TestKafkaFactory_SanitizesTopics(t *testing.T) {
	resolver := handler.NewFactoryResolver(map[string]cfg.HandlerConfiguration{
		"stream": {Type: "kafka", Brokers: []string{"localhost:9092"}, Prefix: "cdc"},
	})

	h, err := resolver.Lookup("stream")
	require.NoError(t, err)
	defer h.(*MessageHandler).Close()

	mh := h.(*MessageHandler)
	assert.Equal(t, "cdc.test._cmd", mh.topicName(Subject(mh.prefix, "test.$cmd")))
}

func TestBuiltinTypesRegistered(t *testing.T) {
	types := handler.RegisteredTypes()
	for _, typ := range []string{"kafka", "log", "nats", "sqlite"} {
		assert.Contains(t, types, typ)
	}
}
