package sink

import (
	"sync"
	"time"

	"github.com/juju/mgo/v3/bson"
	"github.com/moplog/moplog/oplog"
)

// MockCall is one capability invocation recorded by MockHandler
type MockCall struct {
	Op        string
	Raw       bson.M
	Time      time.Time
	Namespace string
	Document  bson.M
	ID        oplog.DocumentID
	Update    bson.M
	Success   bool
}

// MockHandler records every invocation for inspection in tests
type MockHandler struct {
	Err    error
	OnCall func(MockCall)

	mu     sync.Mutex
	calls  []MockCall
	closed bool
}

func (m *MockHandler) record(c MockCall) error {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	onCall := m.OnCall
	m.mu.Unlock()

	if onCall != nil {
		onCall(c)
	}
	return m.Err
}

func (m *MockHandler) HandleInsert(raw bson.M, t time.Time, ns string, doc bson.M) error {
	return m.record(MockCall{Raw: raw, Op: "i", Time: t, Namespace: ns, Document: doc})
}

func (m *MockHandler) HandleUpdate(raw bson.M, t time.Time, ns string, id oplog.DocumentID, update bson.M) error {
	return m.record(MockCall{Raw: raw, Op: "u", Time: t, Namespace: ns, ID: id, Update: update})
}

func (m *MockHandler) HandleDelete(raw bson.M, t time.Time, ns string, id oplog.DocumentID, success bool) error {
	return m.record(MockCall{Raw: raw, Op: "d", Time: t, Namespace: ns, ID: id, Success: success})
}

func (m *MockHandler) HandleCommand(raw bson.M, t time.Time, ns string) error {
	return m.record(MockCall{Raw: raw, Op: "c", Time: t, Namespace: ns})
}

// Calls returns the recorded invocations
func (m *MockHandler) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// Close marks the handler closed
func (m *MockHandler) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called
func (m *MockHandler) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reset clears all recorded calls
func (m *MockHandler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// MockPublisher records published messages
type MockPublisher struct {
	Messages   []MockMessage
	PublishErr error
	Closed     bool
	mu         sync.Mutex
}

// MockMessage represents a published message for testing
type MockMessage struct {
	Topic       string
	Key         string
	ContentType string
	Value       []byte
}

func (m *MockPublisher) Publish(topic, key, contentType string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishErr != nil {
		return m.PublishErr
	}

	m.Messages = append(m.Messages, MockMessage{
		Topic:       topic,
		Key:         key,
		ContentType: contentType,
		Value:       value,
	})
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}
