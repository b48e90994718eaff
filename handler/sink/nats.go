package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moplog/moplog/cfg"
	"github.com/moplog/moplog/handler"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const natsPublishTimeout = 5 * time.Second

func init() {
	handler.RegisterHandler("nats", func(name string, config cfg.HandlerConfiguration) (handler.Handler, error) {
		if config.URL == "" {
			return nil, fmt.Errorf("nats handler %q requires url", name)
		}
		pub, err := NewNatsPublisher(config.URL)
		if err != nil {
			return nil, err
		}
		h, err := NewMessageHandler(name, config.Prefix, config.Format, pub)
		if err != nil {
			pub.Close()
			return nil, err
		}
		return h, nil
	})
}

// NatsPublisher publishes to NATS JetStream, one stream per subject
type NatsPublisher struct {
	nc *nats.Conn
	js jetstream.JetStream

	mu      sync.Mutex
	streams map[string]bool
}

// NewNatsPublisher connects to url
func NewNatsPublisher(url string) (*NatsPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("moplog"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsPublisher{nc: nc, js: js, streams: make(map[string]bool)}, nil
}

// Publish sends a message to JetStream with key and content type as headers
func (n *NatsPublisher) Publish(topic, key, contentType string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), natsPublishTimeout)
	defer cancel()

	if err := n.ensureStream(ctx, topic); err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: topic,
		Data:    value,
		Header: nats.Header{
			"key":          []string{key},
			"Content-Type": []string{contentType},
		},
	}

	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (n *NatsPublisher) ensureStream(ctx context.Context, subject string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.streams[subject] {
		return nil
	}

	streamName := StreamName(subject)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	n.streams[subject] = true
	return nil
}

// Close drains nothing; JetStream publishes are acknowledged synchronously
func (n *NatsPublisher) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// StreamName converts a subject to a valid JetStream stream name.
// Stream names can't contain "." so it becomes "_".
func StreamName(subject string) string {
	return sanitizeName(subject, false)
}
