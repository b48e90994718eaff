package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/moplog/moplog/cfg"
	"github.com/moplog/moplog/handler"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBatchSize    = 100
	DefaultKafkaBatchBytes   = 1 << 20 // 1MB
	DefaultKafkaWriteTimeout = 10 * time.Second
)

func init() {
	handler.RegisterHandler("kafka", func(name string, config cfg.HandlerConfiguration) (handler.Handler, error) {
		kafkaConfig := DefaultKafkaConfig(config.Brokers)
		if config.BatchSize > 0 {
			kafkaConfig.BatchSize = config.BatchSize
		}
		pub, err := NewKafkaPublisher(kafkaConfig)
		if err != nil {
			return nil, fmt.Errorf("kafka handler %q: %w", name, err)
		}
		h, err := NewMessageHandler(name, config.Prefix, config.Format, pub)
		if err != nil {
			pub.Close()
			return nil, err
		}
		h.topicName = TopicName
		return h, nil
	})
}

// KafkaPublisher writes envelopes to Kafka
type KafkaPublisher struct {
	writer       *kafka.Writer
	writeTimeout time.Duration
}

// KafkaConfig holds configuration for KafkaPublisher
type KafkaConfig struct {
	Brokers          []string           // Kafka broker addresses
	BatchSize        int                // Batch size (default: 100)
	BatchBytes       int64              // Max batch bytes (default: 1MB)
	RequiredAcks     kafka.RequiredAcks // Ack requirement (default: RequireAll)
	AutoCreateTopics bool               // Auto-create topics if they don't exist (default: true)
	WriteTimeout     time.Duration      // Per-message deadline (default: 10s)
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:          brokers,
		BatchSize:        DefaultKafkaBatchSize,
		BatchBytes:       DefaultKafkaBatchBytes,
		RequiredAcks:     kafka.RequireAll,
		AutoCreateTopics: true,
		WriteTimeout:     DefaultKafkaWriteTimeout,
	}
}

// NewKafkaPublisher creates a writer for the configured brokers
func NewKafkaPublisher(config KafkaConfig) (*KafkaPublisher, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka handler requires at least one broker address")
	}

	if config.BatchSize == 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultKafkaWriteTimeout
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{}, // Same document id, same partition
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		BatchTimeout:           10 * time.Millisecond, // Dispatch is one record at a time
		RequiredAcks:           config.RequiredAcks,
		Async:                  false, // Records are checkpointed after dispatch returns
		AllowAutoTopicCreation: config.AutoCreateTopics,
	}

	return &KafkaPublisher{writer: writer, writeTimeout: config.WriteTimeout}, nil
}

// Publish writes one message and waits for the acks
func (k *KafkaPublisher) Publish(topic, key, contentType string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), k.writeTimeout)
	defer cancel()

	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(contentType)},
		},
	})
}

// Close flushes and releases the writer
func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// TopicName maps a subject to a legal Kafka topic name
func TopicName(subject string) string {
	return sanitizeName(subject, true)
}
