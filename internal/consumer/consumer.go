// Package consumer provides Kafka consumer functionality for the messages topic.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"streamrouter/internal/message"
	kafkautil "streamrouter/pkg/kafka"
)

// Consumer wraps a Kafka reader and decodes incoming log messages.
// Offsets are committed explicitly, after a message has been routed.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer creates a new Kafka consumer with the specified brokers, topic, and group ID.
// The consumer is configured for at-least-once delivery semantics.
func NewConsumer(brokers string, topic string, groupID string) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	cfg := kafkautil.NewReaderConfig(brokerList, topic, groupID)
	reader := kafka.NewReader(cfg)
	kafkautil.LogReaderConfig(cfg)

	return &Consumer{
		reader: reader,
		topic:  topic,
	}, nil
}

// FetchMessage reads the next message without committing its offset.
// The raw Kafka message is returned even when decoding fails so the caller
// can commit past a poison payload.
func (c *Consumer) FetchMessage(ctx context.Context) (*message.Message, *kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}

	decoded, err := message.Decode(kafkautil.Header(msg, kafkautil.HeaderContentType), msg.Value)
	if err != nil {
		return nil, &msg, fmt.Errorf("failed to decode message at offset %d: %w", msg.Offset, err)
	}
	return decoded, &msg, nil
}

// CommitMessage commits the offset of a handled message.
func (c *Consumer) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, *msg); err != nil {
		return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

// Close gracefully closes the Kafka reader and releases resources.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	slog.Info("Kafka consumer closed successfully")
	return nil
}
