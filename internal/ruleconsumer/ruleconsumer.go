// Package ruleconsumer provides Kafka consumer functionality for the streams.changed topic.
package ruleconsumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"streamrouter/internal/events"
	kafkautil "streamrouter/pkg/kafka"
)

// Consumer wraps a Kafka reader for consuming streams.changed events.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer creates a new Kafka consumer for the streams.changed topic.
func NewConsumer(brokers string, topic string, groupID string) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing streams.changed Kafka consumer",
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

// ReadMessage reads and commits the next streams.changed event.
// Change events only trigger a reload, so losing one to a crash is covered by polling.
func (c *Consumer) ReadMessage(ctx context.Context) (*events.StreamChanged, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}
	return events.DecodeStreamChanged(msg.Value)
}

// Close gracefully closes the Kafka reader.
func (c *Consumer) Close() error {
	slog.Info("Closing streams.changed consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing streams.changed consumer", "error", err)
		return err
	}
	slog.Info("Streams.changed consumer closed successfully")
	return nil
}
