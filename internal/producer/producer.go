// Package producer provides Kafka producers for routed messages and alert check results.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"streamrouter/internal/alert"
	"streamrouter/internal/message"
	kafkautil "streamrouter/pkg/kafka"
)

// messageWriter is the subset of *kafka.Writer used by the producers.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer wraps a Kafka writer for one topic.
type Producer struct {
	writer messageWriter
	topic  string
}

func newProducer(brokers string, topic string) (*Producer, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka producer",
		"brokers", brokerList,
		"topic", topic,
	)

	writer := kafkautil.NewWriter(brokerList, topic)

	slog.Info("Kafka producer configured",
		"topic", topic,
		"write_timeout", kafkautil.WriteTimeout,
		"required_acks", "RequireOne",
		"async", false,
	)

	return &Producer{
		writer: writer,
		topic:  topic,
	}, nil
}

// Close gracefully closes the Kafka writer and releases resources.
func (p *Producer) Close() error {
	slog.Info("Closing Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka producer", "error", err)
		return err
	}
	slog.Info("Kafka producer closed successfully")
	return nil
}

// RoutedProducer publishes messages tagged with the streams they matched.
type RoutedProducer struct {
	*Producer
}

// NewRoutedProducer creates a producer for the routed messages topic.
func NewRoutedProducer(brokers string, topic string) (*RoutedProducer, error) {
	p, err := newProducer(brokers, topic)
	if err != nil {
		return nil, err
	}
	return &RoutedProducer{Producer: p}, nil
}

// Publish writes msg tagged with streamIDs, encoded with the given content type.
// The message is keyed by its ID so redeliveries land on the same partition.
func (p *RoutedProducer) Publish(ctx context.Context, msg *message.Message, streamIDs []string, contentType string) error {
	tagged := msg.WithStreams(streamIDs)
	payload, err := message.Encode(contentType, tagged)
	if err != nil {
		return fmt.Errorf("failed to encode routed message %s: %w", msg.ID, err)
	}
	if contentType == "" {
		contentType = message.ContentTypeJSON
	}

	out := kafka.Message{
		Key:   []byte(msg.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: kafkautil.HeaderContentType, Value: []byte(contentType)},
			{Key: "stream_count", Value: []byte(strconv.Itoa(len(streamIDs)))},
		},
	}
	if ts := msg.Timestamp(); !ts.IsZero() {
		out.Time = ts
	}

	if err := p.writer.WriteMessages(ctx, out); err != nil {
		slog.Error("Failed to write routed message to Kafka",
			"message_id", msg.ID,
			"topic", p.topic,
			"error", err,
		)
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return nil
}

// ResultProducer publishes triggered alert check results.
type ResultProducer struct {
	*Producer
}

// NewResultProducer creates a producer for the triggered alerts topic.
func NewResultProducer(brokers string, topic string) (*ResultProducer, error) {
	p, err := newProducer(brokers, topic)
	if err != nil {
		return nil, err
	}
	return &ResultProducer{Producer: p}, nil
}

// Notify serializes the result to JSON and publishes it keyed by stream ID.
func (p *ResultProducer) Notify(ctx context.Context, result *alert.CheckResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal check result: %w", err)
	}

	out := kafka.Message{
		Key:   []byte(result.StreamID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: kafkautil.HeaderContentType, Value: []byte(message.ContentTypeJSON)},
			{Key: "condition_id", Value: []byte(result.ConditionID)},
			{Key: "result_id", Value: []byte(result.ID)},
		},
		Time: result.TriggeredAt,
	}

	if err := p.writer.WriteMessages(ctx, out); err != nil {
		slog.Error("Failed to write check result to Kafka",
			"condition_id", result.ConditionID,
			"topic", p.topic,
			"error", err,
		)
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return nil
}
