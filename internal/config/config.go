// Package config provides configuration parsing and validation for the router
// and alert checker services.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Stream sources the router can read the stream universe from.
const (
	StreamSourcePostgres = "postgres"
	StreamSourceRedis    = "redis"
)

// RouterConfig holds all configuration parameters for the router service.
type RouterConfig struct {
	KafkaBrokers        string
	MessagesTopic       string
	RoutedTopic         string
	StreamsChangedTopic string
	ConsumerGroupID     string
	StreamsChangedGroup string
	RedisAddr           string
	PostgresDSN         string
	StreamSource        string
	IndexMessages       bool
	PublishSnapshot     bool
	StreamPollInterval  time.Duration
	MaxDeliveryAttempts int
	HTTPAddr            string
	LogLevel            string
}

// Validate checks that all required configuration fields are set and have valid values.
func (c *RouterConfig) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.MessagesTopic == "" {
		return fmt.Errorf("messages-topic cannot be empty")
	}
	if c.RoutedTopic == "" {
		return fmt.Errorf("routed-topic cannot be empty")
	}
	if c.StreamsChangedTopic == "" {
		return fmt.Errorf("streams-changed-topic cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.StreamsChangedGroup == "" {
		return fmt.Errorf("streams-changed-group-id cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	switch c.StreamSource {
	case StreamSourcePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres-dsn cannot be empty when stream-source is postgres")
		}
	case StreamSourceRedis:
	default:
		return fmt.Errorf("stream-source must be %q or %q, got %q", StreamSourcePostgres, StreamSourceRedis, c.StreamSource)
	}
	if c.PublishSnapshot && c.StreamSource != StreamSourcePostgres {
		return fmt.Errorf("publish-snapshot requires stream-source postgres")
	}
	if c.IndexMessages && c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty when index-messages is set")
	}
	if c.StreamPollInterval <= 0 {
		return fmt.Errorf("stream-poll-interval must be > 0")
	}
	if c.MaxDeliveryAttempts <= 0 {
		return fmt.Errorf("max-delivery-attempts must be > 0")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http-addr cannot be empty")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// CheckerConfig holds all configuration parameters for the alert checker service.
type CheckerConfig struct {
	KafkaBrokers   string
	TriggeredTopic string
	RedisAddr      string
	PostgresDSN    string
	CheckInterval  time.Duration
	CheckTimeout   time.Duration
	HTTPAddr       string
	LogLevel       string
}

// Validate checks that all required configuration fields are set and have valid values.
func (c *CheckerConfig) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.TriggeredTopic == "" {
		return fmt.Errorf("triggered-topic cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check-interval must be > 0")
	}
	if c.CheckTimeout <= 0 {
		return fmt.Errorf("check-timeout must be > 0")
	}
	if c.CheckTimeout > c.CheckInterval {
		return fmt.Errorf("check-timeout must not exceed check-interval")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http-addr cannot be empty")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps a log-level flag value to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log-level must be one of debug, info, warn, error, got %q", s)
	}
}
