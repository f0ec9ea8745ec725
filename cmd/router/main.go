package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamrouter/internal/config"
	"streamrouter/internal/consumer"
	"streamrouter/internal/database"
	"streamrouter/internal/httpapi"
	"streamrouter/internal/processor"
	"streamrouter/internal/producer"
	"streamrouter/internal/reloader"
	"streamrouter/internal/router"
	"streamrouter/internal/ruleconsumer"
	"streamrouter/internal/snapshot"
	kafkautil "streamrouter/pkg/kafka"
	"streamrouter/pkg/metrics"
	"streamrouter/pkg/shared"
)

func main() {
	// Parse command-line flags
	cfg := &config.RouterConfig{}
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", shared.GetEnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "Kafka broker addresses (comma-separated)")
	flag.StringVar(&cfg.MessagesTopic, "messages-topic", "messages.new", "Kafka topic for incoming messages")
	flag.StringVar(&cfg.RoutedTopic, "routed-topic", "messages.routed", "Kafka topic for routed messages")
	flag.StringVar(&cfg.StreamsChangedTopic, "streams-changed-topic", "streams.changed", "Kafka topic for stream change events")
	flag.StringVar(&cfg.ConsumerGroupID, "consumer-group-id", "router-group", "Kafka consumer group ID for incoming messages")
	flag.StringVar(&cfg.StreamsChangedGroup, "streams-changed-group-id", "router-streams-changed-group", "Kafka consumer group ID for streams.changed")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", shared.GetEnvOrDefault("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", shared.GetEnvOrDefault("POSTGRES_DSN", ""), "PostgreSQL connection string")
	flag.StringVar(&cfg.StreamSource, "stream-source", config.StreamSourcePostgres, "Where to load streams from (postgres or redis)")
	flag.BoolVar(&cfg.IndexMessages, "index-messages", false, "Store routed messages in PostgreSQL for alert checks")
	flag.BoolVar(&cfg.PublishSnapshot, "publish-snapshot", false, "Publish the stream universe to Redis for redis-sourced routers")
	flag.DurationVar(&cfg.StreamPollInterval, "stream-poll-interval", shared.GetDurationEnvOrDefault("STREAM_POLL_INTERVAL", 5*time.Second), "Interval for polling the stream source")
	flag.IntVar(&cfg.MaxDeliveryAttempts, "max-delivery-attempts", processor.DefaultMaxDeliveryAttempts, "Publish attempts for a routed message before it is abandoned")
	flag.StringVar(&cfg.HTTPAddr, "http-addr", ":8080", "Listen address of the ops HTTP server")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	slog.Info("Starting router service",
		"kafka_brokers", cfg.KafkaBrokers,
		"messages_topic", cfg.MessagesTopic,
		"routed_topic", cfg.RoutedTopic,
		"streams_changed_topic", cfg.StreamsChangedTopic,
		"consumer_group_id", cfg.ConsumerGroupID,
		"redis_addr", cfg.RedisAddr,
		"postgres_dsn", shared.MaskDSN(cfg.PostgresDSN),
		"stream_source", cfg.StreamSource,
		"index_messages", cfg.IndexMessages,
		"publish_snapshot", cfg.PublishSnapshot,
		"stream_poll_interval", cfg.StreamPollInterval,
		"max_delivery_attempts", cfg.MaxDeliveryAttempts,
		"http_addr", cfg.HTTPAddr,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	slog.Info("Connecting to Redis", "addr", cfg.RedisAddr)
	redisClient, err := shared.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("Successfully connected to Redis")

	var db *database.DB
	if cfg.PostgresDSN != "" {
		db, err = database.NewDB(cfg.PostgresDSN)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	var source reloader.Source
	switch cfg.StreamSource {
	case config.StreamSourcePostgres:
		source = db
	case config.StreamSourceRedis:
		source = snapshot.NewLoader(redisClient)
	}

	collector := metrics.NewCollector("router", redisClient)
	collector.Start(ctx)
	defer collector.Stop()

	// The cache keeps Route off the I/O path; the router rebuilds its table
	// when the cached universe changes.
	streamCache := reloader.NewReloader(source, cfg.StreamPollInterval)
	streamRouter := router.NewRouter(streamCache)
	streamCache.OnReload(func() {
		streamRouter.Invalidate()
		collector.IncrementCustom("stream_universe_changes")
	})
	if cfg.PublishSnapshot {
		writer := snapshot.NewWriter(redisClient)
		streamCache.OnReload(func() {
			all, err := streamCache.LoadAllEnabled(ctx)
			if err != nil {
				slog.Error("Failed to read stream cache for snapshot", "error", err)
				return
			}
			if _, err := writer.WriteSnapshot(ctx, all); err != nil {
				slog.Error("Failed to publish stream snapshot", "error", err)
			}
		})
	}
	if err := streamCache.Start(ctx); err != nil {
		slog.Error("Failed to load streams", "error", err)
		os.Exit(1)
	}

	brokers := kafkautil.ParseBrokers(cfg.KafkaBrokers)
	if err := kafkautil.EnsureTopic(brokers[0], cfg.RoutedTopic, 3); err != nil {
		slog.Warn("Could not ensure routed topic exists", "topic", cfg.RoutedTopic, "error", err)
	}

	// Initialize streams.changed consumer (for immediate reloads)
	changeConsumer, err := ruleconsumer.NewConsumer(cfg.KafkaBrokers, cfg.StreamsChangedTopic, cfg.StreamsChangedGroup)
	if err != nil {
		slog.Error("Failed to create streams.changed consumer", "error", err)
		os.Exit(1)
	}
	defer changeConsumer.Close()
	changeHandler := processor.NewStreamChangeHandler(changeConsumer, streamCache, collector)
	go changeHandler.HandleStreamChanged(ctx)

	messageConsumer, err := consumer.NewConsumer(cfg.KafkaBrokers, cfg.MessagesTopic, cfg.ConsumerGroupID)
	if err != nil {
		slog.Error("Failed to create Kafka consumer", "error", err)
		os.Exit(1)
	}
	defer messageConsumer.Close()

	routedProducer, err := producer.NewRoutedProducer(cfg.KafkaBrokers, cfg.RoutedTopic)
	if err != nil {
		slog.Error("Failed to create Kafka producer", "error", err)
		os.Exit(1)
	}
	defer routedProducer.Close()

	var store processor.MessageStore
	if cfg.IndexMessages {
		store = database.NewMessageIndex(db)
	}
	var streamLoader httpapi.StreamLoader
	if db != nil {
		streamLoader = db
	}

	handlers := httpapi.NewHandlers(streamLoader, streamRouter, metrics.NewReader(redisClient), collector)
	server := httpapi.NewServer(cfg.HTTPAddr, handlers)
	go func() {
		slog.Info("Starting HTTP server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	proc := processor.NewProcessor(messageConsumer, streamRouter, routedProducer, store, collector)
	proc.SetMaxDeliveryAttempts(cfg.MaxDeliveryAttempts)
	if err := proc.ProcessMessages(ctx); err != nil {
		slog.Error("Message processing failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down HTTP server", "error", err)
	}

	slog.Info("Router service stopped")
}
