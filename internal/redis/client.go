package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/koios/kling-batcher/internal/config"
	"github.com/koios/kling-batcher/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// ProgressChannel carries models.ProgressEvent messages
	ProgressChannel = "batcher:progress"
	// LogChannel carries models.LogEvent messages
	LogChannel = "batcher:log"
	// ResultChannel carries models.CommandResult messages
	ResultChannel = "batcher:results"
	// CommandStream is the stream control commands are read from
	CommandStream = "batcher:commands"
)

// Client wraps the Redis client for pub/sub and stream operations
type Client struct {
	client *redis.Client
	config config.RedisConfig
	logger *zap.Logger
	ctx    context.Context
}

// NewClient creates a new Redis client
func NewClient(cfg config.RedisConfig, logger *zap.Logger) (*Client, error) {
	// Generate consumer name if not provided
	if cfg.ConsumerName == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "unknown"
		}
		cfg.ConsumerName = fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "batcher"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	ctx := context.Background()

	// Test the connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client := &Client{
		client: rdb,
		config: cfg,
		logger: logger,
		ctx:    ctx,
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.String("consumer_group", cfg.ConsumerGroup),
		zap.String("consumer_name", cfg.ConsumerName))

	if err := client.initializeConsumerGroup(); err != nil {
		logger.Warn("Failed to initialize consumer group", zap.Error(err))
	}

	return client, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// PublishProgress publishes a progress event
func (c *Client) PublishProgress(event *models.ProgressEvent) error {
	return c.publish(ProgressChannel, event)
}

// PublishLog publishes a log event
func (c *Client) PublishLog(event *models.LogEvent) error {
	return c.publish(LogChannel, event)
}

// PublishCommandResult publishes the outcome of a handled command
func (c *Client) PublishCommandResult(result *models.CommandResult) error {
	return c.publish(ResultChannel, result)
}

func (c *Client) publish(channel string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", channel, err)
	}

	if err := c.client.Publish(c.ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}
	return nil
}

// initializeConsumerGroup creates the consumer group for the command stream
func (c *Client) initializeConsumerGroup() error {
	// "$" skips commands issued while no worker was running
	err := c.client.XGroupCreateMkStream(c.ctx, CommandStream, c.config.ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Consumer group initialized",
		zap.String("stream", CommandStream),
		zap.String("group", c.config.ConsumerGroup))

	return nil
}

// ReadFromStream reads commands from the command stream using the consumer group
func (c *Client) ReadFromStream(ctx context.Context, count int64, block time.Duration) ([]redis.XStream, error) {
	// ">" means only new messages not yet delivered to other consumers
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.ConsumerGroup,
		Consumer: c.config.ConsumerName,
		Streams:  []string{CommandStream, ">"},
		Count:    count,
		Block:    block,
		NoAck:    false,
	}).Result()

	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	return streams, nil
}

// AcknowledgeMessage acknowledges a message from the command stream
func (c *Client) AcknowledgeMessage(ctx context.Context, messageID string) error {
	err := c.client.XAck(ctx, CommandStream, c.config.ConsumerGroup, messageID).Err()
	if err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", messageID, err)
	}

	return nil
}

// IsHealthy checks if Redis connection is healthy
func (c *Client) IsHealthy() bool {
	return c.client.Ping(c.ctx).Err() == nil
}

// Callbacks returns worker callbacks that forward logs and progress to Redis.
// Publish failures are logged and never interrupt the worker.
func (c *Client) Callbacks() (onLog func(models.LogLevel, string), onProgress func(string, int, int)) {
	onLog = func(level models.LogLevel, message string) {
		event := &models.LogEvent{Level: level, Message: message, Timestamp: time.Now()}
		if err := c.PublishLog(event); err != nil {
			c.logger.Debug("Failed to publish log event", zap.Error(err))
		}
	}
	onProgress = func(folder string, completed, total int) {
		event := &models.ProgressEvent{Folder: folder, Completed: completed, Total: total, Timestamp: time.Now()}
		if err := c.PublishProgress(event); err != nil {
			c.logger.Debug("Failed to publish progress event", zap.Error(err))
		}
	}
	return onLog, onProgress
}
