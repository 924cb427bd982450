package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/koios/kling-batcher/internal/handlers"
	"github.com/koios/kling-batcher/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Consumer reads control commands from the Redis command stream
type Consumer struct {
	client  *Client
	handler *handlers.CommandHandler
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewConsumer creates a new Redis consumer
func NewConsumer(client *Client, handler *handlers.CommandHandler, logger *zap.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		client:  client,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start consumes commands until Stop is called
func (c *Consumer) Start() error {
	c.logger.Info("Starting Redis consumer for control commands")

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("Redis consumer stopped")
			return nil
		default:
			if err := c.consumeMessages(); err != nil {
				c.logger.Error("Error consuming messages, will retry",
					zap.Error(err),
					zap.Duration("retry_delay", 5*time.Second))
				select {
				case <-c.ctx.Done():
				case <-time.After(5 * time.Second):
				}
				continue
			}
		}
	}
}

// Stop stops the consumer
func (c *Consumer) Stop() {
	c.logger.Info("Stopping Redis consumer")
	c.cancel()
}

// consumeMessages reads the command stream until the consumer is stopped
func (c *Consumer) consumeMessages() error {
	for {
		select {
		case <-c.ctx.Done():
			return nil
		default:
			streams, err := c.client.ReadFromStream(c.ctx, 10, 5*time.Second)
			if err != nil {
				if c.ctx.Err() != nil {
					return nil
				}
				if !c.client.IsHealthy() {
					return fmt.Errorf("Redis connection unhealthy, will reconnect")
				}
				c.logger.Error("Error reading from stream", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					c.handleStreamMessage(message)
				}
			}
		}
	}
}

// handleStreamMessage processes a single command message
func (c *Consumer) handleStreamMessage(msg redis.XMessage) {
	c.logger.Debug("Received command from stream",
		zap.String("message_id", msg.ID),
		zap.Int("fields_count", len(msg.Values)))

	cmd, err := parseCommand(msg)
	if err != nil {
		c.logger.Error("Invalid command message",
			zap.Error(err),
			zap.String("message_id", msg.ID))
		// Acknowledge the message to prevent reprocessing bad data
		_ = c.client.AcknowledgeMessage(c.ctx, msg.ID)
		return
	}

	result, err := c.handler.Handle(c.ctx, cmd)
	if err != nil {
		c.logger.Warn("Command rejected",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("command", cmd.Name))
	}

	if err := c.client.PublishCommandResult(result); err != nil {
		c.logger.Error("Failed to publish command result",
			zap.Error(err),
			zap.String("message_id", msg.ID))
	}

	if err := c.client.AcknowledgeMessage(c.ctx, msg.ID); err != nil {
		c.logger.Error("Failed to acknowledge message",
			zap.Error(err),
			zap.String("message_id", msg.ID))
	} else {
		c.logger.Debug("Command processed and acknowledged",
			zap.String("message_id", msg.ID),
			zap.String("command", cmd.Name))
	}
}

// parseCommand reads a command from a stream message. The message carries
// either a JSON "payload" field or plain "command", "request_id" and
// comma separated "folders" fields.
func parseCommand(msg redis.XMessage) (*models.Command, error) {
	var cmd models.Command

	if payload, ok := msg.Values["payload"].(string); ok {
		if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
			return nil, fmt.Errorf("failed to unmarshal command payload: %w", err)
		}
	} else if name, ok := msg.Values["command"].(string); ok {
		cmd.Name = name
		cmd.RequestID, _ = msg.Values["request_id"].(string)
		if folders, ok := msg.Values["folders"].(string); ok {
			cmd.Folders = splitList(folders)
		}
	} else {
		return nil, errors.New("message has neither payload nor command field")
	}

	if cmd.Name == "" {
		return nil, errors.New("command name is empty")
	}
	if cmd.RequestID == "" {
		cmd.RequestID = msg.ID
	}
	return &cmd, nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
