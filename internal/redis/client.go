// Package redis wraps the shared Redis connection. It carries the
// cross-instance concerns: the shared rule cache hangs off the raw client,
// and rule-change events published by the admin plane fan out to every
// evaluator over pub/sub so local snapshots are invalidated promptly.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"mail-router/internal/common/logging"
)

// RuleChangeChannel is the pub/sub channel rule edits are announced on.
const RuleChangeChannel = "mail-router:rule-changes"

type Client struct {
	rdb    *redis.Client
	config *Config
	logger logging.Logger
}

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// RuleChangeEvent identifies the scope whose cached rules are stale. An empty
// DomainID means an organization-wide transport rule changed.
type RuleChangeEvent struct {
	OrganizationID string `json:"organizationId"`
	DomainID       string `json:"domainId,omitempty"`
}

func NewClient(config *Config, logger logging.Logger) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
		logger: logger,
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Raw exposes the underlying client for the shared cache layer.
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

// PublishRuleChange announces a rule edit to every subscribed evaluator.
// Called by the admin plane after a rule is created, updated or deleted.
func (c *Client) PublishRuleChange(ctx context.Context, event RuleChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal rule change event: %w", err)
	}
	if err := c.rdb.Publish(ctx, RuleChangeChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish rule change: %w", err)
	}
	return nil
}

// SubscribeRuleChanges delivers rule-change events to the handler until ctx
// is cancelled. Undecodable payloads are logged and skipped; a stale cache
// entry ages out via TTL anyway.
func (c *Client) SubscribeRuleChanges(ctx context.Context, handler func(ctx context.Context, event RuleChangeEvent)) error {
	sub := c.rdb.Subscribe(ctx, RuleChangeChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", RuleChangeChannel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event RuleChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					c.logger.Warn("discarding undecodable rule change event",
						logging.Field{Key: "payload", Value: msg.Payload})
					continue
				}
				handler(ctx, event)
			}
		}
	}()

	return nil
}
