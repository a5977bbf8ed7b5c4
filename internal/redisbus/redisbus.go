// Package redisbus carries change events over Redis pub/sub.
//
// Pub/sub is fire-and-forget: a subscriber that is not connected when a change
// is published never sees it. That suits live feeds, which re-query on the next
// change anyway, but not the export worker, which uses the AMQP bus.
package redisbus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"spendly/internal/events"
	"spendly/internal/log"
)

type Bus struct {
	client  *redis.Client
	channel string
	logger  *log.Logger
}

// New connects to redisURL (redis:// or rediss://) and verifies the connection.
func New(ctx context.Context, redisURL, channel string, logger *log.Logger) (*Bus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, channel, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, channel string, logger *log.Logger) *Bus {
	return &Bus{client: client, channel: channel, logger: logger.WithComponent(log.ComponentRedis)}
}

func (b *Bus) Publish(ctx context.Context, c events.Change) error {
	body, err := c.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe delivers changes until ctx is done. Handler errors are logged;
// pub/sub has no redelivery.
func (b *Bus) Subscribe(ctx context.Context, handler events.Handler) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription confirmation so callers know they are live.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.InfoContext(ctx, "Subscribed to change channel", "channel", b.channel)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return events.ErrClosed
			}
			b.handle(ctx, msg.Payload, handler)
		}
	}
}

func (b *Bus) handle(ctx context.Context, payload string, handler events.Handler) {
	c, err := events.ChangeFromJSON([]byte(payload))
	if err != nil {
		b.logger.WarnContext(ctx, "Dropping undecodable change", log.FieldError, err)
		return
	}
	if err := handler(ctx, c); err != nil {
		b.logger.ErrorContext(ctx, "Failed to handle change",
			log.FieldOperation, log.OpConsume,
			log.FieldCollection, c.Collection,
			log.FieldDocumentID, c.DocumentID,
			log.FieldError, err)
	}
}

func (b *Bus) Close() error {
	return b.client.Close()
}

var _ events.Bus = (*Bus)(nil)
