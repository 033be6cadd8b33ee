// Package queue reads the outbound mail stream as part of a consumer group.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// MessageHandler processes one stream entry. A nil error acknowledges it.
type MessageHandler interface {
	Handle(ctx context.Context, msg redis.XMessage) error
}

// StreamClient is the subset of *redis.Client the consumer uses.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XDel(ctx context.Context, stream string, ids ...string) *redis.IntCmd
	XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd
	XClaim(ctx context.Context, a *redis.XClaimArgs) *redis.XMessageSliceCmd
}

type Options struct {
	Stream        string
	Group         string
	Consumer      string
	ClaimInterval time.Duration
	// MaxDeliveries drops an entry after it has failed this many times.
	MaxDeliveries int64
	BatchSize     int64
	Block         time.Duration
}

type Consumer struct {
	client  StreamClient
	opts    Options
	logger  zerolog.Logger
	handler MessageHandler
}

func NewConsumer(client StreamClient, opts Options, logger zerolog.Logger, handler MessageHandler) *Consumer {
	if opts.ClaimInterval <= 0 {
		opts.ClaimInterval = 30 * time.Second
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	return &Consumer{
		client:  client,
		opts:    opts,
		logger:  logger.With().Str("stream", opts.Stream).Str("group", opts.Group).Logger(),
		handler: handler,
	}
}

// EnsureGroup creates the stream and consumer group if they do not exist.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.opts.Stream, c.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Start blocks until ctx is cancelled, reading new entries and periodically
// reclaiming entries left pending by crashed consumers.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(c.opts.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.claimStalled(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error().Err(err).Msg("claim stalled entries failed")
			}
		default:
		}

		if err := c.read(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error().Err(err).Msg("stream read error")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (c *Consumer) read(ctx context.Context) error {
	result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		Streams:  []string{c.opts.Stream, ">"},
		Count:    c.opts.BatchSize,
		Block:    c.opts.Block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	for _, stream := range result {
		for _, msg := range stream.Messages {
			c.process(ctx, msg)
		}
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	if err := c.handler.Handle(ctx, msg); err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("handle message failed")
		return
	}
	c.ack(ctx, msg.ID)
}

// ack acknowledges and then deletes the entry. Entries carry live tokens and
// must not outlive their delivery.
func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.opts.Stream, c.opts.Group, id).Err(); err != nil {
		c.logger.Error().Err(err).Str("message_id", id).Msg("ack failed")
		return
	}
	if err := c.client.XDel(ctx, c.opts.Stream, id).Err(); err != nil {
		c.logger.Error().Err(err).Str("message_id", id).Msg("delete acked entry failed")
	}
}

func (c *Consumer) claimStalled(ctx context.Context) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.opts.Stream,
		Group:  c.opts.Group,
		Idle:   c.opts.ClaimInterval,
		Start:  "-",
		End:    "+",
		Count:  c.opts.BatchSize,
	}).Result()
	if err != nil {
		return err
	}

	for _, entry := range pending {
		if entry.RetryCount >= c.opts.MaxDeliveries {
			c.logger.Warn().Str("message_id", entry.ID).Int64("deliveries", entry.RetryCount).Msg("dropping undeliverable entry")
			c.ack(ctx, entry.ID)
			continue
		}

		msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.opts.Stream,
			Group:    c.opts.Group,
			Consumer: c.opts.Consumer,
			MinIdle:  c.opts.ClaimInterval,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil {
			c.logger.Error().Err(err).Str("message_id", entry.ID).Msg("claim failed")
			continue
		}
		for _, msg := range msgs {
			c.process(ctx, msg)
		}
	}
	return nil
}
