package mail

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StreamDispatcher appends messages to a Redis stream consumed by the worker.
type StreamDispatcher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewStreamDispatcher(client *redis.Client, stream string) *StreamDispatcher {
	return &StreamDispatcher{client: client, stream: stream, maxLen: 10_000}
}

func (d *StreamDispatcher) SendVerificationEmail(ctx context.Context, email, token string) error {
	return d.publish(ctx, Message{Kind: KindVerification, To: email, Token: token})
}

func (d *StreamDispatcher) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	return d.publish(ctx, Message{Kind: KindPasswordReset, To: email, Token: token})
}

func (d *StreamDispatcher) publish(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	err := d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		MaxLen: d.maxLen,
		Approx: true,
		Values: msg.Values(),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s mail: %w", msg.Kind, err)
	}
	return nil
}
