// Package redis fans audit and approval events out to live subscribers.
// Delivery is best effort: a message published while a dashboard is
// reconnecting is simply missed, the durable record lives in Postgres.
package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// subscriberBuffer bounds how far a slow websocket reader can fall behind
// before messages are dropped on the floor.
const subscriberBuffer = 64

type PubSub struct {
	client *redis.Client
}

func New(ctx context.Context, addr, password string, db int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &PubSub{client: client}, nil
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish: %w", err)
	}
	return nil
}

// Subscribe starts forwarding messages on channel until ctx is cancelled
// or cleanup is called. The returned channel is closed on either.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// Receive blocks until the server acknowledges the subscription, so a
	// Publish racing this call cannot be silently lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe: receive confirmation: %w", err)
	}

	out := make(chan []byte, subscriberBuffer)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}

// AuditChannel returns the Redis channel carrying an org's live audit feed.
func AuditChannel(orgID uuid.UUID) string {
	return "audit:" + orgID.String()
}

// ApprovalChannel returns the Redis channel carrying an org's approval
// lifecycle events (created, decided, expired).
func ApprovalChannel(orgID uuid.UUID) string {
	return "approvals:" + orgID.String()
}
