package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay shares envelopes over one Redis pub/sub channel. Delivery is
// at-most-once, matching local delivery semantics.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisRelay wraps an existing client. The relay owns the client and closes it.
func NewRedisRelay(client *redis.Client, channel string, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = defaultRelayChannel
	}
	return &RedisRelay{client: client, channel: channel, logger: logger}
}

// Publish sends envelope to every subscribed process.
func (relay *RedisRelay) Publish(ctx context.Context, envelope Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	return relay.client.Publish(ctx, relay.channel, data).Err()
}

// Subscribe listens on the relay channel. The subscription is confirmed by
// Redis before Subscribe returns.
func (relay *RedisRelay) Subscribe(ctx context.Context) (<-chan Envelope, func(), error) {
	pubsub := relay.client.Subscribe(ctx, relay.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", relay.channel, err)
	}

	out := make(chan Envelope, relayStreamBuffer)
	subCtx, cancelFunc := context.WithCancel(ctx)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelFunc()
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var envelope Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
					relay.logger.Warn("dropping malformed relay envelope", zap.Error(err))
					continue
				}
				select {
				case out <- envelope:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

// Close releases the Redis client.
func (relay *RedisRelay) Close() error {
	return relay.client.Close()
}
