package broadcast

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Relay backends accepted by OpenRelay.
const (
	BackendLocal = "local"
	BackendRedis = "redis"
	BackendNATS  = "nats"
)

const (
	defaultRelayChannel = "corkboard.broadcast"
	relayStreamBuffer   = 256
)

// Relay carries envelopes between processes sharing the same rooms.
type Relay interface {
	Publish(ctx context.Context, envelope Envelope) error
	// Subscribe returns a stream of envelopes published by any process,
	// including this one. The cancel function stops the stream and closes it.
	Subscribe(ctx context.Context) (<-chan Envelope, func(), error)
	Close() error
}

// RelayConfig selects and addresses a relay backend.
type RelayConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	NATSURL       string
	Channel       string
}

// OpenRelay connects the configured backend. The local backend yields a nil
// relay, meaning in-process delivery only.
func OpenRelay(ctx context.Context, cfg RelayConfig, logger *zap.Logger) (Relay, error) {
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = defaultRelayChannel
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendLocal:
		return nil, nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("broadcast: redis ping %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisRelay(client, channel, logger), nil
	case BackendNATS:
		return NewNATSRelay(cfg.NATSURL, channel, logger)
	default:
		return nil, fmt.Errorf("broadcast: unsupported relay backend %q", cfg.Backend)
	}
}
