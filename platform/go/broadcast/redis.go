package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisPrefix = "progress:"

// RedisPublisher sends events over Redis pub/sub so API processes can relay them.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	if client == nil {
		panic("redis publisher requires client")
	}
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, redisPrefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Relay forwards every Redis progress message into the local hub until ctx is done.
// ready, when non-nil, is closed once the pattern subscription is confirmed.
func Relay(ctx context.Context, client *redis.Client, hub *Hub, logger *zap.Logger, ready chan<- struct{}) error {
	pubsub := client.PSubscribe(ctx, redisPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe progress channels: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				logger.Warn("dropping malformed progress event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			_ = hub.Publish(ctx, strings.TrimPrefix(msg.Channel, redisPrefix), evt)
		}
	}
}

var _ Publisher = (*RedisPublisher)(nil)
