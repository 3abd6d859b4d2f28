package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "sleep:session:"
	publishTTL    = 5 * time.Second
)

// redisPayload is the message published to Redis for cross-instance fan-out.
type redisPayload struct {
	Origin  string       `json:"origin"`
	Message RelayMessage `json:"message"`
	At      int64        `json:"at"`
}

// RedisRelay implements Relay using Redis pub/sub.
type RedisRelay struct {
	client *redis.Client
	origin string
	logger *zap.Logger
}

// NewRedisRelay creates a Redis pub/sub bridge for session traffic. Each relay
// tags its publications with a random origin and ignores them on receipt.
func NewRedisRelay(client *redis.Client, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, origin: uuid.NewString(), logger: logger}
}

// Channel returns the Redis channel of a session.
func Channel(sessionID string) string { return channelPrefix + sessionID }

// Publish publishes msg to the session's Redis channel.
func (r *RedisRelay) Publish(sessionID string, msg RelayMessage) error {
	body, err := json.Marshal(redisPayload{Origin: r.origin, Message: msg, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTTL)
	defer cancel()
	return r.client.Publish(ctx, Channel(sessionID), body).Err()
}

// Subscribe subscribes to a session's Redis channel and calls handler for each
// message published by another instance. Returns a cancel function to stop the subscription.
func (r *RedisRelay) Subscribe(sessionID string, handler func(RelayMessage)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, Channel(sessionID))
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				origin, m, err := decodeRelay([]byte(msg.Payload))
				if err != nil {
					r.logger.Debug("drop malformed relay message", zap.Error(err), zap.String("channel", msg.Channel))
					continue
				}
				if origin == r.origin {
					continue
				}
				handler(m)
			}
		}
	}()
	return cancelCtx, nil
}

func decodeRelay(b []byte) (string, RelayMessage, error) {
	var p redisPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return "", RelayMessage{}, err
	}
	return p.Origin, p.Message, nil
}
