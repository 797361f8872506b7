package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/gatekeep-labs/gatekeep/pkg/timelock"
)

// RedisSink publishes notifications to a Redis pub/sub channel so external
// indexers can follow the authorizer without polling. Publishing is
// best-effort: a failed publish is logged, never surfaced to the state
// machine, and the hash-chained Log remains the durable record.
type RedisSink struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel, logger: slog.Default()}
}

type redisMessage struct {
	Name    string                `json:"name"`
	Payload timelock.Notification `json:"payload"`
}

func (s *RedisSink) Emit(ctx context.Context, n timelock.Notification) {
	msg, err := json.Marshal(redisMessage{Name: n.EventName(), Payload: n})
	if err != nil {
		s.logger.Error("notification marshal failed", "event", n.EventName(), "error", err)
		return
	}
	if err := s.client.Publish(ctx, s.channel, msg).Err(); err != nil {
		s.logger.Error("notification publish failed", "event", n.EventName(), "error", err)
	}
}
