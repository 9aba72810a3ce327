package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// channelPrefix namespaces event channels in Redis pub/sub.
const channelPrefix = "auction-events:"

// RedisPublisher publishes events on a Redis pub/sub channel per topic so
// that every server instance can relay them to its own WebSocket clients.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher creates a publisher on rdb.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, ev Event) error {
	data, err := json.Marshal(Envelope{Topic: topic, Event: ev})
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, channelPrefix+topic, data).Err()
}

// RedisRelay subscribes to every event channel and hands each event to a
// local Broadcaster, typically the instance's Hub.
type RedisRelay struct {
	rdb   *redis.Client
	local Broadcaster
}

// NewRedisRelay creates a relay from rdb into local.
func NewRedisRelay(rdb *redis.Client, local Broadcaster) *RedisRelay {
	return &RedisRelay{rdb: rdb, local: local}
}

// Run relays until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	slog.Info("redis event relay subscribed", "pattern", channelPrefix+"*")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Warn("redis relay: bad payload", "channel", msg.Channel, "err", err)
				continue
			}
			topic := env.Topic
			if topic == "" {
				topic = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			if err := r.local.Publish(ctx, topic, env.Event); err != nil {
				slog.Warn("redis relay: local publish failed", "topic", topic, "err", err)
			}
		}
	}
}
