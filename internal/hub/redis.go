package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelPrefix namespaces hub rooms on the redis bus
const ChannelPrefix = "mockgate:"

// RedisBridge shares hub events between gateway instances. Publish goes to
// redis; Run relays every bus message into the local hub.
type RedisBridge struct {
	Client *redis.Client
	hub    *Hub
	logger *zap.Logger
}

// NewRedisBridge accepts either a redis:// URL or a bare host:port
func NewRedisBridge(redisURL string, hub *Hub, logger *zap.Logger) (*RedisBridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts *redis.Options
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: redisURL}
	}

	return &RedisBridge{
		Client: redis.NewClient(opts),
		hub:    hub,
		logger: logger.With(zap.String("component", "redis")),
	}, nil
}

// Channel maps a room to its redis channel
func Channel(room string) string {
	return ChannelPrefix + room
}

// Ping verifies the redis connection
func (b *RedisBridge) Ping(ctx context.Context) error {
	if err := b.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	b.logger.Info("redis connection established", zap.String("addr", b.Client.Options().Addr))
	return nil
}

// Publish sends ev to every instance subscribed to the bus
func (b *RedisBridge) Publish(ctx context.Context, room string, ev Event) error {
	if ev.Room == "" {
		ev.Room = room
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := b.Client.Publish(ctx, Channel(room), data).Err(); err != nil {
		return fmt.Errorf("publishing to redis: %w", err)
	}
	return nil
}

// Run relays bus messages into the local hub until ctx is cancelled
func (b *RedisBridge) Run(ctx context.Context) error {
	ps := b.Client.PSubscribe(ctx, ChannelPrefix+"*")
	defer func() { _ = ps.Close() }()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to redis: %w", err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			room := strings.TrimPrefix(msg.Channel, ChannelPrefix)
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("dropping malformed bus message", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			b.hub.Deliver(room, ev)
		}
	}
}

// Close closes the redis connection
func (b *RedisBridge) Close() error {
	if err := b.Client.Close(); err != nil {
		b.logger.Error("failed to close redis connection", zap.Error(err))
		return err
	}
	b.logger.Info("redis connection closed successfully")
	return nil
}
