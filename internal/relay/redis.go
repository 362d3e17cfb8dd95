package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/logging"
)

// ChannelPrefix namespaces room channels on a shared Redis.
const ChannelPrefix = "codeshare:room:"

// RedisBroker fans frames out through Redis pub/sub so that members of one
// room connected to different relay instances see each other's edits.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger

	wg sync.WaitGroup
}

// RedisConfig holds connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NewRedisBroker connects and pings the server.
func NewRedisBroker(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return &RedisBroker{client: client, logger: logging.OrNop(logger).Named("redis")}, nil
}

func channelName(room string) string { return ChannelPrefix + room }

func (b *RedisBroker) Publish(ctx context.Context, f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if err := b.client.Publish(ctx, channelName(f.Room), payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channelName(f.Room), err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, room string, deliver func(Frame)) (func(), error) {
	pubsub := b.client.Subscribe(ctx, channelName(room))
	// Wait for the subscription to be confirmed so that frames published
	// right after Subscribe returns are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", channelName(room), err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range pubsub.Channel() {
			var f Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				b.logger.Warn("dropping malformed frame", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			deliver(f)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				b.logger.Debug("closing subscription", zap.String("room", room), zap.Error(err))
			}
		})
	}, nil
}

// Close closes the client and waits for subscription readers to exit.
// Callers cancel their subscriptions first.
func (b *RedisBroker) Close() error {
	err := b.client.Close()
	b.wg.Wait()
	return err
}
