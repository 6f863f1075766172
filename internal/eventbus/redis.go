package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"

	"github.com/abitmore/steem/internal/config"
)

// NewRedisClient returns a client for addr.
func NewRedisClient(addr string) redis.UniversalClient {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// NewRedisPublisher returns a Redis Streams publisher.
func NewRedisPublisher(client redis.UniversalClient, logger *slog.Logger) (message.Publisher, error) {
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, watermillLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create redis publisher: %w", err)
	}
	return pub, nil
}

// NewRedisSubscriber returns a Redis Streams subscriber in cfg's consumer group.
func NewRedisSubscriber(client redis.UniversalClient, cfg config.RedisConfig, logger *slog.Logger) (message.Subscriber, error) {
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: cfg.Group,
		Consumer:      cfg.Consumer,
	}, watermillLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create redis subscriber: %w", err)
	}
	return sub, nil
}

// EnsureGroup creates cfg's consumer group at the head of the stream so the
// first subscriber replays it from the beginning. An existing group is left
// alone.
func EnsureGroup(ctx context.Context, client redis.UniversalClient, cfg config.RedisConfig) error {
	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", cfg.Group, cfg.Stream, err)
	}
	return nil
}

func watermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return watermill.NewSlogLogger(logger)
}
