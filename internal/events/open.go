package events

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"content-podcaster/internal/config"
)

// NewPublisher returns the publisher selected by cfg.Bus. rdb may be nil
// unless the Redis bus is selected.
func NewPublisher(cfg config.Events, rdb *redis.Client, log logrus.FieldLogger) (Publisher, error) {
	switch cfg.Bus {
	case config.EventBusRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis event bus needs a redis client")
		}
		return NewRedisBus(rdb, cfg.RedisChannel, log), nil
	case config.EventBusKafka:
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case config.EventBusNone:
		return Nop{}, nil
	}
	return nil, fmt.Errorf("unknown event bus %q", cfg.Bus)
}

func NewSubscriber(cfg config.Events, rdb *redis.Client, log logrus.FieldLogger) (Subscriber, error) {
	switch cfg.Bus {
	case config.EventBusRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis event bus needs a redis client")
		}
		return NewRedisBus(rdb, cfg.RedisChannel, log), nil
	case config.EventBusKafka:
		return NewKafkaSubscriber(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, log), nil
	case config.EventBusNone:
		return Nop{}, nil
	}
	return nil, fmt.Errorf("unknown event bus %q", cfg.Bus)
}
