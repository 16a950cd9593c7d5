package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"marcaje/internal/awsconf"
	"marcaje/internal/config"
)

// Open builds the queue named by cfg.QueueBackend. rdb is only used by the
// redis backend.
func Open(ctx context.Context, cfg config.App, rdb *redis.Client) (Queue, error) {
	switch cfg.QueueBackend {
	case "memory":
		return NewInMemory(256), nil
	case "redis", "":
		if rdb == nil {
			return nil, fmt.Errorf("redis queue needs a redis client")
		}
		return NewRedisQueue(rdb, cfg.QueueName), nil
	case "sqs":
		awsCfg, err := awsconf.Load(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		return NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL), nil
	}
	return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
}
