package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisQueue implements a Redis list-backed queue with a sorted set holding
// delayed retries.
type RedisQueue struct {
	client  *redis.Client
	key     string
	delayed string
	poll    time.Duration
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "marcaje:queue"
	}
	return &RedisQueue{client: client, key: key, delayed: key + ":delayed", poll: time.Second}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, b).Err()
}

// Consume streams messages using BRPOP. Due retries are promoted to the
// list between polls.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			if err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
				log.Ctx(ctx).Warn().Err(err).Msg("promote delayed messages")
			}
			res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				log.Ctx(ctx).Warn().Err(err).Msg("brpop failed")
				time.Sleep(q.poll)
				continue
			}
			if len(res) != 2 {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("dropping malformed queue message")
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// promoteDue moves retries whose delay has elapsed back onto the list. ZREM
// guards against two consumers promoting the same member.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, q.delayed, &redis.ZRangeBy{Min: "-inf", Max: now, Count: 100}).Result()
	if err != nil {
		return err
	}
	for _, member := range due {
		removed, err := q.client.ZRem(ctx, q.delayed, member).Result()
		if err != nil {
			return err
		}
		if removed == 1 {
			if err := q.client.LPush(ctx, q.key, member).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Ack is a no-op: BRPOP already removed the message.
func (q *RedisQueue) Ack(context.Context, Message) error { return nil }

func (q *RedisQueue) Retry(ctx context.Context, msg Message, delay time.Duration) error {
	msg.Attempt++
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, q.delayed, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: string(b),
	}).Err()
}
