package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/envlight/hdrid/internal/config"
	"github.com/envlight/hdrid/internal/logging/logger"
)

const redisPopTimeout = time.Second

// RedisBroker keeps lanes in Redis so multiple processes can share the
// work. Each lane uses a ready list, a delayed zset and an in-flight zset
// keyed by delivery deadline, with task payloads in a hash.
type RedisBroker struct {
	client     *redis.Client
	visibility time.Duration
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(cfg *config.Queue) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 15 * time.Minute
	}
	return &RedisBroker{client: client, visibility: visibility}, nil
}

func readyKey(lane string) string    { return "hdrid:queue:" + lane }
func delayedKey(lane string) string  { return "hdrid:queue:" + lane + ":delayed" }
func inflightKey(lane string) string { return "hdrid:queue:" + lane + ":inflight" }
func payloadKey(lane string) string  { return "hdrid:queue:" + lane + ":tasks" }

// Enqueue stores the payload and schedules delivery.
func (b *RedisBroker) Enqueue(ctx context.Context, lane string, t *Task, delay time.Duration) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	added, err := b.client.HSetNX(ctx, payloadKey(lane), t.ID, data).Result()
	if err != nil {
		return fmt.Errorf("store task payload: %w", err)
	}
	if !added {
		return ErrTaskExists
	}

	return b.schedule(ctx, lane, t.ID, delay)
}

func (b *RedisBroker) schedule(ctx context.Context, lane, taskID string, delay time.Duration) error {
	if delay <= 0 {
		if err := b.client.LPush(ctx, readyKey(lane), taskID).Err(); err != nil {
			return fmt.Errorf("push task: %w", err)
		}
		return nil
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	if err := b.client.ZAdd(ctx, delayedKey(lane), redis.Z{Score: readyAt, Member: taskID}).Err(); err != nil {
		return fmt.Errorf("schedule task: %w", err)
	}
	return nil
}

// Dequeue promotes due tasks and blocks for the next ready one.
func (b *RedisBroker) Dequeue(ctx context.Context, lane string) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b.promote(ctx, lane)

		res, err := b.client.BRPop(ctx, redisPopTimeout, readyKey(lane)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("pop task: %w", err)
		}

		taskID := res[1]
		data, err := b.client.HGet(ctx, payloadKey(lane), taskID).Result()
		if err == redis.Nil {
			// Payload already acked, stale reference.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load task payload: %w", err)
		}

		var t Task
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			logger.Errorf(ctx, "drop undecodable task %s on lane %s: %v", taskID, lane, err)
			_ = b.client.HDel(ctx, payloadKey(lane), taskID).Err()
			continue
		}

		deadline := float64(time.Now().Add(b.visibility).UnixMilli())
		if err := b.client.ZAdd(ctx, inflightKey(lane), redis.Z{Score: deadline, Member: taskID}).Err(); err != nil {
			return nil, fmt.Errorf("track inflight task: %w", err)
		}
		return &t, nil
	}
}

// promote moves due delayed tasks and expired in-flight tasks back to the
// ready list.
func (b *RedisBroker) promote(ctx context.Context, lane string) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	for _, key := range []string{delayedKey(lane), inflightKey(lane)} {
		ids, err := b.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
		if err != nil || len(ids) == 0 {
			continue
		}
		pipe := b.client.TxPipeline()
		for _, id := range ids {
			pipe.ZRem(ctx, key, id)
			pipe.LPush(ctx, readyKey(lane), id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warnf(ctx, "promote tasks on lane %s failed: %v", lane, err)
		}
	}
}

// Ack removes the task payload and its in-flight marker.
func (b *RedisBroker) Ack(ctx context.Context, lane string, t *Task) error {
	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey(lane), t.ID)
	pipe.HDel(ctx, payloadKey(lane), t.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// Nack updates the payload (attempt count) and reschedules delivery.
func (b *RedisBroker) Nack(ctx context.Context, lane string, t *Task, delay time.Duration) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey(lane), t.ID)
	pipe.HSet(ctx, payloadKey(lane), t.ID, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	return b.schedule(ctx, lane, t.ID, delay)
}

// Close releases the Redis connection.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
