package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"gamestate/internal/logging"
)

const (
	retrySuffix        = ":retry"
	dlqSuffix          = ":dlq"
	retryCounterSuffix = ":retry-count:"
	maxRetryAttempts   = 3
	brPopBlock         = 5 * time.Second
)

// PartitionKeyFunc extracts the ordering key from a job payload. Jobs with
// the same key are processed by the same worker, in delivery order.
type PartitionKeyFunc func(payload []byte) string

// RedisQueue implements queue operations using Redis lists.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue builds a Redis-backed queue helper.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Publish appends a job to the tail of a queue.
func (q *RedisQueue) Publish(ctx context.Context, queueName string, payload []byte) error {
	return q.client.LPush(ctx, queueName, payload).Err()
}

// Consume uses BRPOP to deliver jobs to the handler until the context is
// canceled. Failed jobs are re-queued up to maxRetryAttempts, then moved to
// the dead-letter list.
func (q *RedisQueue) Consume(ctx context.Context, queueName string, handler func([]byte) error) error {
	logger := logging.For("queue")
	retryKey := queueName + retrySuffix
	dlqKey := queueName + dlqSuffix

	for {
		if ctx.Err() != nil {
			logger.Warnf("redis consumer exiting: %v", ctx.Err())
			return ctx.Err()
		}

		payload, ok := q.pop(ctx, logger, queueName, retryKey)
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		if err := handler(payload); err != nil {
			logger.Warnf("handler error, scheduling retry: %v", err)
			if err := q.handleRetry(ctx, queueName, retryKey, dlqKey, payload); err != nil {
				logger.Errorf("retry handling failed: %v", err)
			}
			continue
		}
		_ = q.clearRetryCounter(ctx, queueName, payload)
	}
}

// ConsumePartitioned feeds jobs to a pool of workers where each job is
// routed by its partition key: one partition is only ever handled by one
// worker, so jobs within a partition apply in delivery order while distinct
// partitions proceed in parallel.
func (q *RedisQueue) ConsumePartitioned(ctx context.Context, queueName string, workerCount, bufferSize int, keyFn PartitionKeyFunc, handler func([]byte) error) error {
	logger := logging.For("queue")
	retryKey := queueName + retrySuffix
	dlqKey := queueName + dlqSuffix

	channels := make([]chan []byte, workerCount)
	var wg sync.WaitGroup

	for i := 0; i < workerCount; i++ {
		channels[i] = make(chan []byte, bufferSize)
		wg.Add(1)
		go func(workerID int, jobs <-chan []byte) {
			defer wg.Done()
			for payload := range jobs {
				if err := handler(payload); err != nil {
					logger.Warnf("worker %d: handler error, scheduling retry: %v", workerID, err)
					if err := q.handleRetry(ctx, queueName, retryKey, dlqKey, payload); err != nil {
						logger.Errorf("worker %d: retry handling failed: %v", workerID, err)
					}
					continue
				}
				_ = q.clearRetryCounter(ctx, queueName, payload)
			}
			logger.Infof("worker %d: exiting", workerID)
		}(i, channels[i])
	}

	closeAll := func() {
		for _, ch := range channels {
			close(ch)
		}
		wg.Wait()
	}

	logger.Infof("started %d partitioned workers for queue %s", workerCount, queueName)

	for {
		if ctx.Err() != nil {
			logger.Warnf("redis consumer exiting: %v", ctx.Err())
			closeAll()
			return ctx.Err()
		}

		payload, ok := q.pop(ctx, logger, queueName, retryKey)
		if !ok {
			if ctx.Err() != nil {
				closeAll()
				return ctx.Err()
			}
			continue
		}

		worker := PartitionIndex(keyFn(payload), workerCount)
		select {
		case channels[worker] <- payload:
		case <-ctx.Done():
			closeAll()
			return ctx.Err()
		}
	}
}

// PartitionIndex maps a partition key to a worker slot.
func PartitionIndex(key string, workerCount int) int {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int(h.Sum64() % uint64(workerCount))
}

// pop takes the next job from the retry list or the main list. The second
// return value is false when nothing was delivered.
func (q *RedisQueue) pop(ctx context.Context, logger logging.Interface, queueName, retryKey string) ([]byte, bool) {
	result, err := q.client.BRPop(ctx, brPopBlock, retryKey, queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false
		}
		if ctx.Err() != nil {
			logger.Warnf("redis BRPOP canceled: %v", ctx.Err())
			return nil, false
		}
		logger.Warnf("redis BRPOP error: %v", err)
		return nil, false
	}
	if len(result) < 2 {
		return nil, false
	}
	return []byte(result[1]), true
}

func (q *RedisQueue) handleRetry(ctx context.Context, baseQueue, retryKey, dlqKey string, payload []byte) error {
	logger := logging.For("queue")
	attempt, err := q.incrementRetryCounter(ctx, baseQueue, payload)
	if err != nil {
		return err
	}
	if attempt > maxRetryAttempts {
		logger.Warnf("moving job to DLQ after %d attempts", attempt-1)
		_ = q.client.LPush(ctx, dlqKey, payload).Err()
		_ = q.clearRetryCounter(ctx, baseQueue, payload)
		return nil
	}
	return q.client.LPush(ctx, retryKey, payload).Err()
}

func (q *RedisQueue) incrementRetryCounter(ctx context.Context, queueName string, payload []byte) (int64, error) {
	key := retryCounterKey(queueName, payload)
	count, err := q.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = q.client.Expire(ctx, key, 24*time.Hour).Err()
	return count, nil
}

func (q *RedisQueue) clearRetryCounter(ctx context.Context, queueName string, payload []byte) error {
	key := retryCounterKey(queueName, payload)
	return q.client.Del(ctx, key).Err()
}

func retryCounterKey(queue string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%s%s%s", queue, retryCounterSuffix, hex.EncodeToString(sum[:]))
}
