package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// enqueueScript adds a member or lowers its score, never raising it
var enqueueScript = redis.NewScript(`
local current = redis.call('ZSCORE', KEYS[1], ARGV[2])
if (not current) or tonumber(ARGV[1]) < tonumber(current) then
	redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// RedisConfig configures the redis-backed queue
type RedisConfig struct {
	KeyPrefix    string
	PollInterval time.Duration
	BatchSize    int64
	Buffer       int
}

// RedisQueue stores pending jobs in a sorted set scored by due time (unix ms).
// Due members are claimed with ZREM so each job is delivered to exactly one replica.
type RedisQueue struct {
	client *redis.Client
	config RedisConfig
	key    string
	out    chan Job
	logger *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

// NewRedisQueue creates a queue on top of an existing redis client
func NewRedisQueue(client *redis.Client, config RedisConfig, logger *zap.Logger) *RedisQueue {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "tracker:jobs"
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 250 * time.Millisecond
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.Buffer <= 0 {
		config.Buffer = 256
	}
	return &RedisQueue{
		client: client,
		config: config,
		key:    config.KeyPrefix + ":due",
		out:    make(chan Job, config.Buffer),
		logger: logger,
	}
}

// Enqueue schedules job after delay, keeping the earlier due time for a pending key
func (q *RedisQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if delay < 0 {
		delay = 0
	}
	due := time.Now().Add(delay).UnixMilli()

	if err := enqueueScript.Run(ctx, q.client, []string{q.key}, due, job.Key()).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.Key(), err)
	}
	return nil
}

// Jobs delivers due jobs
func (q *RedisQueue) Jobs() <-chan Job {
	return q.out
}

// Start launches the claim loop
func (q *RedisQueue) Start(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(1)
	go q.claimLoop(loopCtx)

	q.logger.Info("Redis job queue started", zap.String("key", q.key))
	return nil
}

func (q *RedisQueue) claimLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.claimDue(ctx); err != nil && ctx.Err() == nil {
				q.logger.Warn("Failed to claim due jobs", zap.Error(err))
			}
		}
	}
}

func (q *RedisQueue) claimDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: q.config.BatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to list due jobs: %w", err)
	}

	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return fmt.Errorf("failed to claim job %s: %w", member, err)
		}
		if removed == 0 {
			// claimed by another replica
			continue
		}

		job, err := ParseKey(member)
		if err != nil {
			q.logger.Error("Discarding malformed job", zap.String("member", member), zap.Error(err))
			continue
		}

		select {
		case q.out <- job:
		case <-ctx.Done():
			// hand the job back so it is not lost
			q.requeue(job)
			return nil
		}
	}
	return nil
}

// requeue puts a claimed job back as due now, keeping an earlier pending entry
func (q *RedisQueue) requeue(job Job) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := enqueueScript.Run(ctx, q.client, []string{q.key}, time.Now().UnixMilli(), job.Key()).Err(); err != nil && err != redis.Nil {
		q.logger.Error("Failed to requeue claimed job", zap.String("key", job.Key()), zap.Error(err))
		return false
	}
	return true
}

// drainBuffered returns claimed jobs nobody read to the sorted set
func (q *RedisQueue) drainBuffered() int {
	requeued := 0
	for {
		select {
		case job := <-q.out:
			if q.requeue(job) {
				requeued++
			}
		default:
			return requeued
		}
	}
}

// Pending returns the number of scheduled jobs
func (q *RedisQueue) Pending(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return int(n), nil
}

// Close stops the claim loop and puts claimed but unread jobs back into redis.
// Pending jobs stay in redis.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()

	if requeued := q.drainBuffered(); requeued > 0 {
		q.logger.Info("Returned buffered jobs to redis", zap.Int("count", requeued))
	}
	return nil
}
