package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout. Scheduled and processing are sorted sets scored by unix
// milliseconds (ready-at and lease-expiry respectively); attempts is a hash
// of delivery counts; dead is a list of JSON dead-letter records.
const (
	keyScheduled  = "settle:scheduled"
	keyProcessing = "settle:processing"
	keyAttempts   = "settle:attempts"
	keyDead       = "settle:dead"
)

// RedisQueue is the production Queue: jobs survive process restarts because
// schedule, lease, and attempt state all live in Redis.
//
// Claiming relies on ZREM being atomic: of all workers that see a due member,
// exactly one gets a non-zero removal count and owns the job. The owner then
// parks the job in the processing set under a lease, so a worker crash
// surfaces as an expired lease instead of a lost trade.
type RedisQueue struct {
	rdb      *redis.Client
	leaseTTL time.Duration
}

// deadLetterRecord is the payload stored per dead-lettered job.
type deadLetterRecord struct {
	TradeID  string    `json:"trade_id"`
	Attempts int       `json:"attempts"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// NewRedisQueue creates a Redis-backed settlement queue.
func NewRedisQueue(rdb *redis.Client, leaseTTL time.Duration) *RedisQueue {
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Second
	}
	return &RedisQueue{rdb: rdb, leaseTTL: leaseTTL}
}

func (q *RedisQueue) Enqueue(ctx context.Context, tradeID string, delay time.Duration) error {
	readyAt := time.Now().Add(delay)

	pipe := q.rdb.TxPipeline()
	pipe.ZAdd(ctx, keyScheduled, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: tradeID,
	})
	// Fresh schedule starts a fresh attempt cycle.
	pipe.HDel(ctx, keyAttempts, tradeID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue settlement for %s: %w", tradeID, err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 10
	}
	now := time.Now()

	due, err := q.rdb.ZRangeByScore(ctx, keyScheduled, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}

	var jobs []Job
	for _, tradeID := range due {
		// The ZREM race decides ownership between concurrent workers.
		removed, err := q.rdb.ZRem(ctx, keyScheduled, tradeID).Result()
		if err != nil {
			return jobs, err
		}
		if removed == 0 {
			continue // another worker won
		}

		attempt, err := q.rdb.HIncrBy(ctx, keyAttempts, tradeID, 1).Result()
		if err != nil {
			return jobs, err
		}
		if err := q.rdb.ZAdd(ctx, keyProcessing, redis.Z{
			Score:  float64(now.Add(q.leaseTTL).UnixMilli()),
			Member: tradeID,
		}).Err(); err != nil {
			return jobs, err
		}

		jobs = append(jobs, Job{
			TradeID: tradeID,
			Attempt: int(attempt),
			ReadyAt: now,
		})
	}
	return jobs, nil
}

func (q *RedisQueue) Complete(ctx context.Context, job Job) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyProcessing, job.TradeID)
	pipe.HDel(ctx, keyAttempts, job.TradeID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Retry(ctx context.Context, job Job, delay time.Duration) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyProcessing, job.TradeID)
	pipe.ZAdd(ctx, keyScheduled, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: job.TradeID,
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job Job, reason string) error {
	rec, err := json.Marshal(deadLetterRecord{
		TradeID:  job.TradeID,
		Attempts: job.Attempt,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyProcessing, job.TradeID)
	pipe.HDel(ctx, keyAttempts, job.TradeID)
	pipe.LPush(ctx, keyDead, rec)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) ReapExpired(ctx context.Context) (int, error) {
	now := time.Now()

	expired, err := q.rdb.ZRangeByScore(ctx, keyProcessing, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, tradeID := range expired {
		removed, err := q.rdb.ZRem(ctx, keyProcessing, tradeID).Result()
		if err != nil {
			return reaped, err
		}
		if removed == 0 {
			continue
		}
		// Immediate redelivery; the attempt count survives.
		if err := q.rdb.ZAdd(ctx, keyScheduled, redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: tradeID,
		}).Err(); err != nil {
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	scheduled := pipe.ZCard(ctx, keyScheduled)
	processing := pipe.ZCard(ctx, keyProcessing)
	dead := pipe.LLen(ctx, keyDead)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{
		Scheduled:  scheduled.Val(),
		Processing: processing.Val(),
		Dead:       dead.Val(),
	}, nil
}
