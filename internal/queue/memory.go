package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue implements Queue with in-memory state. Used for testing and
// development. Jobs do not survive a restart; the Redis queue is the
// production transport.
type MemoryQueue struct {
	mu       sync.Mutex
	leaseTTL time.Duration

	scheduled  map[string]time.Time // tradeID → readyAt
	processing map[string]time.Time // tradeID → lease expiry
	attempts   map[string]int
	dead       []Job
}

// NewMemoryQueue creates a new in-memory settlement queue.
func NewMemoryQueue(leaseTTL time.Duration) *MemoryQueue {
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Second
	}
	return &MemoryQueue{
		leaseTTL:   leaseTTL,
		scheduled:  make(map[string]time.Time),
		processing: make(map[string]time.Time),
		attempts:   make(map[string]int),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, tradeID string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.scheduled[tradeID] = time.Now().Add(delay)
	delete(q.attempts, tradeID)
	return nil
}

func (q *MemoryQueue) Claim(_ context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 10
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var due []string
	for id, readyAt := range q.scheduled {
		if !readyAt.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return q.scheduled[due[i]].Before(q.scheduled[due[j]])
	})
	if len(due) > limit {
		due = due[:limit]
	}

	var jobs []Job
	for _, id := range due {
		delete(q.scheduled, id)
		q.attempts[id]++
		q.processing[id] = now.Add(q.leaseTTL)
		jobs = append(jobs, Job{
			TradeID: id,
			Attempt: q.attempts[id],
			ReadyAt: now,
		})
	}
	return jobs, nil
}

func (q *MemoryQueue) Complete(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, job.TradeID)
	delete(q.attempts, job.TradeID)
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, job Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, job.TradeID)
	q.scheduled[job.TradeID] = time.Now().Add(delay)
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, job Job, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, job.TradeID)
	delete(q.attempts, job.TradeID)
	q.dead = append(q.dead, job)
	return nil
}

func (q *MemoryQueue) ReapExpired(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	reaped := 0
	for id, expiry := range q.processing {
		if expiry.Before(now) {
			delete(q.processing, id)
			q.scheduled[id] = now
			reaped++
		}
	}
	return reaped, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Scheduled:  int64(len(q.scheduled)),
		Processing: int64(len(q.processing)),
		Dead:       int64(len(q.dead)),
	}, nil
}

// DeadJobs returns a copy of the dead-letter list, newest last.
func (q *MemoryQueue) DeadJobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, len(q.dead))
	copy(out, q.dead)
	return out
}
