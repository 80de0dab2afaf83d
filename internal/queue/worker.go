package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/binopt/settlement-engine/internal/metrics"
	"github.com/binopt/settlement-engine/internal/store"
)

// Settler executes settlement of one trade. A nil return means the trade is
// terminal (settled now or found already settled); any error is judged by
// the worker as transient or fatal.
type Settler interface {
	Settle(ctx context.Context, tradeID string) error
}

// WorkerConfig tunes the settlement worker pool.
type WorkerConfig struct {
	Concurrency  int           // parallel claim loops, default 2
	PollInterval time.Duration // idle sleep between claims, default 500ms
	BatchSize    int           // max jobs per claim, default 10
	MaxAttempts  int           // total attempts before dead-letter, default 3
	BackoffBase  time.Duration // first retry delay, doubles per attempt, default 2s
	JobTimeout   time.Duration // per-settlement deadline, default 10s
}

func (c *WorkerConfig) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Second
	}
}

// Worker pulls due settlement jobs and drives them through the Settler with
// bounded retry. Any number of workers (in or across processes) may run
// concurrently: job ownership comes from the queue's atomic claim, and
// settlement effects are guarded by the store's conditional transition.
type Worker struct {
	queue   Queue
	settler Settler
	cfg     WorkerConfig
}

// NewWorker creates a settlement worker pool.
func NewWorker(q Queue, settler Settler, cfg WorkerConfig) *Worker {
	cfg.applyDefaults()
	return &Worker{queue: q, settler: settler, cfg: cfg}
}

// Run blocks until the context is cancelled, processing jobs with the
// configured concurrency. A background loop reaps expired leases and exports
// queue depths.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.claimLoop(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reapLoop(ctx)
	}()

	wg.Wait()
}

func (w *Worker) claimLoop(ctx context.Context) {
	for {
		jobs, err := w.queue.Claim(ctx, w.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("claim failed", "err", err)
		}
		for _, job := range jobs {
			w.Process(ctx, job)
		}

		if len(jobs) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
		}
	}
}

// Process runs one settlement delivery and routes the result: complete,
// retry with backoff, or dead-letter.
func (w *Worker) Process(ctx context.Context, job Job) {
	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	err := w.settler.Settle(jobCtx, job.TradeID)
	cancel()

	switch {
	case err == nil:
		if cerr := w.queue.Complete(ctx, job); cerr != nil {
			slog.Error("job completion failed", "trade_id", job.TradeID, "err", cerr)
		}

	case errors.Is(err, store.ErrInvariant):
		// Fatal: retrying cannot fix a corrupt ledger. Park immediately.
		slog.Error("invariant violation during settlement, dead-lettering",
			"trade_id", job.TradeID, "attempt", job.Attempt, "err", err)
		metrics.DeadLetters.Inc()
		if derr := w.queue.DeadLetter(ctx, job, err.Error()); derr != nil {
			slog.Error("dead-letter failed", "trade_id", job.TradeID, "err", derr)
		}

	case job.Attempt >= w.cfg.MaxAttempts:
		slog.Error("settlement exhausted retries, dead-lettering",
			"trade_id", job.TradeID, "attempt", job.Attempt, "err", err)
		metrics.DeadLetters.Inc()
		if derr := w.queue.DeadLetter(ctx, job, err.Error()); derr != nil {
			slog.Error("dead-letter failed", "trade_id", job.TradeID, "err", derr)
		}

	default:
		delay := w.backoff(job.Attempt)
		slog.Warn("settlement failed, retrying",
			"trade_id", job.TradeID, "attempt", job.Attempt, "retry_in", delay, "err", err)
		metrics.SettlementRetries.Inc()
		if rerr := w.queue.Retry(ctx, job, delay); rerr != nil {
			slog.Error("retry scheduling failed", "trade_id", job.TradeID, "err", rerr)
		}
	}
}

// backoff returns the exponential retry delay: base, 2×base, 4×base, ...
func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func (w *Worker) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval * 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.queue.ReapExpired(ctx); err != nil {
				slog.Error("lease reap failed", "err", err)
			} else if n > 0 {
				slog.Warn("rescheduled jobs with expired leases", "count", n)
			}

			if stats, err := w.queue.Stats(ctx); err == nil {
				metrics.QueueScheduled.Set(float64(stats.Scheduled))
				metrics.QueueProcessing.Set(float64(stats.Processing))
				metrics.QueueDead.Set(float64(stats.Dead))
			}
		}
	}
}
