// Package queue implements the durable delayed-job transport and worker pool
// that drive trade settlement. Jobs carry only the trade id; everything
// needed to settle is re-read from the store, so any delivery — first,
// retried, or replayed after a crash — is safe to execute.
package queue

import (
	"context"
	"time"
)

// Job is one settlement delivery.
type Job struct {
	TradeID string    `json:"trade_id"`
	Attempt int       `json:"attempt"` // 1-based delivery count
	ReadyAt time.Time `json:"ready_at"`
}

// Stats is a point-in-time snapshot of queue depths for observability.
type Stats struct {
	Scheduled  int64 `json:"scheduled"`
	Processing int64 `json:"processing"`
	Dead       int64 `json:"dead"`
}

// Queue is the settlement job transport. Delivery is at-least-once: a
// claimed job holds a lease, and leases that expire without completion are
// rescheduled. Exactly-once *effects* are the store's conditional
// transition's job, not the queue's.
type Queue interface {
	// Enqueue schedules settlement of a trade after the given delay,
	// starting a fresh attempt cycle.
	Enqueue(ctx context.Context, tradeID string, delay time.Duration) error

	// Claim atomically takes up to limit due jobs. Each returned job is
	// owned by the caller until Complete, Retry, DeadLetter, or lease expiry.
	Claim(ctx context.Context, limit int) ([]Job, error)

	// Complete acknowledges a job as done.
	Complete(ctx context.Context, job Job) error

	// Retry reschedules a claimed job after the given delay, keeping its
	// attempt count.
	Retry(ctx context.Context, job Job, delay time.Duration) error

	// DeadLetter parks a claimed job for manual or scheduled reconciliation.
	DeadLetter(ctx context.Context, job Job, reason string) error

	// ReapExpired reschedules jobs whose processing lease expired, returning
	// how many were recovered.
	ReapExpired(ctx context.Context) (int, error)

	// Stats reports current queue depths.
	Stats(ctx context.Context) (Stats, error)
}
