package scheduler

import (
	"context"
	"encoding/json"
	"time"
)

// Job is one deferred invocation. Key identifies the logical timer; scheduling
// the same key again replaces the earlier job.
type Job struct {
	ID       string          `json:"id"`
	Key      string          `json:"key"`
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload"`
	RunAt    time.Time       `json:"run_at"`
	Attempts int             `json:"attempts"`
}

// Store persists pending jobs ordered by RunAt. A claimed job stays leased
// under its key until Complete or Retry; Put and Remove on the same key
// supersede the lease.
type Store interface {
	// Put inserts job, replacing any pending or leased job with the same key.
	Put(ctx context.Context, job Job) error
	// PutIfAbsent inserts job only when nothing is pending or leased under its key.
	PutIfAbsent(ctx context.Context, job Job) (bool, error)
	// Remove drops the job under key, reporting whether one existed.
	Remove(ctx context.Context, key string) (bool, error)
	// ClaimDue leases and returns up to limit jobs due at now. A job is
	// returned to exactly one caller until its lease expires.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
	// Complete releases a leased job for good.
	Complete(ctx context.Context, job Job) error
	// Retry puts a leased job back on the queue at job.RunAt. It reports false
	// when the job was superseded while it ran; nothing is queued then.
	Retry(ctx context.Context, job Job) (bool, error)
}

// Handler executes a job payload. Returning an error re-queues the job.
type Handler func(ctx context.Context, payload json.RawMessage) error
