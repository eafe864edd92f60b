package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fooddash-backend/pkg/logger"
	"github.com/angelmondragon/fooddash-backend/pkg/metrics"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultBatchSize    = 100
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 2 * time.Second

	outcomeSuccess = "success"
	outcomeRetry   = "retry"
	outcomeDropped = "dropped"
	outcomeUnknown = "unknown_job"
)

// Params configure a Scheduler.
type Params struct {
	Store        Store
	Registry     *Registry
	Logger       *logger.Logger
	Metrics      *metrics.SchedulerMetrics
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
	Now          func() time.Time
}

// Scheduler runs one-shot delayed jobs with at-least-once semantics. The API
// process only schedules; workers call Run against the same store. A job is
// released from the store only after its handler returns.
type Scheduler struct {
	store        Store
	registry     *Registry
	logg         *logger.Logger
	metrics      *metrics.SchedulerMetrics
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	retryBackoff time.Duration
	now          func() time.Time
}

// New builds a scheduler.
func New(params Params) (*Scheduler, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("job store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	s := &Scheduler{
		store:        params.Store,
		registry:     registry,
		logg:         params.Logger,
		metrics:      params.Metrics,
		pollInterval: params.PollInterval,
		batchSize:    params.BatchSize,
		maxAttempts:  params.MaxAttempts,
		retryBackoff: params.RetryBackoff,
		now:          params.Now,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.retryBackoff <= 0 {
		s.retryBackoff = defaultRetryBackoff
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// Registry exposes the handler registry so domain packages can register jobs.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

// Schedule queues name to run after delay. A pending job with the same key is
// replaced.
func (s *Scheduler) Schedule(ctx context.Context, name, key string, delay time.Duration, payload any) error {
	if name == "" || key == "" {
		return fmt.Errorf("job name and key required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}
	if delay < 0 {
		delay = 0
	}
	job := Job{
		ID:      uuid.NewString(),
		Key:     key,
		Name:    name,
		Payload: body,
		RunAt:   s.now().Add(delay),
	}
	if err := s.store.Put(ctx, job); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Cancel drops the pending job under key. Cancelling a missing key is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, key string) error {
	if _, err := s.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("cancel %s: %w", key, err)
	}
	return nil
}

// Run polls the store until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.logg.Info(ctx, "scheduler started")
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "scheduler context canceled")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunDue(ctx); err != nil {
				s.logg.Error(ctx, "scheduler poll failed", err)
			}
		}
	}
}

// RunDue claims and executes every job due now, one batch at a time, and
// returns how many handlers ran.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	ran := 0
	for {
		now := s.now()
		jobs, err := s.store.ClaimDue(ctx, now, s.batchSize)
		if err != nil {
			return ran, err
		}
		for _, job := range jobs {
			if s.execute(ctx, job, now) {
				ran++
			}
		}
		if len(jobs) < s.batchSize {
			return ran, nil
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job, now time.Time) bool {
	jobCtx := s.logg.WithJob(ctx, job.Name)
	jobCtx = s.logg.WithFields(jobCtx, map[string]any{
		"job_id":  job.ID,
		"job_key": job.Key,
		"attempt": job.Attempts + 1,
	})

	handler, ok := s.registry.Lookup(job.Name)
	if !ok {
		s.logg.Warn(jobCtx, "dropping job with unknown name")
		s.complete(jobCtx, job)
		s.observe(job.Name, outcomeUnknown)
		return false
	}
	if s.metrics != nil {
		s.metrics.ObserveLag(job.Name, now.Sub(job.RunAt))
	}

	err := s.invoke(jobCtx, handler, job.Payload)
	if err == nil {
		s.complete(jobCtx, job)
		s.observe(job.Name, outcomeSuccess)
		return true
	}

	job.Attempts++
	if job.Attempts >= s.maxAttempts {
		s.logg.Error(jobCtx, "job exhausted retries", err)
		s.complete(jobCtx, job)
		s.observe(job.Name, outcomeDropped)
		return true
	}

	retry := job
	retry.RunAt = s.now().Add(s.retryBackoff * time.Duration(job.Attempts))
	queued, retryErr := s.store.Retry(ctx, retry)
	switch {
	case retryErr != nil:
		// the lease is still held, so the job comes back when it expires
		s.logg.Error(jobCtx, "failed to requeue job", retryErr)
	case !queued:
		s.logg.Info(jobCtx, "job superseded before retry")
	default:
		s.logg.Error(jobCtx, "job failed; retry queued", err)
	}
	s.observe(job.Name, outcomeRetry)
	return true
}

func (s *Scheduler) complete(ctx context.Context, job Job) {
	if err := s.store.Complete(ctx, job); err != nil {
		s.logg.Error(ctx, "failed to release job lease", err)
	}
}

func (s *Scheduler) invoke(ctx context.Context, handler Handler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return handler(ctx, payload)
}

func (s *Scheduler) observe(job, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveExecution(job, outcome)
}
