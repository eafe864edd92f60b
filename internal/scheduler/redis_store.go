package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pkgredis "github.com/angelmondragon/fooddash-backend/pkg/redis"
)

const defaultLeaseTTL = 30 * time.Second

// redisBackend is the subset of the Redis client used by RedisStore.
type redisBackend interface {
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	ZClaimLease(ctx context.Context, queueKey, leaseKey string, now, leaseUntil float64, limit int64) ([]string, error)
	HSet(ctx context.Context, key, field string, value any) error
	HSetNX(ctx context.Context, key, field string, value any) (bool, error)
	HGet(ctx context.Context, key, field string) (string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	SchedulerKey(parts ...string) string
}

// RedisStore shares pending jobs between processes. Job ids live in a sorted
// set scored by due time, bodies in a hash, and a second hash maps each timer
// key to its live job id. Claiming moves ids into a lease set scored by the
// lease deadline in one script call, so only one poller wins a job and a
// worker that dies mid-job hands it back once the lease runs out.
type RedisStore struct {
	client   redisBackend
	lease    time.Duration
	queueKey string
	leaseKey string
	jobsKey  string
	indexKey string
}

// NewRedisStore builds a store over the shared Redis client. lease bounds how
// long a claimed job may run before another worker can claim it again.
func NewRedisStore(client redisBackend, lease time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client required for scheduler store")
	}
	if lease <= 0 {
		lease = defaultLeaseTTL
	}
	return &RedisStore{
		client:   client,
		lease:    lease,
		queueKey: client.SchedulerKey("queue"),
		leaseKey: client.SchedulerKey("leases"),
		jobsKey:  client.SchedulerKey("jobs"),
		indexKey: client.SchedulerKey("keys"),
	}, nil
}

func (s *RedisStore) Put(ctx context.Context, job Job) error {
	if _, err := s.Remove(ctx, job.Key); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.indexKey, job.Key, job.ID); err != nil {
		return fmt.Errorf("index job key: %w", err)
	}
	return s.write(ctx, job)
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, job Job) (bool, error) {
	ok, err := s.client.HSetNX(ctx, s.indexKey, job.Key, job.ID)
	if err != nil {
		return false, fmt.Errorf("reserve job key: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := s.write(ctx, job); err != nil {
		_ = s.client.HDel(ctx, s.indexKey, job.Key)
		return false, err
	}
	return true, nil
}

func (s *RedisStore) write(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := s.client.HSet(ctx, s.jobsKey, job.ID, string(body)); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	if err := s.client.ZAdd(ctx, s.queueKey, score(job.RunAt), job.ID); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) (bool, error) {
	id, err := s.client.HGet(ctx, s.indexKey, key)
	if err != nil {
		if errors.Is(err, pkgredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("lookup job key: %w", err)
	}
	queued, err := s.client.ZRem(ctx, s.queueKey, id)
	if err != nil {
		return false, fmt.Errorf("dequeue job: %w", err)
	}
	leased, err := s.client.ZRem(ctx, s.leaseKey, id)
	if err != nil {
		return false, fmt.Errorf("drop job lease: %w", err)
	}
	if err := s.client.HDel(ctx, s.jobsKey, id); err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	if err := s.client.HDel(ctx, s.indexKey, key); err != nil {
		return false, fmt.Errorf("delete job key: %w", err)
	}
	return queued+leased > 0, nil
}

func (s *RedisStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	ids, err := s.client.ZClaimLease(ctx, s.queueKey, s.leaseKey, score(now), score(now.Add(s.lease)), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		raw, err := s.client.HGet(ctx, s.jobsKey, id)
		if err != nil {
			if errors.Is(err, pkgredis.Nil) {
				_, _ = s.client.ZRem(ctx, s.leaseKey, id)
				continue
			}
			return jobs, fmt.Errorf("load job: %w", err)
		}

		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			_, _ = s.client.ZRem(ctx, s.leaseKey, id)
			_ = s.client.HDel(ctx, s.jobsKey, id)
			return jobs, fmt.Errorf("decode job %s: %w", id, err)
		}
		owns, err := s.owns(ctx, job)
		if err != nil {
			return jobs, err
		}
		if !owns {
			// replaced or cancelled between enqueue and claim
			_, _ = s.client.ZRem(ctx, s.leaseKey, id)
			_ = s.client.HDel(ctx, s.jobsKey, id)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *RedisStore) Complete(ctx context.Context, job Job) error {
	if _, err := s.client.ZRem(ctx, s.leaseKey, job.ID); err != nil {
		return fmt.Errorf("release job lease: %w", err)
	}
	if err := s.client.HDel(ctx, s.jobsKey, job.ID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	owns, err := s.owns(ctx, job)
	if err != nil {
		return err
	}
	if owns {
		if err := s.client.HDel(ctx, s.indexKey, job.Key); err != nil {
			return fmt.Errorf("delete job key: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) Retry(ctx context.Context, job Job) (bool, error) {
	owns, err := s.owns(ctx, job)
	if err != nil {
		return false, err
	}
	if !owns {
		return false, s.Complete(ctx, job)
	}
	if err := s.write(ctx, job); err != nil {
		return false, err
	}
	if _, err := s.client.ZRem(ctx, s.leaseKey, job.ID); err != nil {
		return true, fmt.Errorf("release job lease: %w", err)
	}
	return true, nil
}

func (s *RedisStore) owns(ctx context.Context, job Job) (bool, error) {
	current, err := s.client.HGet(ctx, s.indexKey, job.Key)
	if err != nil {
		if errors.Is(err, pkgredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("lookup job key: %w", err)
	}
	return current == job.ID, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
