package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryStore keeps jobs in a process-local min-heap. Jobs are lost on restart,
// so leases never expire here.
type MemoryStore struct {
	mu     sync.Mutex
	queue  jobQueue
	byKey  map[string]*queuedJob
	leased map[string]Job
}

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey:  map[string]*queuedJob{},
		leased: map[string]Job{},
	}
}

func (m *MemoryStore) Put(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(job.Key)
	m.pushLocked(job)
	return nil
}

func (m *MemoryStore) PutIfAbsent(_ context.Context, job Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byKey[job.Key]; exists {
		return false, nil
	}
	if _, exists := m.leased[job.Key]; exists {
		return false, nil
	}
	m.pushLocked(job)
	return true, nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(key), nil
}

func (m *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []Job
	for m.queue.Len() > 0 {
		if limit > 0 && len(due) >= limit {
			break
		}
		next := m.queue[0]
		if next.job.RunAt.After(now) {
			break
		}
		heap.Pop(&m.queue)
		delete(m.byKey, next.job.Key)
		m.leased[next.job.Key] = next.job
		due = append(due, next.job)
	}
	return due, nil
}

func (m *MemoryStore) Complete(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.leased[job.Key]; ok && held.ID == job.ID {
		delete(m.leased, job.Key)
	}
	return nil
}

func (m *MemoryStore) Retry(_ context.Context, job Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	held, ok := m.leased[job.Key]
	if !ok || held.ID != job.ID {
		return false, nil
	}
	delete(m.leased, job.Key)
	m.pushLocked(job)
	return true, nil
}

// Len reports how many jobs are pending. Leased jobs are not counted.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

func (m *MemoryStore) pushLocked(job Job) {
	item := &queuedJob{job: job}
	heap.Push(&m.queue, item)
	m.byKey[job.Key] = item
}

func (m *MemoryStore) removeLocked(key string) bool {
	_, wasLeased := m.leased[key]
	delete(m.leased, key)
	item, ok := m.byKey[key]
	if !ok {
		return wasLeased
	}
	heap.Remove(&m.queue, item.index)
	delete(m.byKey, key)
	return true
}

type queuedJob struct {
	job   Job
	index int
}

type jobQueue []*queuedJob

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].job.RunAt.Equal(q[j].job.RunAt) {
		return q[i].job.ID < q[j].job.ID
	}
	return q[i].job.RunAt.Before(q[j].job.RunAt)
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	item := x.(*queuedJob)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}
