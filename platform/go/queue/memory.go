package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue with the same dedupe and retry semantics as RedisQueue.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string]*memoryLane
	wake   chan struct{}
}

type memoryLane struct {
	ready      []string
	jobs       map[string]Job
	delayed    map[string]time.Time
	processing map[string]struct{}
	dead       []Job
	dedupe     map[string]string
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		queues: make(map[string]*memoryLane),
		wake:   make(chan struct{}),
	}
}

func (q *MemoryQueue) lane(name string) *memoryLane {
	l, ok := q.queues[name]
	if !ok {
		l = &memoryLane{
			jobs:       make(map[string]Job),
			delayed:    make(map[string]time.Time),
			processing: make(map[string]struct{}),
			dedupe:     make(map[string]string),
		}
		q.queues[name] = l
	}
	return l
}

// signal wakes every blocked Dequeue. Callers hold mu.
func (q *MemoryQueue) signal() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *MemoryQueue) Enqueue(_ context.Context, job Job) (EnqueueResult, error) {
	if job.Queue == "" || job.ID == "" {
		return EnqueueResult{}, fmt.Errorf("job id and queue are required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	l := q.lane(job.Queue)
	if job.DedupeKey != "" {
		if existing, ok := l.dedupe[job.DedupeKey]; ok {
			return EnqueueResult{JobID: existing, Deduplicated: true}, nil
		}
		l.dedupe[job.DedupeKey] = job.ID
	}
	l.jobs[job.ID] = job
	l.ready = append(l.ready, job.ID)
	q.signal()
	return EnqueueResult{JobID: job.ID}, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, queueName string, wait time.Duration) (Job, bool, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		l := q.lane(queueName)
		if len(l.ready) > 0 {
			id := l.ready[0]
			l.ready = l.ready[1:]
			l.processing[id] = struct{}{}
			job := l.jobs[id]
			q.mu.Unlock()
			return job, true, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, false, ctx.Err()
		case <-timer.C:
			return Job{}, false, nil
		case <-wake:
		}
	}
}

func (q *MemoryQueue) Ack(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	l := q.lane(job.Queue)
	delete(l.processing, job.ID)
	delete(l.jobs, job.ID)
	l.release(job)
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, job Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	l := q.lane(job.Queue)
	delete(l.processing, job.ID)
	l.jobs[job.ID] = job
	l.delayed[job.ID] = time.Now().Add(delay)
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	l := q.lane(job.Queue)
	delete(l.processing, job.ID)
	delete(l.jobs, job.ID)
	l.dead = append(l.dead, job)
	l.release(job)
	return nil
}

func (q *MemoryQueue) PromoteDue(_ context.Context, queueName string, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l := q.lane(queueName)
	moved := 0
	for id, due := range l.delayed {
		if due.After(now) {
			continue
		}
		delete(l.delayed, id)
		l.ready = append(l.ready, id)
		moved++
	}
	if moved > 0 {
		q.signal()
	}
	return moved, nil
}

// Dead returns a copy of the dead-lettered jobs of a queue.
func (q *MemoryQueue) Dead(queueName string) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.lane(queueName).dead...)
}

// Len counts jobs that are ready, delayed or running.
func (q *MemoryQueue) Len(queueName string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lane(queueName).jobs)
}

func (l *memoryLane) release(job Job) {
	if job.DedupeKey != "" && l.dedupe[job.DedupeKey] == job.ID {
		delete(l.dedupe, job.DedupeKey)
	}
}

var _ Queue = (*MemoryQueue)(nil)
