// Package queue holds the ordered, capacity-bounded list of prompts
// waiting for the process runner.
package queue

import (
	"errors"
	"sync"
	"time"
)

// ErrQueueFull is returned by Enqueue when the queue is at capacity.
var ErrQueueFull = errors.New("queue full")

// Job is one prompt waiting to run, tied to the chat it came from.
type Job struct {
	ID         int64
	ReplyTo    string
	Prompt     string
	EnqueuedAt time.Time
}

// Queue is a FIFO with a fixed maximum length. Safe for concurrent use.
type Queue struct {
	mu   sync.Mutex
	max  int
	jobs []Job
	ids  *IDGen
}

// New creates a queue holding at most max jobs (minimum 1).
func New(max int) *Queue {
	if max < 1 {
		max = 1
	}
	return &Queue{max: max, ids: NewIDGen()}
}

// NextID returns a fresh job ID.
func (q *Queue) NextID() int64 {
	return q.ids.Next()
}

// Max returns the configured capacity.
func (q *Queue) Max() int {
	return q.max
}

// Enqueue appends job and returns its 1-based position. The queue is
// left untouched when it is full.
func (q *Queue) Enqueue(job Job) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) >= q.max {
		return 0, ErrQueueFull
	}
	q.jobs = append(q.jobs, job)
	return len(q.jobs), nil
}

// Peek returns the head of the queue without removing it.
func (q *Queue) Peek() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return Job{}, false
	}
	return q.jobs[0], true
}

// Remove deletes the job with the given ID, reporting whether it was present.
func (q *Queue) Remove(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, job := range q.jobs {
		if job.ID == id {
			q.jobs = append(q.jobs[:i:i], q.jobs[i+1:]...)
			return true
		}
	}
	return false
}

// Truncate keeps the first keep jobs and returns how many were dropped.
func (q *Queue) Truncate(keep int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if keep < 0 {
		keep = 0
	}
	if len(q.jobs) <= keep {
		return 0
	}
	n := len(q.jobs) - keep
	q.jobs = append([]Job(nil), q.jobs[:keep]...)
	return n
}

// Len returns the number of waiting jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Clear discards every waiting job and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.jobs)
	q.jobs = nil
	return n
}

// Snapshot returns a copy of the queued jobs in order.
func (q *Queue) Snapshot() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// IDGen hands out time-seeded, strictly increasing job IDs.
type IDGen struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGen creates a generator seeded from the wall clock.
func NewIDGen() *IDGen {
	return &IDGen{now: time.Now}
}

// Next returns max(last+1, now in milliseconds).
func (g *IDGen) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}
