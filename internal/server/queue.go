package server

import (
	"context"
	"errors"
	"sync/atomic"
)

// DefaultQueueSize is the number of requests that may wait for dispatch.
const DefaultQueueSize = 16

// ErrQueueFull is returned by [Queue.Do] when no more requests may wait.
var ErrQueueFull = errors.New("request queue full")

const (
	jobPending int32 = iota
	jobClaimed
	jobAbandoned
)

type job struct {
	fn    func()
	state atomic.Int32
	done  chan struct{}
}

// Queue hands request work from HTTP goroutines to the control loop.
type Queue struct {
	jobs chan *job
}

// NewQueue creates a queue holding up to size waiting jobs.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{jobs: make(chan *job, size)}
}

// Do enqueues fn and waits until it has run.
//
// If ctx ends before the loop picks the job up, the job is abandoned and
// never runs; Do then returns ctx.Err(). Once the loop has claimed the job,
// Do waits for it to finish regardless of ctx.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	j := &job{fn: fn, done: make(chan struct{})}

	select {
	case q.jobs <- j:
	default:
		return ErrQueueFull
	}

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		if j.state.CompareAndSwap(jobPending, jobAbandoned) {
			return ctx.Err()
		}
		<-j.done
		return nil
	}
}

// Dispatch runs every queued job on the calling goroutine.
func (q *Queue) Dispatch() {
	for {
		select {
		case j := <-q.jobs:
			q.run(j)
		default:
			return
		}
	}
}

func (q *Queue) run(j *job) {
	if !j.state.CompareAndSwap(jobPending, jobClaimed) {
		return
	}
	defer close(j.done)
	j.fn()
}

// Len returns the number of jobs waiting.
func (q *Queue) Len() int {
	return len(q.jobs)
}
