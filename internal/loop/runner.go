package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultInterval is the default tick interval.
const DefaultInterval = 5 * time.Millisecond

// Task is one named step of a tick.
type Task struct {
	Name string
	Run  func()
}

// ErrHalted is wrapped by the error reported after a task panicked.
var ErrHalted = errors.New("control loop halted")

// Runner ticks tasks in order at a fixed interval.
//
// Start and Stop are idempotent and safe for concurrent use.
type Runner struct {
	tasks    []Task
	interval time.Duration
	onHalt   func()
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	err     error
	ticks   uint64
}

// NewRunner creates a runner. onHalt, if non-nil, runs after a task panics.
func NewRunner(tasks []Task, interval time.Duration, onHalt func(), logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		tasks:    tasks,
		interval: interval,
		onHalt:   onHalt,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins ticking in a background goroutine.
//
// If ctx is nil, context.Background() is used. Start after Stop is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	loopCtx := r.ctx
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if !r.Tick() {
					return
				}
			}
		}
	}()
}

// Tick runs every task once, in order. It returns false once the runner has
// halted.
func (r *Runner) Tick() bool {
	r.mu.Lock()
	halted := r.err != nil
	r.mu.Unlock()
	if halted {
		return false
	}

	for _, task := range r.tasks {
		if err := r.safeRun(task); err != nil {
			r.halt(err)
			return false
		}
	}

	r.mu.Lock()
	r.ticks++
	r.mu.Unlock()
	return true
}

// safeRun calls the task with panic recovery. A panic is logged with its
// stack trace and a correlation ID.
func (r *Runner) safeRun(task Task) (err error) {
	defer func() {
		if v := recover(); v != nil {
			correlationID := uuid.NewString()
			r.logger.Error("task panic",
				"task", task.Name,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", v),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: task %s panicked (correlation_id: %s)", ErrHalted, task.Name, correlationID)
		}
	}()
	task.Run()
	return nil
}

func (r *Runner) halt(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()

	if r.onHalt != nil {
		func() {
			defer func() {
				if v := recover(); v != nil {
					r.logger.Error("halt hook panic", "panic", fmt.Sprintf("%v", v))
				}
			}()
			r.onHalt()
		}()
	}
	r.logger.Error("control loop halted", "error", err)
}

// Stop halts ticking and waits for the loop goroutine to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		if r.cancel != nil {
			r.cancel()
		}
	}
	started := r.started
	r.mu.Unlock()

	if started {
		r.wg.Wait()
	}
}

// Done is closed when the loop goroutine exits, either by Stop, context
// cancellation, or a halt.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Err returns the halt error, or nil.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Ticks returns the number of completed ticks.
func (r *Runner) Ticks() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

// Tasks returns the task names in tick order.
func (r *Runner) Tasks() []string {
	names := make([]string, len(r.tasks))
	for i, t := range r.tasks {
		names[i] = t.Name
	}
	return names
}
