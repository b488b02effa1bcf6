package server

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueue_DoRunsOnDispatch(t *testing.T) {
	q := NewQueue(4)

	ran := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Do(context.Background(), func() { close(ran) })
	}()

	deadline := time.Now().Add(time.Second)
	for q.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job was never queued")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case <-ran:
		t.Fatal("job ran before Dispatch()")
	default:
	}

	q.Dispatch()

	if err := <-errCh; err != nil {
		t.Errorf("Do() = %v, want nil", err)
	}
	select {
	case <-ran:
	default:
		t.Error("job did not run")
	}
}

func TestQueue_Full(t *testing.T) {
	q := NewQueue(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = q.Do(ctx, func() {}) }()

	deadline := time.Now().Add(time.Second)
	for q.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first job was never queued")
		}
		time.Sleep(time.Millisecond)
	}

	err := q.Do(context.Background(), func() {})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Do() = %v, want ErrQueueFull", err)
	}
}

func TestQueue_AbandonedJobNeverRuns(t *testing.T) {
	q := NewQueue(4)

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Do(ctx, func() { ran = true })
	}()

	deadline := time.Now().Add(time.Second)
	for q.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job was never queued")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Do() = %v, want context.Canceled", err)
	}

	q.Dispatch()
	if ran {
		t.Error("abandoned job ran")
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_DefaultSize(t *testing.T) {
	q := NewQueue(0)
	if cap(q.jobs) != DefaultQueueSize {
		t.Errorf("queue capacity = %d, want %d", cap(q.jobs), DefaultQueueSize)
	}
}
