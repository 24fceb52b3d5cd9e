package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolProcessesAllTasks(t *testing.T) {
	var executed int64
	pool, err := New(Config{Workers: 4, QueueSize: 16}, func(ctx context.Context, task *Task) *Result {
		atomic.AddInt64(&executed, 1)
		return &Result{TaskID: task.ID, Success: true}
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pool.Start()
	defer pool.Stop()

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		if err := pool.Submit(&Task{ID: id}); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < len(ids); i++ {
		select {
		case r := <-pool.Results():
			seen[r.TaskID] = true
			if !r.Success {
				t.Errorf("task %s failed: %v", r.TaskID, r.Error)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}

	for _, id := range ids {
		if !seen[id] {
			t.Errorf("missing result for task %s", id)
		}
	}
	if atomic.LoadInt64(&executed) != int64(len(ids)) {
		t.Errorf("expected each task executed exactly once, got %d executions", executed)
	}
}

func TestPoolReportsFailures(t *testing.T) {
	boom := errors.New("boom")
	pool, _ := New(Config{Workers: 1, QueueSize: 4}, func(ctx context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Success: false, Error: boom}
	}, nil)

	pool.Start()
	defer pool.Stop()

	pool.Submit(&Task{ID: "x"})

	r := <-pool.Results()
	if r.Success || !errors.Is(r.Error, boom) {
		t.Errorf("expected failure with boom, got %+v", r)
	}

	stats := pool.Stats()
	if stats.TasksFailed != 1 || stats.TasksCompleted != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	pool, _ := New(Config{Workers: 1, QueueSize: 1}, func(ctx context.Context, task *Task) *Result {
		<-block
		return &Result{TaskID: task.ID, Success: true}
	}, nil)

	pool.Start()
	defer func() {
		close(block)
		pool.Stop()
	}()

	// First task occupies the worker, second fills the queue. Give the
	// worker a moment to pick up the first.
	pool.Submit(&Task{ID: "1"})
	time.Sleep(20 * time.Millisecond)
	pool.Submit(&Task{ID: "2"})

	if err := pool.Submit(&Task{ID: "3"}); err == nil {
		t.Error("expected queue-full rejection")
	}
}

func TestStopWaitsForInFlightTasks(t *testing.T) {
	// Slow tasks with a zero-valued timeout in the config: Stop must fall
	// back to the default grace period and keep the result channel open
	// until the workers have quiesced.
	pool, _ := New(Config{Workers: 2, QueueSize: 8}, func(ctx context.Context, task *Task) *Result {
		time.Sleep(50 * time.Millisecond)
		return &Result{TaskID: task.ID, Success: true}
	}, nil)

	pool.Start()

	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		if err := pool.Submit(&Task{ID: id}); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- pool.Stop() }()

	// Every submitted task must still surface a result; the channel only
	// closes once the workers are gone.
	seen := 0
	for r := range pool.Results() {
		if !r.Success {
			t.Errorf("task %s failed during shutdown: %v", r.TaskID, r.Error)
		}
		seen++
	}
	if seen != 4 {
		t.Errorf("expected 4 results before close, got %d", seen)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestPoolRejectsAfterStop(t *testing.T) {
	pool, _ := New(Config{Workers: 1, QueueSize: 1}, func(ctx context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Success: true}
	}, nil)

	pool.Start()
	pool.Stop()

	if err := pool.Submit(&Task{ID: "late"}); err == nil {
		t.Error("expected rejection after Stop")
	}
}

func TestPoolSkipsCancelledTaskContext(t *testing.T) {
	pool, _ := New(Config{Workers: 1, QueueSize: 4}, func(ctx context.Context, task *Task) *Result {
		t.Error("worker func must not run for a cancelled task")
		return &Result{TaskID: task.ID, Success: true}
	}, nil)

	pool.Start()
	defer pool.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool.Submit(&Task{ID: "c", Context: ctx})

	r := <-pool.Results()
	if r.Success || !errors.Is(r.Error, context.Canceled) {
		t.Errorf("expected context.Canceled result, got %+v", r)
	}
}

func TestNewRequiresWorkerFunc(t *testing.T) {
	if _, err := New(DefaultConfig(), nil, nil); err == nil {
		t.Error("expected error for nil worker func")
	}
}
