package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Workers:                 4,
		QueueSize:               64,
		MaxRetries:              2,
		RetryDelay:              time.Millisecond,
		GracefulShutdownTimeout: 5 * time.Second,
	}
}

func TestNewRequiresWorkerFunc(t *testing.T) {
	t.Parallel()

	if _, err := New(testConfig(), nil, nil); err == nil {
		t.Fatal("expected error for nil worker function")
	}
}

func TestPoolProcessesAllTasks(t *testing.T) {
	t.Parallel()

	var processed int64
	pool, err := New(testConfig(), func(ctx context.Context, task *Task) error {
		atomic.AddInt64(&processed, 1)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	pool.Start()

	var results sync.WaitGroup
	results.Add(1)
	succeeded := 0
	go func() {
		defer results.Done()
		for r := range pool.Results() {
			if r.Success {
				succeeded++
			}
		}
	}()

	const n = 20
	for i := 0; i < n; i++ {
		if err := pool.Submit(&Task{Key: "patient-" + string(rune('a'+i%26))}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	results.Wait()

	if got := atomic.LoadInt64(&processed); got != n {
		t.Errorf("processed = %d, want %d", got, n)
	}
	if succeeded != n {
		t.Errorf("succeeded = %d, want %d", succeeded, n)
	}

	stats := pool.Stats()
	if stats.TasksSubmitted != n || stats.TasksCompleted != n || stats.TasksFailed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPoolRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var attempts int64
	pool, err := New(testConfig(), func(ctx context.Context, task *Task) error {
		if atomic.AddInt64(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	pool.Start()

	if err := pool.Submit(&Task{Key: "flaky"}); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	r := <-pool.Results()
	if !r.Success {
		t.Errorf("result = %+v, want success after retries", r)
	}
	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if stats := pool.Stats(); stats.TasksRetried != 2 {
		t.Errorf("TasksRetried = %d, want 2", stats.TasksRetried)
	}

	pool.Stop()
}

func TestPoolExhaustsRetries(t *testing.T) {
	t.Parallel()

	permanent := errors.New("permanent")
	pool, err := New(testConfig(), func(ctx context.Context, task *Task) error {
		return permanent
	}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	pool.Start()

	if err := pool.Submit(&Task{Key: "doomed"}); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	r := <-pool.Results()
	if r.Success {
		t.Fatal("expected failure after exhausted retries")
	}
	if !errors.Is(r.Error, permanent) {
		t.Errorf("error = %v, want wrapped permanent error", r.Error)
	}
	if r.Key != "doomed" {
		t.Errorf("key = %s", r.Key)
	}

	pool.Stop()
}

func TestPoolHonorsTaskContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool, err := New(testConfig(), func(ctx context.Context, task *Task) error {
		t.Error("worker ran for a cancelled task")
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	pool.Start()

	if err := pool.Submit(&Task{Key: "cancelled", Context: ctx}); err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	r := <-pool.Results()
	if r.Success || !errors.Is(r.Error, context.Canceled) {
		t.Errorf("result = %+v, want context.Canceled failure", r)
	}

	pool.Stop()
}

func TestSubmitAfterStop(t *testing.T) {
	t.Parallel()

	pool, err := New(testConfig(), func(ctx context.Context, task *Task) error {
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	pool.Start()
	pool.Stop()

	if err := pool.Submit(&Task{Key: "late"}); err == nil {
		t.Fatal("expected error submitting after Stop")
	}
}

func TestSubmitQueueFull(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1

	block := make(chan struct{})
	pool, err := New(cfg, func(ctx context.Context, task *Task) error {
		<-block
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	pool.Start()

	// First task occupies the worker, second fills the queue; eventually a
	// submit is rejected rather than blocking.
	var rejected bool
	for i := 0; i < 4; i++ {
		if err := pool.Submit(&Task{Key: "k"}); err != nil {
			rejected = true
			break
		}
	}
	if !rejected {
		t.Error("expected a queue-full rejection")
	}

	close(block)
	pool.Stop()
}
