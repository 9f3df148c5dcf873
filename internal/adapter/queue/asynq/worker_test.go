package asynqadp

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

func TestNewWorkerBuildsOneServerPerQueue(t *testing.T) {
	t.Parallel()
	w := NewWorker("localhost:6379", "", 1, Handlers{
		CVProcess:       func(context.Context, *asynq.Task) error { return nil },
		ApplicationSend: func(context.Context, *asynq.Task) error { return nil },
		AIRun:           func(context.Context, *asynq.Task) error { return nil },
	})
	if w == nil {
		t.Fatal("worker nil")
	}
	if got, want := len(w.servers), len(queueSpecs); got != want {
		t.Fatalf("servers = %d, want %d", got, want)
	}
	for name := range queueSpecs {
		if _, ok := w.servers[name]; !ok {
			t.Fatalf("missing server for queue %s", name)
		}
	}
	w.Stop() // not started, must not panic
}

func TestQueueSpecs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		queue       string
		concurrency int
		maxRetry    int
		timeout     time.Duration
	}{
		{QueueAITasks, 3, 2, 65 * time.Second},
		{QueueCVProcessing, 8, 2, 5 * time.Minute},
		{QueueCVBackground, 20, 2, 10 * time.Minute},
		{QueueApplications, 8, 2, 15 * time.Minute},
	}
	for _, tt := range tests {
		sp, ok := queueSpecs[tt.queue]
		if !ok {
			t.Fatalf("no spec for %s", tt.queue)
		}
		if sp.Concurrency != tt.concurrency {
			t.Errorf("%s concurrency = %d, want %d", tt.queue, sp.Concurrency, tt.concurrency)
		}
		if sp.MaxRetry != tt.maxRetry {
			t.Errorf("%s max retry = %d, want %d", tt.queue, sp.MaxRetry, tt.maxRetry)
		}
		if sp.Timeout != tt.timeout {
			t.Errorf("%s timeout = %v, want %v", tt.queue, sp.Timeout, tt.timeout)
		}
	}
}
