package asynqadp

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
)

// Handlers binds each task type to its processor. The worker binary fills
// these in after the services are wired.
type Handlers struct {
	CVProcess       func(ctx context.Context, t *asynq.Task) error
	ApplicationSend func(ctx context.Context, t *asynq.Task) error
	AIRun           func(ctx context.Context, t *asynq.Task) error
}

// Worker runs one asynq server per queue so each lane keeps its own
// concurrency. All servers share a single mux; routing is by task type.
type Worker struct {
	servers map[string]*asynq.Server
	mux     *asynq.ServeMux
}

// NewWorker builds the server fleet against the queue Redis database.
func NewWorker(addr, password string, db int, h Handlers) *Worker {
	opt := asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}

	mux := asynq.NewServeMux()
	mux.Use(taskMetrics)
	if h.CVProcess != nil {
		mux.HandleFunc(TaskCVProcess, h.CVProcess)
	}
	if h.ApplicationSend != nil {
		mux.HandleFunc(TaskApplicationSend, h.ApplicationSend)
	}
	if h.AIRun != nil {
		mux.HandleFunc(TaskAIRun, h.AIRun)
	}

	servers := make(map[string]*asynq.Server, len(queueSpecs))
	for name, sp := range queueSpecs {
		servers[name] = asynq.NewServer(opt, asynq.Config{
			Concurrency:  sp.Concurrency,
			Queues:       map[string]int{name: 1},
			ErrorHandler: asynq.ErrorHandlerFunc(logTaskError),
		})
	}
	return &Worker{servers: servers, mux: mux}
}

// Start launches every queue server. On partial failure the servers already
// running are shut down before the error is returned.
func (w *Worker) Start() error {
	started := make([]*asynq.Server, 0, len(w.servers))
	for name, srv := range w.servers {
		if err := srv.Start(w.mux); err != nil {
			for _, s := range started {
				s.Shutdown()
			}
			slog.Error("queue server start failed", slog.String("queue", name), slog.Any("error", err))
			return err
		}
		started = append(started, srv)
		slog.Info("queue server started", slog.String("queue", name))
	}
	return nil
}

// Stop shuts down every queue server, waiting for in-flight tasks.
func (w *Worker) Stop() {
	for _, srv := range w.servers {
		srv.Shutdown()
	}
}

// taskMetrics counts task outcomes per queue.
func taskMetrics(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		queue, _ := asynq.GetQueueName(ctx)
		observability.StartTask(queue)
		if err := next.ProcessTask(ctx, t); err != nil {
			observability.FailTask(queue)
			return err
		}
		observability.CompleteTask(queue)
		return nil
	})
}

func logTaskError(ctx context.Context, task *asynq.Task, err error) {
	queue, _ := asynq.GetQueueName(ctx)
	id, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	slog.Error("task failed",
		slog.String("queue", queue),
		slog.String("type", task.Type()),
		slog.String("task_id", id),
		slog.Int("retried", retried),
		slog.Int("max_retry", maxRetry),
		slog.Any("error", err))
}
