package asynqadp

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/pkg/msisdn"
)

// Queue enqueues tasks and inspects queue health. It implements
// domain.Queue.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// New connects a queue client to the queue Redis database.
func New(addr, password string, db int) *Queue {
	opt := asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}
	return &Queue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}
}

// EnqueueCV queues an uploaded document for the CV pipeline. Background
// payloads ride the wide re-processing lane.
func (q *Queue) EnqueueCV(ctx domain.Context, p domain.CVTaskPayload) (string, error) {
	queue := QueueCVProcessing
	if p.Background {
		queue = QueueCVBackground
	}
	return q.enqueue(ctx, TaskCVProcess, queue, p)
}

// EnqueueApplications queues one paid batch for recruiter fan-out.
func (q *Queue) EnqueueApplications(ctx domain.Context, p domain.ApplicationTaskPayload) (string, error) {
	return q.enqueue(ctx, TaskApplicationSend, QueueApplications, p)
}

// EnqueueAI queues a deferred AI task.
func (q *Queue) EnqueueAI(ctx domain.Context, p domain.AITaskPayload) (string, error) {
	return q.enqueue(ctx, TaskAIRun, QueueAITasks, p)
}

func (q *Queue) enqueue(ctx domain.Context, taskType, queue string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue type=%s: %w", taskType, err)
	}
	sp := queueSpecs[queue]
	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(taskType, b),
		asynq.Queue(queue),
		asynq.MaxRetry(sp.MaxRetry),
		asynq.Timeout(sp.Timeout),
		asynq.Retention(taskRetention),
	)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue type=%s: %w", taskType, err)
	}
	observability.EnqueueTask(queue)
	return info.ID, nil
}

// QueueStat is one queue's live depth for the monitoring endpoint.
type QueueStat struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Completed int    `json:"completed"`
	Processed int    `json:"processed_today"`
	Failed    int    `json:"failed_today"`
}

// Stats reports depth across every queue lane.
func (q *Queue) Stats(ctx domain.Context) ([]QueueStat, error) {
	names := []string{QueueAITasks, QueueCVProcessing, QueueCVBackground, QueueApplications}
	out := make([]QueueStat, 0, len(names))
	for _, name := range names {
		info, err := q.inspector.GetQueueInfo(name)
		if err != nil {
			// queues appear lazily on first enqueue
			out = append(out, QueueStat{Queue: name})
			continue
		}
		out = append(out, QueueStat{
			Queue:     name,
			Pending:   info.Pending,
			Active:    info.Active,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Completed: info.Completed,
			Processed: info.Processed,
			Failed:    info.Failed,
		})
	}
	return out, nil
}

// TaskSummary is one in-flight task for the monitoring endpoint. The
// subscriber identifier is masked before it leaves this package.
type TaskSummary struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Identifier string `json:"identifier,omitempty"`
}

// ActiveTasks lists up to n in-flight tasks on one queue with their payload
// identifiers masked.
func (q *Queue) ActiveTasks(ctx domain.Context, queue string, n int) ([]TaskSummary, error) {
	if n <= 0 {
		n = 5
	}
	infos, err := q.inspector.ListActiveTasks(queue, asynq.PageSize(n))
	if err != nil {
		return nil, fmt.Errorf("op=queue.active_tasks queue=%s: %w", queue, err)
	}
	out := make([]TaskSummary, 0, len(infos))
	for _, ti := range infos {
		var p struct {
			Identifier string `json:"identifier"`
		}
		_ = json.Unmarshal(ti.Payload, &p)
		out = append(out, TaskSummary{
			ID:         ti.ID,
			Type:       ti.Type,
			Identifier: msisdn.Mask(p.Identifier),
		})
	}
	return out, nil
}

// Ping verifies the queue Redis connection for readiness checks.
func (q *Queue) Ping() error {
	_, err := q.inspector.Queues()
	if err != nil {
		return fmt.Errorf("op=queue.ping: %w", err)
	}
	return nil
}

// Close releases both client connections.
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.inspector.Close()
}
