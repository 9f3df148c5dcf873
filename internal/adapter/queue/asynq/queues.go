// Package asynqadp runs the broker's task queues on asynq.
//
// Each queue gets its own server so concurrency is tuned per lane: AI calls
// stay narrow to respect provider limits while background CV re-processing
// fans wide. Task payloads are JSON and deliberately small; CV bytes ride
// along only on the upload lane.
package asynqadp

import "time"

// Queue names. The background lane re-processes stored CVs without blocking
// fresh uploads.
const (
	QueueAITasks      = "openai-tasks"
	QueueCVProcessing = "cv-processing"
	QueueCVBackground = "cv-processing-background"
	QueueApplications = "job-applications"
)

// Task type names routed on the queues above.
const (
	TaskCVProcess       = "cv:process"
	TaskApplicationSend = "application:send"
	TaskAIRun           = "ai:run"
)

// spec pins one queue's worker shape.
type spec struct {
	Concurrency int
	MaxRetry    int
	Timeout     time.Duration
}

var queueSpecs = map[string]spec{
	QueueAITasks:      {Concurrency: 3, MaxRetry: 2, Timeout: 65 * time.Second},
	QueueCVProcessing: {Concurrency: 8, MaxRetry: 2, Timeout: 5 * time.Minute},
	QueueCVBackground: {Concurrency: 20, MaxRetry: 2, Timeout: 10 * time.Minute},
	QueueApplications: {Concurrency: 8, MaxRetry: 2, Timeout: 15 * time.Minute},
}

// CVConcurrency is the number of handler slots that can hold CV bytes at
// once, across the fresh and background lanes. The memory governor sizes
// its throughput estimate from it.
func CVConcurrency() int {
	return queueSpecs[QueueCVProcessing].Concurrency + queueSpecs[QueueCVBackground].Concurrency
}

// completed task metadata is kept briefly for the inspector; the
// user-visible outcome lives in the result mirror.
const taskRetention = time.Minute
