package asynqadp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/usecase"
)

// CVRunner is the slice of the CV pipeline the worker binds.
type CVRunner interface {
	Process(ctx domain.Context, taskID string, p domain.CVTaskPayload, progress usecase.ProgressFunc) error
}

// FanoutRunner is the slice of the application service the worker binds.
type FanoutRunner interface {
	Fanout(ctx domain.Context, taskID string, p domain.ApplicationTaskPayload, progress usecase.ProgressFunc) error
}

// LetterRunner runs deferred AI work on the openai-tasks lane.
type LetterRunner interface {
	GenerateCoverLetter(ctx domain.Context, identifier string) error
}

// Guard admits or refuses new work under heap pressure. The memguard
// governor implements it.
type Guard interface {
	Admit() error
	RecordJob(d time.Duration, failed bool)
}

// HandlerDeps binds the queue lanes to the services that do the work.
// Guard gates the CV lane only; the other lanes carry no document bytes.
type HandlerDeps struct {
	CV       CVRunner
	Apps     FanoutRunner
	Letters  LetterRunner
	Guard    Guard
	Progress *ProgressStore
	Log      *slog.Logger
}

// NewHandlers builds the task processors the worker mux routes to.
func NewHandlers(d HandlerDeps) Handlers {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return Handlers{
		CVProcess:       d.handleCVProcess,
		ApplicationSend: d.handleApplicationSend,
		AIRun:           d.handleAIRun,
	}
}

// handleCVProcess runs the CV pipeline for one uploaded document. Validation
// failures are terminal: the user already got a corrective message, and a
// retry would re-send it against the same bytes.
func (d HandlerDeps) handleCVProcess(ctx context.Context, t *asynq.Task) error {
	id := taskID(ctx)
	if err := d.Guard.Admit(); err != nil {
		return fmt.Errorf("op=worker.cv task=%s: %w", id, err)
	}

	var p domain.CVTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		derr := fmt.Errorf("op=worker.cv task=%s decode: %v: %w", id, err, asynq.SkipRetry)
		d.finish(ctx, id, derr)
		return derr
	}

	start := time.Now()
	err := d.CV.Process(ctx, id, p, d.mirror(ctx, id))
	d.Guard.RecordJob(time.Since(start), err != nil)
	if err != nil {
		if errors.Is(err, domain.ErrCVValidation) {
			err = fmt.Errorf("op=worker.cv task=%s: %w: %w", id, err, asynq.SkipRetry)
		} else {
			err = fmt.Errorf("op=worker.cv task=%s: %w", id, err)
		}
		d.finish(ctx, id, err)
		return err
	}
	d.finish(ctx, id, nil)
	return nil
}

// handleApplicationSend fans one paid batch out to recruiters. A CV that no
// longer validates or a stored file that is gone will not heal on retry.
func (d HandlerDeps) handleApplicationSend(ctx context.Context, t *asynq.Task) error {
	id := taskID(ctx)

	var p domain.ApplicationTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		derr := fmt.Errorf("op=worker.applications task=%s decode: %v: %w", id, err, asynq.SkipRetry)
		d.finish(ctx, id, derr)
		return derr
	}

	err := d.Apps.Fanout(ctx, id, p, d.mirror(ctx, id))
	if err != nil {
		if errors.Is(err, domain.ErrCVValidation) || errors.Is(err, domain.ErrNotFound) {
			err = fmt.Errorf("op=worker.applications task=%s batch=%s: %w: %w", id, p.BatchID, err, asynq.SkipRetry)
		} else {
			err = fmt.Errorf("op=worker.applications task=%s batch=%s: %w", id, p.BatchID, err)
		}
		d.finish(ctx, id, err)
		return err
	}
	d.finish(ctx, id, nil)
	return nil
}

func (d HandlerDeps) handleAIRun(ctx context.Context, t *asynq.Task) error {
	id := taskID(ctx)

	var p domain.AITaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		derr := fmt.Errorf("op=worker.ai task=%s decode: %v: %w", id, err, asynq.SkipRetry)
		d.finish(ctx, id, derr)
		return derr
	}

	var err error
	switch p.Kind {
	case domain.AITaskCoverLetter:
		err = d.Letters.GenerateCoverLetter(ctx, p.Identifier)
	default:
		err = fmt.Errorf("unknown kind %q: %w", p.Kind, asynq.SkipRetry)
	}
	if err != nil {
		err = fmt.Errorf("op=worker.ai task=%s kind=%s: %w", id, p.Kind, err)
		d.finish(ctx, id, err)
		return err
	}
	d.finish(ctx, id, nil)
	return nil
}

// mirror adapts the progress store to the pipeline callback. A missed tick
// must never fail the task.
func (d HandlerDeps) mirror(ctx context.Context, taskID string) usecase.ProgressFunc {
	return func(percent int, note string) {
		if err := d.Progress.SetProgress(ctx, taskID, percent, note); err != nil {
			d.Log.Warn("progress mirror failed", slog.String("task_id", taskID), slog.Any("error", err))
		}
	}
}

// taskResult is the terminal payload short-lived HTTP pollers read.
type taskResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// finish mirrors the terminal outcome. Retryable failures with attempts left
// are not terminal; the next attempt overwrites the progress trail instead.
func (d HandlerDeps) finish(ctx context.Context, taskID string, err error) {
	if err != nil && !errors.Is(err, asynq.SkipRetry) && !lastAttempt(ctx) {
		return
	}
	res := taskResult{Status: "completed"}
	if err != nil {
		res.Status = "failed"
		res.Error = err.Error()
	}

	// the mirror must land even when the task context is already dead
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if serr := d.Progress.SetResult(wctx, taskID, res); serr != nil {
		d.Log.Warn("result mirror failed", slog.String("task_id", taskID), slog.Any("error", serr))
	}
}

func taskID(ctx context.Context) string {
	id, _ := asynq.GetTaskID(ctx)
	return id
}

func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
